// Command strategyd runs the intraday options strategy against Zerodha Kite.
package main

import (
	"fmt"
	"os"
	"strings"

	"zerodha-strategy/internal/cli"
	"zerodha-strategy/internal/config"
	"zerodha-strategy/internal/logging"
)

func main() {
	cfg, err := config.Load(configDir(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(cli.LogConfig(cfg.Logging))

	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		logger.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configDir finds --config before cobra parses flags, since the config
// must be loaded to build the command tree.
func configDir(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
