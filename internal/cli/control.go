package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"zerodha-strategy/internal/cache"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/pkg/utils"
)

// apiClient talks to the operator API of a running instance.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewBrokerError("API_UNREACHABLE", "is 'strategyd run' running with the API enabled?", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error.Code == "" {
			body.Error.Code = resp.Status
		}
		return apperrors.NewBrokerError(body.Error.Code, body.Error.Message, nil)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Status(ctx context.Context) (models.Status, error) {
	var st models.Status
	err := c.do(ctx, http.MethodGet, "/status", &st)
	return st, err
}

func (c *apiClient) Halt(ctx context.Context) (models.Status, error) {
	var st models.Status
	err := c.do(ctx, http.MethodPost, "/halt", &st)
	return st, err
}

func (c *apiClient) Resume(ctx context.Context) (models.Status, error) {
	var st models.Status
	err := c.do(ctx, http.MethodPost, "/resume", &st)
	return st, err
}

func addControlCommands(rootCmd *cobra.Command, app *App) {
	status := &cobra.Command{
		Use:   "status",
		Short: "Show halt state, day P&L and open positions of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			var st models.Status
			var err error
			if fromCache, _ := cmd.Flags().GetBool("cache"); fromCache {
				pub := cache.NewStatusPublisher(cache.NewClient(app.Config.Cache), app.Config.Cache, app.Logger)
				defer pub.Close()
				st, err = pub.Latest(ctx)
			} else {
				st, err = newAPIClient(app.Config.API.Addr).Status(ctx)
			}
			if err != nil {
				return err
			}
			return renderStatus(output, st)
		},
	}
	status.Flags().Bool("cache", false, "read the last snapshot from Redis instead of the API")
	rootCmd.AddCommand(status)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "halt",
		Short: "Stop new entries on a running instance",
		Long:  "Halt blocks new entries. Open positions keep being managed by their stop loss and target.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(app.Config.API.Addr).Halt(cmd.Context())
			if err != nil {
				return err
			}
			return renderStatus(NewOutput(cmd), st)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Clear a manual halt on a running instance",
		Long:  "Resume clears a manual halt. A halt caused by the daily loss limit stays in force until the next trading day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(app.Config.API.Addr).Resume(cmd.Context())
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if err := renderStatus(output, st); err != nil {
				return err
			}
			if st.Halted && !output.IsStructured() {
				output.Warning("Still halted: %s", st.HaltReason)
			}
			return nil
		},
	})
}

func renderStatus(output *Output, st models.Status) error {
	if output.IsStructured() {
		return output.Render(st)
	}

	state := output.Green("TRADING")
	if st.Halted {
		state = output.Red(fmt.Sprintf("HALTED (%s)", st.HaltReason))
	}
	output.Printf("State:    %s\n", state)
	output.Printf("Day P&L:  %s\n", output.FormatPnL(st.DailyPnL))
	if !st.AsOf.IsZero() {
		output.Printf("As of:    %s\n", st.AsOf.In(utils.IndiaLocation).Format("2006-01-02 15:04:05 MST"))
	}
	output.Println()

	if len(st.Positions) == 0 {
		output.Dim("No open positions")
		return nil
	}
	renderPositions(output, st.Positions)
	return nil
}

func renderPositions(output *Output, ps []models.PositionStatus) {
	table := NewTable(output, "SYMBOL", "TYPE", "QTY", "ENTRY", "LTP", "SL", "TARGET", "P&L")
	for _, p := range ps {
		table.AddRow(
			p.Symbol,
			string(p.OptionType),
			utils.FormatQuantity(p.Quantity),
			utils.FormatPrice(p.EntryPrice),
			utils.FormatPrice(p.LTP),
			utils.FormatPrice(p.StopLoss),
			utils.FormatPrice(p.TakeProfit),
			output.FormatPnL(p.UnrealizedPnL),
		)
	}
	table.Render()
}
