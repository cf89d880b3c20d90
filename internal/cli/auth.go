package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"zerodha-strategy/internal/broker"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Kite Connect session",
		Long: `Kite sessions expire every morning at 06:00 IST. Log in once per day:

  1. strategyd auth login-url        open the printed URL and log in
  2. strategyd auth session <url>    paste the redirect URL (or just the request_token)

The session is saved next to the config files and reused by 'run'.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "login-url",
		Short: "Print the Kite login URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			url := zb.GetLoginURL()
			if output.IsStructured() {
				return output.Render(map[string]string{"login_url": url})
			}
			output.Info("Open this URL and log in:")
			output.Println(url)
			output.Println()
			output.Dim("Then run: strategyd auth session '<redirect url>'")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "session <request_token|redirect_url>",
		Short: "Exchange a request token for an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			token, err := broker.RequestToken(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := zb.CompleteLogin(ctx, token); err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Render(map[string]bool{"authenticated": true})
			}
			output.Success("✓ Session saved")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "totp",
		Short: "Print the current 2FA code from credentials.totp_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := broker.TOTPCode(app.Config.Credentials.Zerodha.TOTPSecret, time.Now())
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			remaining := 30 - time.Now().Unix()%30
			if output.IsStructured() {
				return output.Render(map[string]any{"code": code, "valid_for_seconds": remaining})
			}
			output.Bold("%s", code)
			output.Dim("valid for %ds", remaining)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a valid session is saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			ok := zb.IsAuthenticated()
			if output.IsStructured() {
				return output.Render(map[string]bool{"authenticated": ok})
			}
			if ok {
				output.Success("✓ Authenticated")
			} else {
				output.Warning("Not authenticated or session expired")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Invalidate the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			zb, err := app.Broker()
			if err != nil {
				return err
			}
			if err := zb.Logout(cmd.Context()); err != nil {
				return err
			}
			NewOutput(cmd).Success("✓ Logged out")
			return nil
		},
	})

	return cmd
}
