package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zerodha-strategy/internal/broker"
	"zerodha-strategy/internal/candles"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/logging"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/store"
	"zerodha-strategy/pkg/utils"
)

func newBackfillCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch candle history and the instrument catalog into the local cache",
		Long: `Backfill pulls historical candles for every configured instrument into the
SQLite candle cache so 'run' can seed indicators without hitting the
historical API. With --instruments it also refreshes the exchange catalog
used to reconcile persisted positions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			cfg := app.Config

			zb, err := app.Broker()
			if err != nil {
				return err
			}
			if !zb.IsAuthenticated() {
				return apperrors.Wrap(apperrors.ErrNotAuthenticated, "run 'strategyd auth login-url' first")
			}
			db, err := app.Store()
			if err != nil {
				return err
			}

			if withCatalog, _ := cmd.Flags().GetBool("instruments"); withCatalog {
				n, err := syncInstruments(cmd, zb, db, models.Exchange(cfg.Trading.Exchange))
				if err != nil {
					return err
				}
				if !output.IsStructured() {
					output.Success("✓ Saved %d %s instruments", n, cfg.Trading.Exchange)
				}
			}

			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = tradingConfig(cfg).HistoryDays
			}
			tokens := make([]uint32, 0, len(cfg.Trading.Instruments))
			for _, inst := range cfg.Trading.Instruments {
				tokens = append(tokens, inst.Token)
			}

			// A zero max age forces every fetch through to Kite.
			cached := store.NewCachedHistory(db, 0, app.Logger)
			refresher := broker.NewRefresher(cached.Source(zb.GetHistorical), broker.DefaultRefreshConfig(),
				logging.WithComponent(app.Logger, "refresh"))

			// The bucket still forming is left to the live aggregator.
			to := candles.Align(time.Now(), cfg.CandleInterval(), utils.IndiaLocation)
			results := refresher.Refresh(ctx, tokens, cfg.CandleInterval(), to.AddDate(0, 0, -days), to)

			type row struct {
				Token   uint32 `json:"instrument_token"`
				Candles int    `json:"candles"`
				Error   string `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(results))
			var failed int
			for _, r := range results {
				rr := row{Token: r.Token, Candles: len(r.Candles)}
				if r.Err != nil {
					rr.Error = r.Err.Error()
					failed++
				}
				rows = append(rows, rr)
			}

			if output.IsStructured() {
				if err := output.Render(rows); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "TOKEN", "CANDLES", "ERROR")
				for _, r := range rows {
					table.AddRow(fmt.Sprint(r.Token), fmt.Sprint(r.Candles), output.Red(r.Error))
				}
				table.Render()
			}

			if failed > 0 && failed == len(results) {
				return apperrors.NewDataError("candles", "", "backfill failed for every instrument", apperrors.ErrUpstreamData)
			}
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "days of history (default trading.history_days)")
	cmd.Flags().Bool("instruments", false, "also refresh the instrument catalog")
	return cmd
}

func syncInstruments(cmd *cobra.Command, src broker.InstrumentSource, db *store.SQLiteStore, exchange models.Exchange) (int, error) {
	instruments, err := src.GetInstruments(cmd.Context(), exchange)
	if err != nil {
		return 0, err
	}
	if err := db.SaveInstruments(cmd.Context(), instruments); err != nil {
		return 0, err
	}
	if err := db.SetLastSync(string(store.SyncTypeInstruments), time.Now()); err != nil {
		return 0, err
	}
	return len(instruments), nil
}
