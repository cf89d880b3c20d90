package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/analysis/levels"
	"zerodha-strategy/internal/candles"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/logging"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/signals"
	"zerodha-strategy/internal/trading"
	"zerodha-strategy/pkg/utils"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay cached candles through the strategy",
		Long: `Backtest replays candles from the local cache (see 'backfill') through the
same entry, exit and risk rules 'run' uses, on a simulated clock. No orders
are placed and nothing is journaled.`,
		Example: `  strategyd backtest --days 5
  strategyd backtest --end 2024-03-13 --capital 250000 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			cfg := app.Config

			if len(cfg.Trading.Instruments) == 0 {
				return apperrors.NewValidationError("trading.instruments", 0, "no instruments configured", apperrors.ErrConfigInvalid)
			}
			capital, _ := cmd.Flags().GetFloat64("capital")
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = tradingConfig(cfg).HistoryDays
			}
			endDay, _ := cmd.Flags().GetString("end")
			from, to, err := backtestWindow(endDay, days, time.Now())
			if err != nil {
				return err
			}

			db, err := app.Store()
			if err != nil {
				return err
			}

			var lvl *levels.Detector
			if lc := levelConfig(cfg); lc != nil {
				lvl = levels.NewDetector(*lc)
			}
			bt, err := trading.NewBacktest(trading.Deps{
				Config:     tradingConfig(cfg),
				Logger:     logging.WithComponent(app.Logger, "backtest"),
				Aggregator: candles.New(cfg.CandleInterval(), cfg.Strategy.MaxCandlesToKeep),
				Indicators: indicators.NewEngine(indicatorParams(cfg)),
				Levels:     lvl,
				Signals:    signals.NewEngine(signalConfig(cfg)),
			}, riskConfig(cfg), capital)
			if err != nil {
				return err
			}

			data := make(map[uint32][]models.Candle)
			for _, r := range registrations(cfg, db) {
				bt.Register(r.Instrument, r.OptionType, r.Quantity)
				cs, err := db.GetCandles(ctx, r.Instrument.Token, cfg.CandleInterval(), from, to)
				if err != nil {
					return err
				}
				data[r.Instrument.Token] = cs
			}

			res, err := bt.Run(ctx, data)
			if apperrors.Is(err, apperrors.ErrUpstreamData) {
				return apperrors.Wrap(err, "run 'strategyd backfill' to populate the candle cache")
			}
			if err != nil {
				return err
			}

			if output.IsStructured() {
				return output.Render(res)
			}

			output.Bold("Backtest %s to %s", from.Format("2006-01-02"), to.Add(-time.Nanosecond).Format("2006-01-02"))
			table := NewTable(output, "METRIC", "VALUE")
			table.AddRow("Candles", fmt.Sprint(res.Candles))
			table.AddRow("Trades", fmt.Sprintf("%d (%d won, %d lost)", res.Trades, res.Wins, res.Losses))
			table.AddRow("Win rate", fmt.Sprintf("%.1f%%", res.WinRate))
			table.AddRow("Net P&L", output.FormatPnL(res.NetPnL))
			table.AddRow("Return", utils.FormatPercent(res.TotalReturn))
			table.AddRow("Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown))
			table.AddRow("Sharpe", fmt.Sprintf("%.2f", res.SharpeRatio))
			table.AddRow("Profit factor", fmt.Sprintf("%.2f", res.ProfitFactor))
			table.AddRow("Largest win", utils.FormatPnL(res.LargestWin))
			table.AddRow("Largest loss", utils.FormatPnL(res.LargestLoss))
			if res.Anomalies > 0 {
				table.AddRow("Anomalies", output.Yellow(fmt.Sprint(res.Anomalies)))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "trading days to replay, ending with --end (default trading.history_days)")
	cmd.Flags().String("end", "", "last day to replay, YYYY-MM-DD in IST (default today)")
	cmd.Flags().Float64("capital", 100000, "starting capital for returns and drawdown")
	return cmd
}

// backtestWindow covers the days calendar days ending with endDay, as a
// half-open IST range.
func backtestWindow(endDay string, days int, now time.Time) (time.Time, time.Time, error) {
	var last time.Time
	if endDay == "" {
		n := now.In(utils.IndiaLocation)
		last = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, utils.IndiaLocation)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", endDay, utils.IndiaLocation)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.NewValidationError("end", endDay, "expected YYYY-MM-DD", err)
		}
		last = parsed
	}
	to := last.AddDate(0, 0, 1)
	return to.AddDate(0, 0, -days), to, nil
}
