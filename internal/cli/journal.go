package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/internal/positions"
	"zerodha-strategy/internal/store"
	"zerodha-strategy/pkg/utils"
)

// journalSummary aggregates closed trades.
type journalSummary struct {
	Entries     int     `json:"entries"`
	Exits       int     `json:"exits"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
}

func summarize(entries []models.JournalEntry) journalSummary {
	s := journalSummary{Entries: len(entries)}
	for _, e := range entries {
		if e.Event.Action != models.ActionSell || e.Event.RealizedPnL == nil {
			continue
		}
		pnl := *e.Event.RealizedPnL
		s.Exits++
		s.RealizedPnL += pnl
		if pnl > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}

// journalFilter builds the query for a trading day in IST. An empty day
// means today; "all" drops the date bound.
func journalFilter(day string, now time.Time) (store.TradeFilter, error) {
	var f store.TradeFilter
	if day == "all" {
		return f, nil
	}

	var start time.Time
	if day == "" {
		n := now.In(utils.IndiaLocation)
		start = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, utils.IndiaLocation)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", day, utils.IndiaLocation)
		if err != nil {
			return f, apperrors.NewValidationError("date", day, "expected YYYY-MM-DD or 'all'", err)
		}
		start = parsed
	}
	f.StartDate = start
	f.EndDate = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return f, nil
}

func newJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show journaled BUY and SELL decisions",
		Example: `  strategyd journal
  strategyd journal --date 2024-03-13 --action SELL
  strategyd journal --date all --token 12345 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			day, _ := cmd.Flags().GetString("date")
			filter, err := journalFilter(day, time.Now())
			if err != nil {
				return err
			}
			filter.Token, _ = cmd.Flags().GetUint32("token")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if action, _ := cmd.Flags().GetString("action"); action != "" {
				filter.Action = models.TradeAction(strings.ToUpper(action))
				if filter.Action != models.ActionBuy && filter.Action != models.ActionSell {
					return apperrors.NewValidationError("action", action, "must be BUY or SELL", nil)
				}
			}

			db, err := app.Store()
			if err != nil {
				return err
			}
			entries, err := db.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []models.JournalEntry{}
			}

			summary := summarize(entries)
			if output.IsStructured() {
				return output.Render(map[string]any{"trades": entries, "summary": summary})
			}

			if len(entries) == 0 {
				output.Info("No trades recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "ACTION", "QTY", "PRICE", "SL", "TARGET", "P&L", "REASON")
			for _, e := range entries {
				ev := e.Event
				pnl := ""
				if ev.RealizedPnL != nil {
					pnl = output.FormatPnL(*ev.RealizedPnL)
				}
				action := output.Green(string(ev.Action))
				if ev.Action == models.ActionSell {
					action = output.Red(string(ev.Action))
				}
				table.AddRow(
					ev.Timestamp.In(utils.IndiaLocation).Format("01-02 15:04:05"),
					ev.Symbol,
					action,
					utils.FormatQuantity(ev.Quantity),
					utils.FormatPrice(ev.Price),
					utils.FormatPrice(ev.StopLoss),
					utils.FormatPrice(ev.TakeProfit),
					pnl,
					ev.Reason,
				)
			}
			table.Render()

			output.Println()
			output.Printf("Exits: %d (%d won, %d lost)  Realized: %s\n",
				summary.Exits, summary.Wins, summary.Losses, output.FormatPnL(summary.RealizedPnL))
			return nil
		},
	}
	cmd.Flags().String("date", "", "trading day as YYYY-MM-DD, or 'all' (default today)")
	cmd.Flags().Uint32("token", 0, "only this instrument token")
	cmd.Flags().String("action", "", "only BUY or SELL")
	cmd.Flags().Int("limit", 200, "maximum rows")
	return cmd
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show positions persisted by the last run",
		Long: `Positions reads the position store directly, so it works whether or not
the strategy is running. Use 'strategyd status' for live P&L.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			db, err := app.Store()
			if err != nil {
				return err
			}
			ps := positions.NewStore(positionPersister(app.Config, db))
			if err := ps.Load(cmd.Context(), db); err != nil {
				return err
			}

			open := ps.All()
			if open == nil {
				open = []models.Position{}
			}
			if output.IsStructured() {
				return output.Render(open)
			}
			if len(open) == 0 {
				output.Dim("No open positions")
				return nil
			}

			table := NewTable(output, "SYMBOL", "TYPE", "QTY", "ENTRY", "SL", "TARGET", "SINCE", "REASON")
			for _, p := range open {
				table.AddRow(
					p.Symbol,
					string(p.OptionType),
					utils.FormatQuantity(p.Quantity),
					utils.FormatPrice(p.EntryPrice),
					utils.FormatPrice(p.StopLoss),
					utils.FormatPrice(p.TakeProfit),
					p.EntryTime.In(utils.IndiaLocation).Format("01-02 15:04"),
					p.Reason,
				)
			}
			table.Render()
			return nil
		},
	}
}
