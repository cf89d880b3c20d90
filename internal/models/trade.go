package models

import "time"

// Position is an open position on one instrument.
type Position struct {
	Token      uint32     `json:"instrument_token"`
	Symbol     string     `json:"symbol"`
	OptionType OptionType `json:"option_type"`
	Quantity   int        `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	EntryTime  time.Time  `json:"entry_time"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Exchange   Exchange   `json:"exchange"`
	Segment    string     `json:"exchange_segment"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Reason     string     `json:"reason"`
}

// UnrealizedPnL returns the mark-to-market P&L at price ltp.
func (p Position) UnrealizedPnL(ltp float64) float64 {
	return (ltp - p.EntryPrice) * float64(p.Quantity) * p.OptionType.Sign()
}

// TradeAction is the side of a strategy decision.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// TradeEvent is emitted once per BUY or SELL decision.
type TradeEvent struct {
	ID          string      `json:"id"`
	Token       uint32      `json:"instrument_token"`
	Symbol      string      `json:"symbol"`
	OptionType  OptionType  `json:"option_type"`
	Action      TradeAction `json:"action"`
	Price       float64     `json:"price"`
	Quantity    int         `json:"quantity"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	RealizedPnL *float64    `json:"realized_pnl,omitempty"`
	Reason      string      `json:"reason"`
	DailyPnL    float64     `json:"daily_pnl"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Anomaly is a non-fatal condition worth surfacing to the operator.
type Anomaly struct {
	Token     uint32    `json:"instrument_token"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionStatus is an open position marked to the last traded price.
type PositionStatus struct {
	Position
	LTP           float64 `json:"ltp"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Status is the operator view of the engine.
type Status struct {
	Halted     bool             `json:"halted"`
	HaltReason string           `json:"halt_reason,omitempty"`
	DailyPnL   float64          `json:"daily_pnl"`
	Positions  []PositionStatus `json:"positions"`
	AsOf       time.Time        `json:"as_of"`
}

// JournalEntry is a persisted trade decision.
type JournalEntry struct {
	ID    string     `json:"id"`
	Event TradeEvent `json:"event"`
}
