package trading

import (
	"time"

	"zerodha-strategy/internal/analysis/indicators"
	"zerodha-strategy/internal/models"
)

// InstrumentSeries is the derived state for one registered instrument.
// It is recomputed wholesale at every candle boundary.
type InstrumentSeries struct {
	Instrument models.Instrument
	OptionType models.OptionType
	// Quantity overrides the strategy default when positive.
	Quantity int
	// ExitOnly marks an instrument tracked only to manage a position
	// carried over from a previous session. It is never entered.
	ExitOnly bool

	Snapshot   indicators.Snapshot
	Levels     models.Levels
	Closes     []float64
	ComputedAt time.Time
}

// SeriesView is a read-only copy of an instrument's derived state.
type SeriesView struct {
	Token      uint32              `json:"instrument_token"`
	Symbol     string              `json:"symbol"`
	OptionType models.OptionType   `json:"option_type"`
	ExitOnly   bool                `json:"exit_only,omitempty"`
	Candles    int                 `json:"candles"`
	LTP        float64             `json:"ltp"`
	Snapshot   indicators.Snapshot `json:"indicators"`
	Levels     models.Levels       `json:"levels"`
	ComputedAt time.Time           `json:"computed_at"`
}

// seriesTable keeps registration order alongside a token index.
type seriesTable struct {
	list  []*InstrumentSeries
	index map[uint32]int
}

func newSeriesTable() seriesTable {
	return seriesTable{index: make(map[uint32]int)}
}

func (t *seriesTable) put(s *InstrumentSeries) {
	if i, ok := t.index[s.Instrument.Token]; ok {
		t.list[i] = s
		return
	}
	t.index[s.Instrument.Token] = len(t.list)
	t.list = append(t.list, s)
}

func (t *seriesTable) get(token uint32) (*InstrumentSeries, bool) {
	i, ok := t.index[token]
	if !ok {
		return nil, false
	}
	return t.list[i], true
}

func (t *seriesTable) tokens() []uint32 {
	out := make([]uint32, len(t.list))
	for i, s := range t.list {
		out[i] = s.Instrument.Token
	}
	return out
}
