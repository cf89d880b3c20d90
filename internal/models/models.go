// Package models provides domain models for the strategy engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	BFO Exchange = "BFO"
)

// OptionType is the option leg of an instrument. Empty for an index or underlying.
type OptionType string

const (
	OptionCE   OptionType = "CE"
	OptionPE   OptionType = "PE"
	OptionNone OptionType = ""
)

// IsOption reports whether the type names a tradable option leg.
func (o OptionType) IsOption() bool {
	return o == OptionCE || o == OptionPE
}

// Sign is +1 for CE and -1 for PE. Positions are long premium either way;
// the sign only orients stop/target distances and P&L.
func (o OptionType) Sign() float64 {
	if o == OptionPE {
		return -1
	}
	return 1
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// Candle represents OHLCV data for a time bucket. Timestamp is the bucket start.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Tick is a single market-data event for one instrument.
type Tick struct {
	Token     uint32
	Symbol    string
	LTP       float64
	Volume    int64
	Timestamp time.Time
}

// Instrument represents a tradeable instrument from the broker catalog.
type Instrument struct {
	Token     uint32
	Symbol    string
	Name      string
	Exchange  Exchange
	Segment   string
	LotSize   int
	TickSize  float64
	Expiry    time.Time
	Strike    float64
	InstrType string
}

// OptionType derives the option leg from the catalog instrument type.
func (i Instrument) OptionType() OptionType {
	switch i.InstrType {
	case "CE":
		return OptionCE
	case "PE":
		return OptionPE
	default:
		return OptionNone
	}
}

// LevelKind distinguishes support from resistance.
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// Level is a grouped price zone built from one or more pivots.
type Level struct {
	Price     float64   `json:"price"`
	Kind      LevelKind `json:"kind"`
	Strength  int       `json:"strength"`
	LastTouch time.Time `json:"last_touch"`
}

// Levels holds the current support and resistance sets, each sorted by price.
type Levels struct {
	Supports    []Level `json:"supports"`
	Resistances []Level `json:"resistances"`
}
