package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRequest is a market order derived from a trade decision.
type OrderRequest struct {
	Token    uint32
	Symbol   string
	Exchange Exchange
	Side     OrderSide
	Product  ProductType
	Quantity int
	Tag      string
}

// OrderResult is the broker acknowledgement for a placed order.
type OrderResult struct {
	OrderID  string
	Status   string
	PlacedAt time.Time
}
