package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

// PaperPlacer fills every market order immediately without touching the
// exchange. Orders are kept in memory for inspection.
type PaperPlacer struct {
	logger       zerolog.Logger
	orders       []PaperOrder
	orderCounter int
	now          func() time.Time

	mu sync.Mutex
}

// PaperOrder is a simulated fill.
type PaperOrder struct {
	OrderID string
	Request models.OrderRequest
	FilledAt time.Time
}

// NewPaperPlacer creates a paper order placer.
func NewPaperPlacer(logger zerolog.Logger) *PaperPlacer {
	return &PaperPlacer{
		logger: logger,
		now:    time.Now,
	}
}

// PlaceMarket simulates a market order fill.
func (p *PaperPlacer) PlaceMarket(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderResult{}, err
	}
	if req.Quantity <= 0 {
		return models.OrderResult{}, apperrors.NewOrderError(req.Symbol, string(req.Side), "quantity must be positive", apperrors.ErrInvalidQuantity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	filledAt := p.now()
	orderID := fmt.Sprintf("PAPER_%d_%d", filledAt.Unix(), p.orderCounter)

	p.orders = append(p.orders, PaperOrder{OrderID: orderID, Request: req, FilledAt: filledAt})

	p.logger.Info().
		Str("order_id", orderID).
		Str("symbol", req.Symbol).
		Uint32("token", req.Token).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Msg("paper order filled")

	return models.OrderResult{
		OrderID:  orderID,
		Status:   "COMPLETE",
		PlacedAt: filledAt,
	}, nil
}

// Orders returns a copy of the simulated fills in placement order.
func (p *PaperPlacer) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

var _ OrderPlacer = (*PaperPlacer)(nil)
