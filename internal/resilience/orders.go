package resilience

import (
	"context"

	"github.com/rs/zerolog"

	"zerodha-strategy/internal/broker"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

// GuardedPlacer wraps an OrderPlacer with a Breaker. Once Kite rejects
// enough orders in a row, further orders fail fast with an OrderError until
// the cool-off passes.
type GuardedPlacer struct {
	next    broker.OrderPlacer
	breaker *Breaker
	logger  zerolog.Logger
}

var _ broker.OrderPlacer = (*GuardedPlacer)(nil)

// NewGuardedPlacer creates a guarded placer.
func NewGuardedPlacer(next broker.OrderPlacer, b *Breaker, logger zerolog.Logger) *GuardedPlacer {
	return &GuardedPlacer{next: next, breaker: b, logger: logger}
}

// PlaceMarket places req through the breaker.
func (g *GuardedPlacer) PlaceMarket(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	before := g.breaker.State()
	res, err := Call(g.breaker, ctx, func(ctx context.Context) (models.OrderResult, error) {
		return g.next.PlaceMarket(ctx, req)
	})
	if after := g.breaker.State(); after != before {
		g.logger.Warn().
			Str("breaker", g.breaker.Name()).
			Str("from", string(before)).
			Str("to", string(after)).
			Msg("order breaker changed state")
	}
	if apperrors.Is(err, ErrOpen) {
		return res, apperrors.NewOrderError(req.Symbol, string(req.Side), "order placement suspended after repeated failures", err)
	}
	return res, err
}

// Breaker returns the underlying breaker.
func (g *GuardedPlacer) Breaker() *Breaker { return g.breaker }
