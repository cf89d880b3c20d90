package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/pkg/utils"
)

// RefreshConfig bounds how hard a refresh hits the historical API.
type RefreshConfig struct {
	// Concurrency is the number of fetches in flight at once.
	Concurrency int
	// Delay is the minimum spacing between the start of two fetches.
	Delay time.Duration
	Retry utils.RetryConfig
}

// DefaultRefreshConfig keeps under the Kite historical rate limit of
// three requests a second.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Concurrency: 3,
		Delay:       350 * time.Millisecond,
		Retry:       utils.DefaultRetryConfig(),
	}
}

// RefreshResult is the outcome for one instrument.
type RefreshResult struct {
	Token   uint32
	Candles []models.Candle
	Err     error
}

// Refresher loads candle history for many instruments with bounded
// concurrency. A failure for one instrument never aborts the others.
type Refresher struct {
	src         HistoricalSource
	limiter     *rate.Limiter
	concurrency int
	retry       utils.RetryConfig
	logger      zerolog.Logger
}

// NewRefresher creates a refresher over src.
func NewRefresher(src HistoricalSource, cfg RefreshConfig, logger zerolog.Logger) *Refresher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	retry := cfg.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = retryableFetchError
	}

	return &Refresher{
		src:         src,
		limiter:     rate.NewLimiter(limit, 1),
		concurrency: concurrency,
		retry:       retry,
		logger:      logger,
	}
}

// Refresh fetches [from, to] candles for every token. Results are returned
// in the order of tokens.
func (r *Refresher) Refresh(ctx context.Context, tokens []uint32, interval time.Duration, from, to time.Time) []RefreshResult {
	results := make([]RefreshResult, len(tokens))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			results[i] = r.fetch(ctx, token, interval, from, to)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Refresher) fetch(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) RefreshResult {
	candles, err := utils.RetryWithResult(ctx, r.retry, func() ([]models.Candle, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return r.src.GetHistorical(ctx, token, interval, from, to)
	})
	if err != nil {
		r.logger.Warn().Err(err).Uint32("token", token).Msg("historical refresh failed")
		return RefreshResult{
			Token: token,
			Err: apperrors.NewDataError("candles", strconv.FormatUint(uint64(token), 10), "historical fetch failed",
				fmt.Errorf("%w: %w", apperrors.ErrUpstreamData, err)),
		}
	}

	r.logger.Debug().Uint32("token", token).Int("candles", len(candles)).Msg("historical refresh complete")
	return RefreshResult{Token: token, Candles: candles}
}

// retryableFetchError excludes failures another attempt cannot fix.
func retryableFetchError(err error) bool {
	switch {
	case apperrors.Is(err, apperrors.ErrNotAuthenticated),
		apperrors.Is(err, apperrors.ErrConfigInvalid),
		apperrors.Is(err, context.Canceled),
		apperrors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
