package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/config"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	sets    int
	failSet error
	pingErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.failSet != nil {
		return goredis.NewStatusResult("", f.failSet)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

func testStatus() models.Status {
	return models.Status{
		Halted:     true,
		HaltReason: "limit",
		DailyPnL:   -5200,
		Positions: []models.PositionStatus{{
			Position:      models.Position{Token: 9, Symbol: "OPT", OptionType: models.OptionPE, Quantity: 50, EntryPrice: 100},
			LTP:           96,
			UnrealizedPnL: 200,
		}},
		AsOf: time.Date(2024, 3, 13, 11, 0, 0, 0, time.UTC),
	}
}

func TestStatusPublisher_PublishAndLatest(t *testing.T) {
	rdb := newFakeRedis()
	p := NewStatusPublisher(rdb, config.CacheConfig{Key: "k", TTL: time.Minute}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.Publish(ctx, testStatus()))
	assert.Equal(t, time.Minute, rdb.ttls["k"])

	got, err := p.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, testStatus(), got)
}

func TestStatusPublisher_Errors(t *testing.T) {
	rdb := newFakeRedis()
	p := NewStatusPublisher(rdb, config.CacheConfig{}, zerolog.Nop())
	ctx := context.Background()

	_, err := p.Latest(ctx)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamData)

	rdb.values["zerodha-strategy:status"] = "{not json"
	_, err = p.Latest(ctx)
	var derr *apperrors.DataError
	assert.ErrorAs(t, err, &derr)

	rdb.failSet = errors.New("READONLY")
	err = p.Publish(ctx, testStatus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")

	rdb.pingErr = errors.New("connection refused")
	assert.Error(t, p.Ping(ctx))
}

func TestStatusPublisher_RunPublishesUntilCancelled(t *testing.T) {
	rdb := newFakeRedis()
	p := NewStatusPublisher(rdb, config.CacheConfig{Key: "k", Interval: 5 * time.Millisecond}, zerolog.Nop())

	var mu sync.Mutex
	pnl := 0.0
	status := func() models.Status {
		mu.Lock()
		defer mu.Unlock()
		pnl--
		return models.Status{DailyPnL: pnl}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, status)
		close(done)
	}()

	require.Eventually(t, func() bool { return rdb.setCount() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	sets := rdb.setCount()
	got, err := p.Latest(context.Background())
	require.NoError(t, err)
	// The final snapshot is written on shutdown.
	assert.Equal(t, float64(-sets), got.DailyPnL)
}
