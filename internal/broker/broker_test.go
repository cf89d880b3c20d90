package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/pkg/utils"
)

func TestKiteInterval(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Minute, "minute"},
		{5 * time.Minute, "5minute"},
		{15 * time.Minute, "15minute"},
		{time.Hour, "60minute"},
		{24 * time.Hour, "day"},
	}
	for _, tt := range tests {
		got, err := KiteInterval(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := KiteInterval(7 * time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestSessionExpiryIsNextMorningIST(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, utils.IndiaLocation)
	exp := sessionExpiry(now)
	assert.Equal(t, time.Date(2024, 3, 14, 6, 0, 0, 0, utils.IndiaLocation), exp)
}

func TestRequestToken(t *testing.T) {
	tok, err := RequestToken("  abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	tok, err = RequestToken("https://example.com/cb?action=login&status=success&request_token=XYZ")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", tok)

	_, err = RequestToken("https://example.com/cb?status=error&request_token=XYZ")
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	_, err = RequestToken("")
	assert.Error(t, err)
}

func TestTOTPCodeValidates(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	now := time.Now()

	code, err := TOTPCode("jbsw y3dp ehpk 3pxp", now)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, totp.Validate(code, secret))

	_, err = TOTPCode("", now)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestPaperPlacerFillsImmediately(t *testing.T) {
	p := NewPaperPlacer(zerolog.Nop())

	res, err := p.PlaceMarket(context.Background(), models.OrderRequest{
		Token: 1, Symbol: "NIFTY24MAR22000CE", Side: models.OrderSideBuy, Quantity: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", res.Status)
	assert.NotEmpty(t, res.OrderID)

	_, err = p.PlaceMarket(context.Background(), models.OrderRequest{Symbol: "X", Side: models.OrderSideSell})
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuantity)

	orders := p.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, res.OrderID, orders[0].OrderID)
	assert.Equal(t, 50, orders[0].Request.Quantity)
}

type fakeHistory struct {
	mu       sync.Mutex
	calls    map[uint32]int
	failures map[uint32]int // remaining failures per token
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeHistory) GetHistorical(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[token]++
	if f.failures[token] > 0 {
		f.failures[token]--
		return nil, errors.New("upstream 503")
	}
	return []models.Candle{{Timestamp: from, Open: 1, High: 2, Low: 1, Close: 2, Volume: int64(token)}}, nil
}

func TestRefresherIsolatesFailures(t *testing.T) {
	src := &fakeHistory{
		calls:    map[uint32]int{},
		failures: map[uint32]int{2: 1, 3: 100},
	}
	r := NewRefresher(src, RefreshConfig{
		Concurrency: 2,
		Retry:       utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 1},
	}, zerolog.Nop())

	from := time.Date(2024, 3, 13, 3, 45, 0, 0, time.UTC)
	results := r.Refresh(context.Background(), []uint32{1, 2, 3, 4}, 5*time.Minute, from, from.Add(time.Hour))
	require.Len(t, results, 4)

	for i, tok := range []uint32{1, 2, 3, 4} {
		assert.Equal(t, tok, results[i].Token)
	}
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err, "one transient failure is retried")
	assert.ErrorIs(t, results[2].Err, apperrors.ErrUpstreamData)
	assert.Empty(t, results[2].Candles)
	assert.NoError(t, results[3].Err)
	assert.Equal(t, int64(4), results[3].Candles[0].Volume)

	assert.Equal(t, 2, src.calls[3])
	assert.LessOrEqual(t, src.maxSeen.Load(), int32(2))
}

func TestRefresherDoesNotRetryAuthErrors(t *testing.T) {
	calls := 0
	src := historyFunc(func(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
		calls++
		return nil, apperrors.ErrNotAuthenticated
	})
	r := NewRefresher(src, RefreshConfig{Concurrency: 1, Retry: utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}}, zerolog.Nop())

	results := r.Refresh(context.Background(), []uint32{9}, time.Minute, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, results[0].Err, apperrors.ErrNotAuthenticated)
	assert.Equal(t, 1, calls)
}

type historyFunc func(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error)

func (f historyFunc) GetHistorical(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
	return f(ctx, token, interval, from, to)
}

type fakeTicker struct {
	onTick func(models.Tick)
}

func (f *fakeTicker) Connect(ctx context.Context) error              { return nil }
func (f *fakeTicker) Disconnect() error                              { return nil }
func (f *fakeTicker) Subscribe(tokens []uint32, mode TickMode) error { return nil }
func (f *fakeTicker) RegisterSymbol(symbol string, token uint32)     {}
func (f *fakeTicker) OnTick(handler func(models.Tick))               { f.onTick = handler }
func (f *fakeTicker) OnError(handler func(error))                    {}
func (f *fakeTicker) OnConnect(handler func())                       {}
func (f *fakeTicker) OnDisconnect(handler func())                    {}

func TestTickStreamPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ft := &fakeTicker{}
	ch := TickStream(ctx, ft, 1)

	go func() {
		for i := 1; i <= 50; i++ {
			ft.onTick(models.Tick{Token: 7, LTP: float64(i)})
		}
	}()

	for i := 1; i <= 50; i++ {
		select {
		case tick := <-ch:
			assert.Equal(t, float64(i), tick.LTP)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for tick %d", i)
		}
	}
}

func TestTickStreamDropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ft := &fakeTicker{}
	_ = TickStream(ctx, ft, 0)
	cancel()

	done := make(chan struct{})
	go func() {
		ft.onTick(models.Tick{Token: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick callback blocked after cancel")
	}
}
