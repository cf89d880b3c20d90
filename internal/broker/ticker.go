package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"zerodha-strategy/internal/models"
)

// ZerodhaTicker implements Ticker over the Kite websocket feed. Reconnects
// are handled by the kite ticker; subscriptions are replayed after each one.
type ZerodhaTicker struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string
	logger      zerolog.Logger

	onTick       func(models.Tick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	connected    bool
	subscribed   map[uint32]TickMode
	tokenSymbols map[uint32]string

	maxRetries int
	maxDelay   time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	writeMu sync.Mutex // websocket writes
}

// ZerodhaTickerConfig holds configuration for the ticker.
type ZerodhaTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	MaxDelay    time.Duration
	Logger      zerolog.Logger
}

// NewZerodhaTicker creates a new Zerodha ticker instance.
func NewZerodhaTicker(cfg ZerodhaTickerConfig) *ZerodhaTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 50
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = 30 * time.Second
	}

	return &ZerodhaTicker{
		apiKey:       cfg.APIKey,
		accessToken:  cfg.AccessToken,
		logger:       cfg.Logger,
		subscribed:   make(map[uint32]TickMode),
		tokenSymbols: make(map[uint32]string),
		maxRetries:   maxRetries,
		maxDelay:     maxDelay,
		now:          time.Now,
	}
}

// Connect establishes the websocket connection and serves it until ctx ends.
func (t *ZerodhaTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	t.ticker = kiteticker.New(t.apiKey, t.accessToken)
	t.ticker.SetAutoReconnect(true)
	t.ticker.SetReconnectMaxRetries(t.maxRetries)
	if err := t.ticker.SetReconnectMaxDelay(t.maxDelay); err != nil {
		t.logger.Warn().Err(err).Msg("ticker reconnect delay rejected")
	}

	connectedCh := make(chan struct{}, 1)
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		isFirst := firstConnect
		firstConnect = false
		handler := t.onConnect
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		if !isFirst {
			t.logger.Info().Msg("ticker reconnected, resubscribing")
			t.resubscribe()
			return
		}
		if handler != nil {
			go handler()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		handler := t.onDisconnect
		t.mu.Unlock()

		t.logger.Warn().Int("code", code).Str("reason", reason).Msg("ticker closed")
		if handler != nil && wasConnected {
			go handler()
		}
	})

	t.ticker.OnError(func(err error) {
		t.mu.RLock()
		handler := t.onError
		t.mu.RUnlock()
		if handler != nil {
			handler(err)
		}
	})

	t.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		t.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("ticker reconnecting")
	})

	t.ticker.OnNoReconnect(func(attempt int) {
		t.mu.RLock()
		handler := t.onError
		t.mu.RUnlock()
		if handler != nil {
			handler(fmt.Errorf("ticker gave up after %d reconnect attempts", attempt))
		}
	})

	// Ticks are delivered synchronously so per-instrument order is preserved.
	t.ticker.OnTick(func(tick kitemodels.Tick) {
		t.mu.RLock()
		handler := t.onTick
		t.mu.RUnlock()
		if handler != nil {
			handler(t.convertTick(tick))
		}
	})

	t.mu.Unlock()

	go t.ticker.ServeWithContext(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("connection timeout")
	}
}

// Disconnect closes the websocket connection.
func (t *ZerodhaTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ticker != nil {
		t.ticker.Stop()
		t.connected = false
	}
	return nil
}

// Subscribe subscribes to tokens with the specified mode.
func (t *ZerodhaTicker) Subscribe(tokens []uint32, mode TickMode) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	for _, token := range tokens {
		t.subscribed[token] = mode
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := t.ticker.SetMode(kiteMode(mode), tokens); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

func kiteMode(mode TickMode) kiteticker.Mode {
	switch mode {
	case TickModeFull:
		return kiteticker.ModeFull
	case TickModeLTP:
		return kiteticker.ModeLTP
	default:
		return kiteticker.ModeQuote
	}
}

// OnTick sets the tick handler.
func (t *ZerodhaTicker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError sets the error handler.
func (t *ZerodhaTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *ZerodhaTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *ZerodhaTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// RegisterSymbol records the trading symbol for a token so ticks carry it.
func (t *ZerodhaTicker) RegisterSymbol(symbol string, token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenSymbols[token] = symbol
}

// IsConnected returns whether the ticker is connected.
func (t *ZerodhaTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// convertTick maps a kite tick. LTP and quote mode ticks carry no exchange
// timestamp, so receipt time is used instead.
func (t *ZerodhaTicker) convertTick(tick kitemodels.Tick) models.Tick {
	t.mu.RLock()
	symbol := t.tokenSymbols[tick.InstrumentToken]
	t.mu.RUnlock()

	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = t.now()
	}

	return models.Tick{
		Token:     tick.InstrumentToken,
		Symbol:    symbol,
		LTP:       tick.LastPrice,
		Volume:    int64(tick.VolumeTraded),
		Timestamp: ts,
	}
}

func (t *ZerodhaTicker) resubscribe() {
	t.mu.RLock()
	byMode := make(map[TickMode][]uint32)
	for token, mode := range t.subscribed {
		byMode[mode] = append(byMode[mode], token)
	}
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for mode, tokens := range byMode {
		if err := t.ticker.Subscribe(tokens); err != nil {
			t.logger.Error().Err(err).Msg("resubscribe failed")
			continue
		}
		if err := t.ticker.SetMode(kiteMode(mode), tokens); err != nil {
			t.logger.Error().Err(err).Msg("set mode after resubscribe failed")
		}
	}
}

var _ Ticker = (*ZerodhaTicker)(nil)
