// Package broker provides broker integration implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/pkg/utils"
)

// ZerodhaBroker implements Broker for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
	Logger    zerolog.Logger
}

// NewZerodhaBroker creates a new Zerodha broker instance.
// It automatically loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "zerodha-strategy", "session.json")
	}

	zb := &ZerodhaBroker{
		client:    client,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		userID:    cfg.UserID,
		tokenPath: tokenPath,
		logger:    cfg.Logger,
	}

	if err := zb.loadSession(); err != nil && !os.IsNotExist(err) {
		zb.logger.Debug().Err(err).Msg("no usable saved session")
	}

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessToken returns the current access token for the ticker.
func (z *ZerodhaBroker) AccessToken() string {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.accessToken
}

// GetLoginURL returns the Zerodha login URL for OAuth.
func (z *ZerodhaBroker) GetLoginURL() string {
	return z.client.GetLoginURL()
}

// CompleteLogin completes the OAuth flow with the request token.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("SESSION", "failed to generate session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	if err := z.saveSession(session.AccessToken); err != nil {
		z.logger.Warn().Err(err).Msg("failed to persist session")
	}
	return nil
}

// Logout invalidates the session and clears stored credentials.
func (z *ZerodhaBroker) Logout(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.authenticated {
		if _, err := z.client.InvalidateAccessToken(); err != nil {
			z.logger.Warn().Err(err).Msg("failed to invalidate token")
		}
	}

	z.accessToken = ""
	z.authenticated = false

	if err := os.Remove(z.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day
	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	dir := filepath.Dir(z.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	session := sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   sessionExpiry(time.Now()),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return os.WriteFile(z.tokenPath, data, 0600)
}

// sessionExpiry returns 6 AM IST on the day after now.
func sessionExpiry(now time.Time) time.Time {
	n := now.In(utils.IndiaLocation)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)
}

// GetHistorical fetches historical OHLCV data for an instrument token.
func (z *ZerodhaBroker) GetHistorical(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	kiteInterval, err := KiteInterval(interval)
	if err != nil {
		return nil, err
	}

	data, err := z.client.GetHistoricalData(int(token), kiteInterval, from, to, false, false)
	if err != nil {
		return nil, apperrors.NewBrokerError("HISTORICAL", fmt.Sprintf("historical data for %d", token), err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return candles, nil
}

// KiteInterval maps a candle width to a Kite historical interval name.
func KiteInterval(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "minute", nil
	case 3 * time.Minute:
		return "3minute", nil
	case 5 * time.Minute:
		return "5minute", nil
	case 10 * time.Minute:
		return "10minute", nil
	case 15 * time.Minute:
		return "15minute", nil
	case 30 * time.Minute:
		return "30minute", nil
	case 60 * time.Minute:
		return "60minute", nil
	case 24 * time.Hour:
		return "day", nil
	default:
		return "", apperrors.NewValidationError("interval", d.String(), "no matching Kite interval", apperrors.ErrConfigInvalid)
	}
}

// GetInstruments fetches all instruments for an exchange.
func (z *ZerodhaBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, apperrors.NewBrokerError("INSTRUMENTS", "failed to get instruments", err)
	}

	var result []models.Instrument
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		result = append(result, models.Instrument{
			Token:     uint32(inst.InstrumentToken),
			Symbol:    inst.Tradingsymbol,
			Name:      inst.Name,
			Exchange:  models.Exchange(inst.Exchange),
			Segment:   inst.Segment,
			LotSize:   int(inst.LotSize),
			TickSize:  inst.TickSize,
			Expiry:    inst.Expiry.Time,
			Strike:    inst.StrikePrice,
			InstrType: inst.InstrumentType,
		})
	}

	return result, nil
}

// PlaceMarket places a regular market order.
func (z *ZerodhaBroker) PlaceMarket(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if !z.IsAuthenticated() {
		return models.OrderResult{}, apperrors.ErrNotAuthenticated
	}
	if req.Quantity <= 0 {
		return models.OrderResult{}, apperrors.NewOrderError(req.Symbol, string(req.Side), "quantity must be positive", apperrors.ErrInvalidQuantity)
	}

	product := req.Product
	if product == "" {
		product = models.ProductMIS
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       "MARKET",
		Product:         string(product),
		Quantity:        req.Quantity,
		Validity:        "DAY",
		Tag:             req.Tag,
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return models.OrderResult{}, apperrors.NewOrderError(req.Symbol, string(req.Side), "place order", err)
	}

	return models.OrderResult{
		OrderID:  resp.OrderID,
		Status:   "PLACED",
		PlacedAt: time.Now(),
	}, nil
}

var _ Broker = (*ZerodhaBroker)(nil)
