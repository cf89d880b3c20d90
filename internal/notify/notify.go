// Package notify delivers trade events and anomalies to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"zerodha-strategy/internal/config"
	"zerodha-strategy/internal/models"
	"zerodha-strategy/pkg/utils"
)

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationAnomaly NotificationType = "anomaly"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

const defaultQueueSize = 256

// MultiNotifier sends notifications to multiple channels. Events handed
// to OnTrade and OnAnomaly are queued and delivered by Run so the trading
// loop never waits on the network.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	retry    utils.RetryConfig
	logger   zerolog.Logger
	queue    chan Notification
	dropped  atomic.Int64
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		retry:    utils.DefaultRetryConfig(),
		logger:   logger.With().Str("component", "notify").Logger(),
		queue:    make(chan Notification, size),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the number of configured channels.
func (mn *MultiNotifier) Channels() int {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return len(mn.channels)
}

// Dropped returns how many notifications were discarded on a full queue.
func (mn *MultiNotifier) Dropped() int64 {
	return mn.dropped.Load()
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError || notifType == NotificationAnomaly
	default:
		return true
	}
}

// Send sends a notification to all enabled channels, retrying each
// channel independently.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		err := utils.Retry(ctx, mn.retry, func() error {
			return ch.Send(ctx, n)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// OnTrade queues a trade notification.
func (mn *MultiNotifier) OnTrade(ev models.TradeEvent) {
	mn.enqueue(TradeNotification(ev))
}

// OnAnomaly queues an anomaly notification.
func (mn *MultiNotifier) OnAnomaly(a models.Anomaly) {
	mn.enqueue(AnomalyNotification(a))
}

func (mn *MultiNotifier) enqueue(n Notification) {
	if !mn.shouldSend(n.Type) {
		return
	}
	select {
	case mn.queue <- n:
	default:
		mn.dropped.Add(1)
		mn.logger.Warn().Str("title", n.Title).Msg("Notification queue full, dropping")
	}
}

// Run delivers queued notifications until ctx is cancelled, then flushes
// what is left with a short deadline.
func (mn *MultiNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			mn.flush()
			return
		case n := <-mn.queue:
			mn.deliver(ctx, n)
		}
	}
}

func (mn *MultiNotifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case n := <-mn.queue:
			mn.deliver(ctx, n)
		default:
			return
		}
	}
}

func (mn *MultiNotifier) deliver(ctx context.Context, n Notification) {
	if err := mn.Send(ctx, n); err != nil {
		mn.logger.Error().Err(err).Str("title", n.Title).Msg("Notification delivery failed")
	}
}

// TradeNotification formats a trade event.
func TradeNotification(ev models.TradeEvent) Notification {
	title := fmt.Sprintf("%s %s %s", ev.Action, ev.Symbol, ev.OptionType)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\nAction: %s\nQuantity: %s\nPrice: %s\n",
		ev.Symbol, ev.Action, utils.FormatQuantity(ev.Quantity), utils.FormatPrice(ev.Price))
	if ev.Action == models.ActionBuy {
		fmt.Fprintf(&sb, "Stop Loss: %s\nTarget: %s\n",
			utils.FormatPrice(ev.StopLoss), utils.FormatPrice(ev.TakeProfit))
	}
	if ev.RealizedPnL != nil {
		fmt.Fprintf(&sb, "P&L: %s\n", utils.FormatPnL(*ev.RealizedPnL))
	}
	fmt.Fprintf(&sb, "Day P&L: %s\nReason: %s", utils.FormatPnL(ev.DailyPnL), ev.Reason)

	data := map[string]interface{}{
		"id":               ev.ID,
		"instrument_token": ev.Token,
		"symbol":           ev.Symbol,
		"option_type":      ev.OptionType,
		"action":           ev.Action,
		"price":            ev.Price,
		"quantity":         ev.Quantity,
		"daily_pnl":        ev.DailyPnL,
		"reason":           ev.Reason,
	}
	if ev.RealizedPnL != nil {
		data["realized_pnl"] = *ev.RealizedPnL
	}

	return Notification{
		Type:      NotificationTrade,
		Title:     title,
		Message:   sb.String(),
		Data:      data,
		Timestamp: ev.Timestamp,
	}
}

// AnomalyNotification formats an anomaly.
func AnomalyNotification(a models.Anomaly) Notification {
	title := "Anomaly"
	if a.Symbol != "" {
		title = "Anomaly: " + a.Symbol
	}
	return Notification{
		Type:    NotificationAnomaly,
		Title:   title,
		Message: a.Message,
		Data: map[string]interface{}{
			"instrument_token": a.Token,
			"symbol":           a.Symbol,
		},
		Timestamp: a.Timestamp,
	}
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ZerodhaStrategy/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		baseURL:  telegramAPIBase,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
