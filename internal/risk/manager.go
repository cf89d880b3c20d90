// Package risk provides the portfolio loss limit and per-instrument cooldowns.
package risk

import (
	"fmt"
	"sync"
	"time"

	"zerodha-strategy/internal/clock"
	apperrors "zerodha-strategy/internal/errors"
)

// Halt reasons reported by HaltReason.
const (
	HaltManual = "manual"
	HaltLimit  = "limit"
)

// Config holds risk limits.
type Config struct {
	MaxDailyLoss float64       // positive rupee amount; 0 disables the limit
	Cooldown     time.Duration // entry suppression after a losing exit
}

// Manager owns daily P&L, the halt flag and cooldown expiries. Risk state
// only gates new entries; exits are never blocked here.
type Manager struct {
	cfg       Config
	clock     clock.Clock
	dailyPnL  float64
	halted    bool
	cooldowns map[uint32]time.Time
	mu        sync.Mutex
}

// NewManager creates a risk manager reading time from clock.
func NewManager(cfg Config, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		cfg:       cfg,
		clock:     clk,
		cooldowns: make(map[uint32]time.Time),
	}
}

// UpdatePnL adds realized trade P&L to the daily total.
func (m *Manager) UpdatePnL(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL += delta
}

// DailyPnL returns the realized P&L for the day.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}

func (m *Manager) limitBreached() bool {
	return m.cfg.MaxDailyLoss > 0 && m.dailyPnL <= -m.cfg.MaxDailyLoss
}

// IsTradingHalted reports a manual halt or a breached daily loss limit.
func (m *Manager) IsTradingHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted || m.limitBreached()
}

// HaltReason returns HaltManual, HaltLimit, or "" when trading is allowed.
func (m *Manager) HaltReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.halted:
		return HaltManual
	case m.limitBreached():
		return HaltLimit
	default:
		return ""
	}
}

// Halt sets the manual halt flag.
func (m *Manager) Halt() {
	m.mu.Lock()
	m.halted = true
	m.mu.Unlock()
}

// Resume clears the manual halt flag. A breached loss limit still halts.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
}

// StartCooldown suppresses entries on token until now + cooldown.
func (m *Manager) StartCooldown(token uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[token] = m.clock.Now().Add(m.cfg.Cooldown)
}

// OnExit books realized P&L and starts a cooldown when it is a loss.
func (m *Manager) OnExit(token uint32, pnl float64) {
	m.UpdatePnL(pnl)
	if pnl < 0 {
		m.StartCooldown(token)
	}
}

// IsOnCooldown reports whether token is still cooling down.
func (m *Manager) IsOnCooldown(token uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.cooldowns[token]
	if !ok {
		return false
	}
	if m.clock.Now().Before(expiry) {
		return true
	}
	delete(m.cooldowns, token)
	return false
}

// CheckEntry returns a RiskError when a new entry on token is not allowed.
func (m *Manager) CheckEntry(token uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return apperrors.NewRiskError("manual_halt", m.dailyPnL, -m.cfg.MaxDailyLoss, "trading halted by operator")
	}
	if m.limitBreached() {
		return apperrors.NewRiskError("daily_loss_limit", m.dailyPnL, -m.cfg.MaxDailyLoss, "daily loss limit reached")
	}
	if expiry, ok := m.cooldowns[token]; ok && m.clock.Now().Before(expiry) {
		return apperrors.NewRiskError("cooldown", 0, 0, fmt.Sprintf("instrument %d cooling down until %s", token, expiry.Format(time.Kitchen)))
	}
	return nil
}

// ResetDay zeroes daily P&L and clears cooldowns. The manual halt flag
// survives a rollover.
func (m *Manager) ResetDay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = 0
	m.cooldowns = make(map[uint32]time.Time)
}

// Cooldowns returns the active cooldown expiries.
func (m *Manager) Cooldowns() map[uint32]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	out := make(map[uint32]time.Time, len(m.cooldowns))
	for token, expiry := range m.cooldowns {
		if now.Before(expiry) {
			out[token] = expiry
		}
	}
	return out
}
