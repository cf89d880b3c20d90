package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/clock"
	apperrors "zerodha-strategy/internal/errors"
)

func newTestManager(maxLoss float64, cooldown time.Duration) (*Manager, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	return NewManager(Config{MaxDailyLoss: maxLoss, Cooldown: cooldown}, clk), clk
}

func TestManager_LimitHaltsWithoutManualCall(t *testing.T) {
	m, _ := newTestManager(5000, 15*time.Minute)

	m.UpdatePnL(-5200)

	assert.True(t, m.IsTradingHalted())
	assert.Equal(t, HaltLimit, m.HaltReason())
}

func TestManager_LimitIsInclusive(t *testing.T) {
	m, _ := newTestManager(5000, 0)
	m.UpdatePnL(-4999.5)
	assert.False(t, m.IsTradingHalted())
	m.UpdatePnL(-0.5)
	assert.True(t, m.IsTradingHalted())
}

func TestManager_ResumeDoesNotClearLimit(t *testing.T) {
	m, _ := newTestManager(1000, 0)
	m.Halt()
	assert.Equal(t, HaltManual, m.HaltReason())

	m.UpdatePnL(-1500)
	m.Resume()

	assert.True(t, m.IsTradingHalted())
	assert.Equal(t, HaltLimit, m.HaltReason())
}

func TestManager_ManualHaltIndependentOfPnL(t *testing.T) {
	m, _ := newTestManager(1000, 0)
	m.UpdatePnL(500)
	m.Halt()
	assert.True(t, m.IsTradingHalted())
	m.Resume()
	assert.False(t, m.IsTradingHalted())
}

func TestManager_CooldownExpiresOnSimulatedClock(t *testing.T) {
	m, clk := newTestManager(0, 10*time.Minute)

	m.OnExit(42, -120)
	assert.True(t, m.IsOnCooldown(42))

	clk.Advance(10*time.Minute - time.Second)
	assert.True(t, m.IsOnCooldown(42))

	clk.Advance(time.Second)
	assert.False(t, m.IsOnCooldown(42), "now == expiry is no longer cooling down")
}

func TestManager_ProfitOrFlatExitHasNoCooldown(t *testing.T) {
	m, _ := newTestManager(0, 10*time.Minute)
	m.OnExit(1, 0)
	m.OnExit(2, 35)
	assert.False(t, m.IsOnCooldown(1))
	assert.False(t, m.IsOnCooldown(2))
	assert.Equal(t, 35.0, m.DailyPnL())
}

func TestManager_CheckEntry(t *testing.T) {
	m, _ := newTestManager(1000, time.Minute)
	require.NoError(t, m.CheckEntry(7))

	m.StartCooldown(7)
	err := m.CheckEntry(7)
	var riskErr *apperrors.RiskError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "cooldown", riskErr.Rule)
	assert.ErrorIs(t, err, apperrors.ErrTradingHalted)

	require.NoError(t, m.CheckEntry(8))
}

func TestManager_ResetDay(t *testing.T) {
	m, _ := newTestManager(1000, time.Hour)
	m.OnExit(3, -1200)
	m.Halt()
	require.True(t, m.IsOnCooldown(3))

	m.ResetDay()

	assert.Zero(t, m.DailyPnL())
	assert.False(t, m.IsOnCooldown(3))
	assert.Equal(t, HaltManual, m.HaltReason())
}

// Feature: risk-management, Property 1: Halt tracks the loss limit
//
// Property: Without a manual halt, IsTradingHalted is exactly
// sum(deltas) <= -maxDailyLoss.
func TestProperty_HaltMatchesLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("halted iff daily pnl <= -limit", prop.ForAll(
		func(deltas []float64, limit float64) bool {
			m, _ := newTestManager(limit, 0)
			for _, d := range deltas {
				m.UpdatePnL(d)
			}
			return m.IsTradingHalted() == (m.DailyPnL() <= -limit)
		},
		gen.SliceOf(gen.Float64Range(-3000, 3000)),
		gen.Float64Range(1, 10000),
	))

	properties.TestingRun(t)
}
