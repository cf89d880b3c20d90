package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

func TestMetrics_RecordsEngineActivity(t *testing.T) {
	m := New("test")

	m.TickProcessed(101)
	m.TickProcessed(101)
	m.TickProcessed(202)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("101")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("202")))

	m.BoundaryProcessed(3, 2*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InstrumentsSeries))

	m.OrderPlaced(models.OrderSideBuy, nil)
	m.OrderPlaced(models.OrderSideSell, errors.New("rejected"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("BUY", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("SELL", "error")))

	m.RiskState(-1200, 2, true)
	assert.Equal(t, -1200.0, testutil.ToFloat64(m.DailyPnL))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Halted))
	m.RiskState(0, 0, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Halted))

	pnl := -300.0
	m.OnTrade(models.TradeEvent{Action: models.ActionBuy})
	m.OnTrade(models.TradeEvent{Action: models.ActionSell, RealizedPnL: &pnl})
	m.OnAnomaly(models.Anomaly{Message: "x"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExitPnL))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TickProcessed(1)
		m.BoundaryProcessed(1, time.Second)
		m.OrderPlaced(models.OrderSideBuy, nil)
		m.RiskState(0, 0, false)
		m.OnTrade(models.TradeEvent{})
		m.OnAnomaly(models.Anomaly{})
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := New("strategy")
	m.TickProcessed(7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `strategy_ticks_total{token="7"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Separate registries let several engines or tests coexist.
	a := New("")
	b := New("")
	a.TickProcessed(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TicksTotal.WithLabelValues("1")))
	assert.NotSame(t, a.Registry(), b.Registry())
}
