package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

type recordingConsumer struct {
	name string
	log  *[]string
}

func (c recordingConsumer) OnTrade(ev models.TradeEvent) {
	*c.log = append(*c.log, c.name+":trade:"+ev.Symbol)
}

func (c recordingConsumer) OnAnomaly(a models.Anomaly) {
	*c.log = append(*c.log, c.name+":anomaly:"+a.Message)
}

func TestHub_ConsumersRunInlineInOrder(t *testing.T) {
	hub := NewHub()

	var log []string
	hub.RegisterConsumer(recordingConsumer{name: "journal", log: &log})
	hub.RegisterConsumer(recordingConsumer{name: "metrics", log: &log})

	// Consumers do not need the broadcast loop.
	hub.OnTrade(models.TradeEvent{Symbol: "A"})
	hub.OnAnomaly(models.Anomaly{Message: "boom"})

	assert.Equal(t, []string{
		"journal:trade:A",
		"metrics:trade:A",
		"journal:anomaly:boom",
		"metrics:anomaly:boom",
	}, log)
}

func TestHub_SubscriberReceivesPayloads(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	ch := hub.Subscribe("ws-1")

	hub.OnTrade(models.TradeEvent{Token: 5, Symbol: "A", Action: models.ActionSell})
	hub.OnAnomaly(models.Anomaly{Token: 6, Message: "stale"})

	first := <-ch
	require.Equal(t, EventTrade, first.Type)
	require.NotNil(t, first.Trade)
	assert.Nil(t, first.Anomaly)
	assert.Equal(t, uint32(5), first.Token())
	assert.Equal(t, uint64(1), first.Seq)

	second := <-ch
	require.Equal(t, EventAnomaly, second.Type)
	assert.Equal(t, "stale", second.Anomaly.Message)
	assert.Equal(t, uint32(6), second.Token())

	require.Eventually(t, func() bool {
		m := hub.GetMetrics()
		return m.EventsReceived == 2 && m.EventsBroadcast == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, hub.GetMetrics().Subscribers)
}

func TestHub_UnsubscribeAndStopCloseChannels(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	assert.True(t, hub.IsStarted())

	a := hub.Subscribe("a")
	b := hub.Subscribe("b")
	assert.Equal(t, 2, hub.GetSubscriberCount())

	hub.Unsubscribe("a")
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, hub.GetSubscriberCount())

	hub.Stop()
	_, ok = <-b
	assert.False(t, ok)
	assert.False(t, hub.IsStarted())
	assert.Equal(t, 0, hub.GetSubscriberCount())

	// Safe after stop.
	hub.Stop()
	hub.Unsubscribe("missing")
}

func TestHub_ResubscribeReplacesChannel(t *testing.T) {
	hub := NewHub()
	old := hub.Subscribe("ws")
	_ = hub.Subscribe("ws")

	_, ok := <-old
	assert.False(t, ok)
	assert.Equal(t, 1, hub.GetSubscriberCount())
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 1, SubscriberBufferSize: 1})

	// Not started: the internal buffer fills after one event.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.OnAnomaly(models.Anomaly{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Equal(t, uint64(4), hub.GetMetrics().EventsDropped)
}
