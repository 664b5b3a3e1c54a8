package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
)

func TestPublishNeverBlocks(t *testing.T) {
	bus := event.NewBus(2)
	// 无消费者时超出缓冲的发布直接丢弃
	for i := 0; i < 10; i++ {
		bus.Publish(event.Event{Kind: event.KindConnected})
	}
	assert.Len(t, bus.Events(), 2)
}

func TestPublishFillsTimestamp(t *testing.T) {
	bus := event.NewBus(1)
	bus.Publish(event.Event{Kind: event.KindSignalChanged})
	e := <-bus.Events()
	assert.Equal(t, event.KindSignalChanged, e.Kind)
	assert.False(t, e.Time.IsZero())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "signal_changed", event.KindSignalChanged.String())
	assert.Equal(t, "update_rejected", event.KindUpdateRejected.String())
	assert.Equal(t, "unknown", event.Kind(99).String())
}
