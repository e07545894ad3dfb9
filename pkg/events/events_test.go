package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventMergeCompleted, Message: "merged"})

	select {
	case ev := <-sub:
		require.NotNil(t, ev)
		assert.Equal(t, EventMergeCompleted, ev.Type)
		assert.False(t, ev.Timestamp.IsZero(), "timestamp filled in on publish")
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Overfill the subscriber buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventFlushFailed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
