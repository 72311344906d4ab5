package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDelivers(t *testing.T) {
	b := New(4, nil)
	_, ch := b.Subscribe()

	b.Publish(Event{Type: EventPipelineStageStart, Severity: SeverityInfo, Message: "x"})

	select {
	case evt := <-ch:
		require.Equal(t, EventPipelineStageStart, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishDropsOldestWhenSubscriberBufferFull(t *testing.T) {
	b := New(2, nil)
	_, ch := b.Subscribe()

	b.Publish(Event{Type: EventModelStateChanged, Message: "1"})
	b.Publish(Event{Type: EventModelStateChanged, Message: "2"})
	b.Publish(Event{Type: EventModelStateChanged, Message: "3"}) // should drop "1"

	first := <-ch
	second := <-ch
	require.Equal(t, "2", first.Message)
	require.Equal(t, "3", second.Message)
	require.Equal(t, int64(1), b.DroppedCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4, nil)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDoesNotBlockWithNoSubscribers(t *testing.T) {
	b := New(4, nil)
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: EventSupervisorRestart})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}
