package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/adapter"
)

// TestEventQueuePutAndDrain covers basic enqueue and drain.
func TestEventQueuePutAndDrain(t *testing.T) {
	q := NewEventQueue()

	q.Put(adapter.EventStopped, map[string]any{"threadId": 1})
	q.Put(adapter.EventOutput, map[string]any{"output": "hi"})

	events := q.GetAll(0)
	require.Len(t, events, 2)
	require.Equal(t, adapter.EventStopped, events[0].Type)
	require.Equal(t, adapter.EventOutput, events[1].Type)

	require.Empty(t, q.GetAll(0))
}

// TestEventQueueOverflowDropsOldest verifies overflow drops exactly one
// event, the oldest, per insert.
func TestEventQueueOverflowDropsOldest(t *testing.T) {
	q := newEventQueue(3)

	for i := 0; i < 5; i++ {
		q.Put(adapter.EventOutput, map[string]any{"n": i})
	}

	events := q.GetAll(0)
	require.Len(t, events, 3)

	// The oldest two were dropped; the survivors are 2, 3, 4.
	for i, event := range events {
		require.Equal(t, i+2, event.Data["n"])
	}
	require.Equal(t, 5, q.TotalEvents())
}

// TestEventQueueLongPoll verifies GetAll blocks up to its timeout for the
// first event, then drains accompanying events.
func TestEventQueueLongPoll(t *testing.T) {
	q := NewEventQueue()

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Put(adapter.EventStopped, map[string]any{})
		q.Put(adapter.EventOutput, map[string]any{})
	}()

	start := time.Now()
	events := q.GetAll(2 * time.Second)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.NotEmpty(t, events)
	require.Equal(t, adapter.EventStopped, events[0].Type)
}

// TestEventQueueLongPollTimeout verifies an empty queue returns empty
// after the deadline.
func TestEventQueueLongPollTimeout(t *testing.T) {
	q := NewEventQueue()

	start := time.Now()
	events := q.GetAll(60 * time.Millisecond)
	require.Empty(t, events)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

// TestEventQueueHistory verifies the bounded history ring and clear.
func TestEventQueueHistory(t *testing.T) {
	q := NewEventQueue()
	q.Put(adapter.EventStopped, map[string]any{})
	q.Put(adapter.EventContinued, map[string]any{})

	history := q.History()
	require.Len(t, history, 2)

	q.Clear()
	require.Empty(t, q.History())
	require.Zero(t, q.PendingCount())
	require.Zero(t, q.TotalEvents())
}
