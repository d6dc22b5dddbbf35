package engine

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushEvent(name string) Event {
	return Event{Type: EventTypePush, Name: name, Payload: json.RawMessage(`{}`)}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(pushEvent(EventUserOnline))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypePush, got.Type)
	assert.Equal(t, EventUserOnline, got.Name)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, name := range []string{"A", "B", "C"} {
		q.Enqueue(pushEvent(name))
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Name)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Wait_SignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(pushEvent("late"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", e.Name)
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	select {
	case _, open := <-q.Wait():
		assert.False(t, open, "signal channel closes with the queue")
	default:
		t.Fatal("closed queue should wake waiters")
	}

	assert.False(t, q.Enqueue(pushEvent("after")), "enqueue after close should return false")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(pushEvent("1"))
	q.Enqueue(Event{Type: EventTypeReconnected})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(pushEvent(strconv.Itoa(producerID*1000 + i)))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[e.Name] = true
	}
	assert.Len(t, seen, producers*eventsPerProducer)
}

func TestEventQueue_CoalescesBackToBackReconnects(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{Type: EventTypeReconnected})
	q.Enqueue(Event{Type: EventTypeReconnected})
	q.Enqueue(pushEvent(EventUserOnline))
	q.Enqueue(Event{Type: EventTypeReconnected})

	require.Equal(t, 3, q.Len())
	var got []EventType
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, e.Type)
	}
	assert.Equal(t, []EventType{EventTypeReconnected, EventTypePush, EventTypeReconnected}, got)
}
