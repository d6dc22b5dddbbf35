// Package bus is a small typed publish/subscribe primitive.
//
// A Topic delivers values of one type to its handlers synchronously, in
// subscription order. Every Subscribe returns a Subscription whose
// Unsubscribe removes exactly that handler, so two registrations of the
// same function are independent.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives published values.
type Handler[T any] func(T)

type entry[T any] struct {
	id uint64
	fn Handler[T]
}

// Topic is a set of handlers for values of type T. The zero value is not
// usable; create topics with NewTopic.
type Topic[T any] struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers []entry[T]
}

// NewTopic returns an empty topic. name is used in log records only.
func NewTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns the handle that removes it.
func (t *Topic[T]) Subscribe(fn Handler[T]) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, entry[T]{id: id, fn: fn})

	return &Subscription{cancel: func() { t.remove(id) }}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.handlers {
		if e.id == id {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Publish calls every handler registered at the time of the call with v.
// A panicking handler is logged and does not prevent the others from running.
// Publish returns the number of handlers that completed normally.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	snapshot := make([]entry[T], len(t.handlers))
	copy(snapshot, t.handlers)
	t.mu.Unlock()

	ok := 0
	for _, e := range snapshot {
		if t.call(e, v) {
			ok++
		}
	}
	return ok
}

func (t *Topic[T]) call(e entry[T], v T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("handler panicked",
				"topic", t.name,
				"subscription", e.id,
				"panic", fmt.Sprint(r))
			ok = false
		}
	}()
	e.fn(v)
	return true
}

// Subscription is the handle returned by Topic.Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
