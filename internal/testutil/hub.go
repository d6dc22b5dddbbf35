package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hirechat/internal/bus"
	"github.com/roach88/hirechat/internal/realtime"
)

// Responder produces the result of a hub method from its arguments.
type Responder func(args []any) (any, error)

// Call is one recorded hub call.
type Call struct {
	Method string
	Args   []any
	Async  bool // sent without awaiting a completion
}

// FakeHub is an in-memory hub. Handlers run synchronously on Emit.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeHub struct {
	mu          sync.Mutex
	connected   bool
	calls       []Call
	responders  map[string]Responder
	topics      map[string]*bus.Topic[json.RawMessage]
	reconnected *bus.Topic[struct{}]
}

// NewFakeHub returns a connected hub with no responders. Methods without a
// responder succeed with a null result.
func NewFakeHub() *FakeHub {
	return &FakeHub{
		connected:   true,
		responders:  make(map[string]Responder),
		topics:      make(map[string]*bus.Topic[json.RawMessage]),
		reconnected: bus.NewTopic[struct{}]("fakehub.reconnected", slog.Default()),
	}
}

// Respond installs the responder for method.
func (h *FakeHub) Respond(method string, r Responder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responders[method] = r
}

// SetConnected switches the hub on or off. While off, Invoke and Send fail
// with *realtime.NotConnectedError.
func (h *FakeHub) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
}

// Reconnect turns the hub on and fires the reconnected handlers.
func (h *FakeHub) Reconnect() {
	h.SetConnected(true)
	h.reconnected.Publish(struct{}{})
}

func (h *FakeHub) call(method string, args []any, async bool) (Responder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: method, Args: args, Async: async})
	if !h.connected {
		return nil, &realtime.NotConnectedError{Method: method, State: realtime.Disconnected}
	}
	return h.responders[method], nil
}

// Invoke records the call and returns the responder's result as JSON.
func (h *FakeHub) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := h.call(method, args, false)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return json.RawMessage("null"), nil
	}
	v, err := r(args)
	if err != nil {
		return nil, &realtime.RemoteError{Method: method, Message: err.Error()}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fake hub: marshal %s result: %w", method, err)
	}
	return data, nil
}

// Send records the call. A responder's error is returned; its result is
// dropped.
func (h *FakeHub) Send(ctx context.Context, method string, args ...any) error {
	r, err := h.call(method, args, true)
	if err != nil || r == nil {
		return err
	}
	_, err = r(args)
	return err
}

func (h *FakeHub) topic(event string) *bus.Topic[json.RawMessage] {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[event]
	if !ok {
		t = bus.NewTopic[json.RawMessage]("fakehub."+event, slog.Default())
		h.topics[event] = t
	}
	return t
}

// On subscribes fn to a pushed event.
func (h *FakeHub) On(event string, fn func(payload json.RawMessage)) *bus.Subscription {
	return h.topic(event).Subscribe(fn)
}

// OnReconnected subscribes fn to reconnections.
func (h *FakeHub) OnReconnected(fn func()) *bus.Subscription {
	return h.reconnected.Subscribe(func(struct{}) { fn() })
}

// Emit pushes an event with payload marshalled to JSON. It returns the
// number of handlers that ran.
func (h *FakeHub) Emit(event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("fake hub: marshal %s payload: %v", event, err))
	}
	return h.topic(event).Publish(data)
}

// Calls returns every recorded call in order.
func (h *FakeHub) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsTo returns the recorded calls of one method.
func (h *FakeHub) CallsTo(method string) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Call
	for _, c := range h.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded calls.
func (h *FakeHub) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}
