package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 3}

// pipeDialer hands out in-memory connections. While fail is set every dial
// fails. The server end of each connection is delivered on servers.
type pipeDialer struct {
	fail    atomic.Bool
	calls   atomic.Int32
	servers chan Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan Conn, 16)}
}

func (d *pipeDialer) Dial(ctx context.Context) (Conn, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	client, server := Pipe()
	d.servers <- server
	return client, nil
}

func (d *pipeDialer) server(t *testing.T) Conn {
	t.Helper()
	select {
	case s := <-d.servers:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func readFrame(t *testing.T, conn Conn) Frame {
	t.Helper()
	data, err := conn.ReadFrame()
	require.NoError(t, err)
	f, err := DecodeFrame(data)
	require.NoError(t, err)
	return f
}

func writeFrame(t *testing.T, conn Conn, f Frame) {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(data))
}

func startManager(t *testing.T, d Dialer, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(d, append([]Option{WithBackoff(fastBackoff)}, opts...)...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestManager_InvokeBeforeStart(t *testing.T) {
	m := NewManager(newPipeDialer())

	_, err := m.Invoke(context.Background(), "SendMessage", 1)

	assert.True(t, IsNotConnected(err))
	var nce *NotConnectedError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, Disconnected, nce.State)
	assert.Equal(t, "SendMessage", nce.Method)

	assert.ErrorIs(t, m.Send(context.Background(), "SendTypingIndicator"), ErrNotConnected)
}

func TestManager_InvokeRoundTrip(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)
	assert.Equal(t, Connected, m.State())

	go func() {
		f := readFrame(t, server)
		reply := Frame{Type: FrameCompletion, ID: f.ID, Result: json.RawMessage(`{"id":"42"}`)}
		writeFrame(t, server, reply)
	}()

	result, err := m.Invoke(context.Background(), "SendMessage", map[string]string{"content": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42"}`, string(result))
}

func TestManager_RemoteError(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)

	go func() {
		f := readFrame(t, server)
		writeFrame(t, server, Frame{Type: FrameCompletion, ID: f.ID, Error: "forbidden"})
	}()

	_, err := m.Invoke(context.Background(), "DeleteMessage", "1")

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "forbidden", remote.Message)
}

func TestManager_SendWritesFrame(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)

	require.NoError(t, m.Send(context.Background(), "SendTypingIndicator", true, "Ada", 3))

	f := readFrame(t, server)
	assert.Equal(t, FrameSend, f.Type)
	assert.Equal(t, "SendTypingIndicator", f.Target)
	assert.Len(t, f.Arguments, 3)
}

func TestManager_EventsInRegistrationOrder(t *testing.T) {
	d := newPipeDialer()
	m := NewManager(d, WithBackoff(fastBackoff))

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})
	m.On("UserOnline", func(json.RawMessage) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
	})
	m.On("UserOnline", func(json.RawMessage) { panic("broken handler") })
	m.On("UserOnline", func(p json.RawMessage) {
		mu.Lock()
		calls = append(calls, "third:"+string(p))
		mu.Unlock()
		close(done)
	})

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	server := d.server(t)

	event, err := NewFrame(FrameEvent, "", "UserOnline", map[string]string{"userId": "u2"})
	require.NoError(t, err)
	writeFrame(t, server, event)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", `third:{"userId":"u2"}`}, calls)
}

func TestManager_UnsubscribedHandlerNotCalled(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)

	var removed atomic.Int32
	sub := m.On("UserOffline", func(json.RawMessage) { removed.Add(1) })
	done := make(chan struct{})
	m.On("UserOffline", func(json.RawMessage) { close(done) })
	sub.Unsubscribe()

	event, err := NewFrame(FrameEvent, "", "UserOffline", nil)
	require.NoError(t, err)
	writeFrame(t, server, event)

	<-done
	assert.Zero(t, removed.Load())
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)

	reconnected := make(chan struct{}, 4)
	m.OnReconnected(func() { reconnected <- struct{}{} })

	server.Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Empty(t, reconnected, "reconnected fires once per reconnect")

	// The new connection is usable.
	newServer := d.server(t)
	go func() {
		f := readFrame(t, newServer)
		writeFrame(t, newServer, Frame{Type: FrameCompletion, ID: f.ID, Result: json.RawMessage(`true`)})
	}()
	_, err := m.Invoke(context.Background(), "JoinGroup", "1")
	assert.NoError(t, err)
}

func TestManager_PendingInvokeFailsOnDrop(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)
	d.fail.Store(true)

	go func() {
		readFrame(t, server)
		server.Close()
	}()

	_, err := m.Invoke(context.Background(), "SendMessage", "hi")
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)
	d.fail.Store(true)

	var gaveUp atomic.Int32
	var reason atomic.Value
	m.OnGiveUp(func(err error) {
		gaveUp.Add(1)
		reason.Store(err)
	})

	server.Close()

	require.Eventually(t, func() bool { return gaveUp.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, reason.Load().(error), ErrMaxAttempts)

	// One initial dial plus MaxAttempts reconnect attempts, and nothing after.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1+fastBackoff.MaxAttempts), d.calls.Load())
	assert.Equal(t, int32(1), gaveUp.Load())

	_, err := m.Invoke(context.Background(), "SendMessage")
	assert.True(t, IsNotConnected(err))
}

func TestManager_RestartAfterGiveUp(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)
	server := d.server(t)
	d.fail.Store(true)

	done := make(chan struct{})
	m.OnGiveUp(func(error) { close(done) })
	server.Close()
	<-done

	d.fail.Store(false)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, Connected, m.State())
}

func TestManager_StopDoesNotReconnect(t *testing.T) {
	d := newPipeDialer()
	m := NewManager(d, WithBackoff(fastBackoff))
	require.NoError(t, m.Start(context.Background()))
	d.server(t)

	var reconnected atomic.Int32
	m.OnReconnected(func() { reconnected.Add(1) })

	m.Stop()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Zero(t, reconnected.Load())
}

func TestManager_StartIsNoopWhenConnected(t *testing.T) {
	d := newPipeDialer()
	m := startManager(t, d)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, Connected, m.State())
}

func TestManager_StartFailureSchedulesRetry(t *testing.T) {
	d := newPipeDialer()
	var calls atomic.Int32
	dialer := DialerFunc(func(ctx context.Context) (Conn, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return d.Dial(ctx)
	})
	m := NewManager(dialer, WithBackoff(fastBackoff))
	t.Cleanup(m.Stop)

	var states []State
	var mu sync.Mutex
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	err := m.Start(context.Background())
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, Connected, m.State())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Disconnected, Reconnecting, Connected}, states)
}

func TestManager_ReconnectDelaysFollowClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := newPipeDialer()
	m := NewManager(d,
		WithClock(clock),
		WithBackoff(Backoff{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 3}))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	server := d.server(t)
	d.fail.Store(true)

	gaveUp := make(chan struct{})
	m.OnGiveUp(func(error) { close(gaveUp) })

	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Attempt 1 dials immediately, then waits 1s before attempt 2.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), d.calls.Load())
	clock.Advance(time.Second)

	// Attempt 3 waits 2s.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(3), d.calls.Load())
	clock.Advance(time.Second)
	assert.Equal(t, int32(3), d.calls.Load(), "still waiting after half the delay")
	clock.Advance(time.Second)

	select {
	case <-gaveUp:
	case <-ctx.Done():
		t.Fatal("did not give up")
	}
	assert.Equal(t, int32(4), d.calls.Load())
}
