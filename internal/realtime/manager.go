package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/hirechat/internal/bus"
	"github.com/roach88/hirechat/internal/telemetry"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the clock used for reconnect delays.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithBackoff sets the reconnect schedule.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMetrics enables prometheus reporting.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

type completion struct {
	frame Frame
	err   error
}

// Manager owns the hub connection. See the package documentation for the
// lifecycle.
type Manager struct {
	dialer  Dialer
	backoff Backoff
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	state   State
	conn    Conn
	stopped bool
	life    context.Context
	cancel  context.CancelFunc
	nextID  uint64
	pending map[string]chan completion

	eventsMu sync.Mutex
	events   map[string]*bus.Topic[json.RawMessage]

	reconnected  *bus.Topic[struct{}]
	gaveUp       *bus.Topic[error]
	stateChanges *bus.Topic[State]

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:  dialer,
		backoff: DefaultBackoff(),
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		pending: make(map[string]chan completion),
		events:  make(map[string]*bus.Topic[json.RawMessage]),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "realtime")
	m.reconnected = bus.NewTopic[struct{}]("reconnected", m.logger)
	m.gaveUp = bus.NewTopic[error]("gave-up", m.logger)
	m.stateChanges = bus.NewTopic[State]("state", m.logger)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// On registers fn for the server push named event. Handlers run on the
// connection's read goroutine and must not wait on Invoke.
func (m *Manager) On(event string, fn func(payload json.RawMessage)) *bus.Subscription {
	m.eventsMu.Lock()
	topic, ok := m.events[event]
	if !ok {
		topic = bus.NewTopic[json.RawMessage](event, m.logger)
		m.events[event] = topic
	}
	m.eventsMu.Unlock()
	return topic.Subscribe(fn)
}

// OnReconnected registers fn to run after every successful reconnect.
func (m *Manager) OnReconnected(fn func()) *bus.Subscription {
	return m.reconnected.Subscribe(func(struct{}) { fn() })
}

// OnGiveUp registers fn to run when reconnect attempts are exhausted.
func (m *Manager) OnGiveUp(fn func(err error)) *bus.Subscription {
	return m.gaveUp.Subscribe(fn)
}

// OnStateChange registers fn to observe state transitions.
func (m *Manager) OnStateChange(fn func(State)) *bus.Subscription {
	return m.stateChanges.Subscribe(fn)
}

// Start connects. It is a no-op unless the manager is Disconnected. When the
// dial fails the manager returns to Disconnected, schedules reconnect
// attempts and returns the dial error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopped = false
	m.life, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	life := m.life
	m.setStateLocked(Connecting)
	m.mu.Unlock()
	m.publishState(Connecting)

	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		m.logger.Warn("connect failed", "error", err)
		if m.transition(life, Disconnected) {
			m.goReconnect(life)
		}
		return fmt.Errorf("connect: %w", err)
	}

	if !m.attach(life, conn) {
		conn.Close()
		return ErrStopped
	}
	m.logger.Info("connected")
	return nil
}

// Stop closes the connection deliberately. No reconnect follows. Stop must
// not be called from an event handler.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.failPendingLocked(ErrConnectionLost)
	changed := m.setStateLocked(Disconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		m.publishState(Disconnected)
	}
	m.wg.Wait()
}

// Invoke calls a hub method and waits for its completion.
func (m *Manager) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.state != Connected {
		state := m.state
		m.mu.Unlock()
		m.metrics.Invocation(method, "not_connected")
		return nil, &NotConnectedError{Method: method, State: state}
	}
	if m.conn == nil {
		m.mu.Unlock()
		return nil, &NotConnectedError{Method: method, State: Reconnecting}
	}
	m.nextID++
	id := strconv.FormatUint(m.nextID, 10)
	ch := make(chan completion, 1)
	m.pending[id] = ch
	conn := m.conn
	m.mu.Unlock()

	if err := m.write(conn, FrameInvoke, id, method, args); err != nil {
		m.forget(id)
		m.metrics.Invocation(method, "error")
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	select {
	case c := <-ch:
		if c.err != nil {
			m.metrics.Invocation(method, "error")
			return nil, fmt.Errorf("invoke %s: %w", method, c.err)
		}
		if c.frame.Error != "" {
			m.metrics.Invocation(method, "error")
			return nil, &RemoteError{Method: method, Message: c.frame.Error}
		}
		m.metrics.Invocation(method, "ok")
		return c.frame.Result, nil
	case <-ctx.Done():
		m.forget(id)
		m.metrics.Invocation(method, "error")
		return nil, fmt.Errorf("invoke %s: %w", method, ctx.Err())
	}
}

// Send calls a hub method without waiting for a result.
func (m *Manager) Send(ctx context.Context, method string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	m.mu.Lock()
	if m.state != Connected || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		m.metrics.Invocation(method, "not_connected")
		return &NotConnectedError{Method: method, State: state}
	}
	conn := m.conn
	m.mu.Unlock()

	if err := m.write(conn, FrameSend, "", method, args); err != nil {
		m.metrics.Invocation(method, "error")
		return fmt.Errorf("send %s: %w", method, err)
	}
	m.metrics.Invocation(method, "ok")
	return nil
}

func (m *Manager) write(conn Conn, typ FrameType, id, method string, args []any) error {
	frame, err := NewFrame(typ, id, method, args...)
	if err != nil {
		return err
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return conn.WriteFrame(data)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// attach installs conn as the live connection unless the manager was
// stopped meanwhile.
func (m *Manager) attach(life context.Context, conn Conn) bool {
	m.mu.Lock()
	if m.stopped || life.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.setStateLocked(Connected)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(conn)
	m.publishState(Connected)
	return true
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			m.connectionLost(conn, err)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	switch typ := PeekType(data); typ {
	case FrameCompletion:
		frame, err := DecodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping malformed completion", "error", err)
			return
		}
		m.mu.Lock()
		ch, ok := m.pending[frame.ID]
		delete(m.pending, frame.ID)
		m.mu.Unlock()
		if !ok {
			m.logger.Debug("completion for unknown invocation", "id", frame.ID)
			return
		}
		ch <- completion{frame: frame}

	case FrameEvent:
		frame, err := DecodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping malformed event", "error", err)
			return
		}
		m.metrics.EventReceived(frame.Target)
		m.eventsMu.Lock()
		topic := m.events[frame.Target]
		m.eventsMu.Unlock()
		if topic == nil {
			m.logger.Debug("no handler for event", "event", frame.Target)
			return
		}
		topic.Publish(frame.Payload())

	default:
		m.logger.Debug("ignoring frame", "type", string(typ), "bytes", len(data))
	}
}

func (m *Manager) connectionLost(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// Stop already detached this connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.failPendingLocked(ErrConnectionLost)
	life := m.life
	changed := m.setStateLocked(Reconnecting)
	m.mu.Unlock()
	conn.Close()
	if changed {
		m.publishState(Reconnecting)
	}

	m.logger.Warn("connection lost, reconnecting", "error", cause)
	m.goReconnect(life)
}

func (m *Manager) goReconnect(life context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go m.reconnectLoop(life)
}

func (m *Manager) reconnectLoop(life context.Context) {
	defer m.wg.Done()

	schedule := m.backoff.Schedule()
	for attempt := 1; ; attempt++ {
		delay, ok := schedule.Next()
		if !ok {
			m.logger.Error("giving up reconnecting", "attempts", attempt-1)
			if m.transition(life, Disconnected) {
				m.gaveUp.Publish(ErrMaxAttempts)
			}
			return
		}

		if !m.transition(life, Reconnecting) {
			return
		}
		m.metrics.ReconnectAttempt()

		if delay > 0 {
			timer := m.clock.NewTimer(delay)
			select {
			case <-timer.Chan():
			case <-life.Done():
				timer.Stop()
				return
			}
		}

		m.logger.Info("reconnect attempt", "attempt", attempt, "delay", delay)
		conn, err := m.dialer.Dial(life)
		if err != nil {
			if life.Err() != nil {
				return
			}
			m.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		if !m.attach(life, conn) {
			conn.Close()
			return
		}
		m.logger.Info("reconnected", "attempt", attempt)
		m.reconnected.Publish(struct{}{})
		return
	}
}

// transition moves to state s unless the manager was stopped or restarted
// since life was created. It reports whether the transition happened.
func (m *Manager) transition(life context.Context, s State) bool {
	m.mu.Lock()
	if m.stopped || life != m.life || life.Err() != nil {
		m.mu.Unlock()
		return false
	}
	changed := m.setStateLocked(s)
	m.mu.Unlock()
	if changed {
		m.publishState(s)
	}
	return true
}

func (m *Manager) setStateLocked(s State) bool {
	if m.state == s {
		return false
	}
	m.logger.Debug("state change", "from", m.state.String(), "to", s.String())
	m.state = s
	m.metrics.ConnectionState(int(s))
	return true
}

func (m *Manager) publishState(s State) {
	m.stateChanges.Publish(s)
}

func (m *Manager) failPendingLocked(err error) {
	for id, ch := range m.pending {
		ch <- completion{err: err}
		delete(m.pending, id)
	}
}
