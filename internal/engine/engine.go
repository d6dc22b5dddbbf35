package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/roach88/hirechat/internal/bus"
	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/history"
	"github.com/roach88/hirechat/internal/presence"
	"github.com/roach88/hirechat/internal/telemetry"
)

// Hub methods invoked over the realtime connection.
const (
	MethodSendMessage          = "SendMessage"
	MethodEditMessage          = "EditMessage"
	MethodDeleteMessage        = "DeleteMessage"
	MethodSendTypingIndicator  = "SendTypingIndicator"
	MethodConversationCheckout = "ConversationCheckout"
	MethodJoinGroup            = "JoinGroup"
)

// Events pushed by the hub.
const (
	EventReceiveMessage         = "ReceiveMessage"
	EventReceiveTypingIndicator = "ReceiveTypingIndicator"
	EventMessageEdited          = "MessageEdited"
	EventMessageDeleted         = "MessageDeleted"
	EventUserOnline             = "UserOnline"
	EventUserOffline            = "UserOffline"
	EventMessagesRead           = "MessagesRead"
)

var pushEvents = []string{
	EventReceiveMessage,
	EventReceiveTypingIndicator,
	EventMessageEdited,
	EventMessageDeleted,
	EventUserOnline,
	EventUserOffline,
	EventMessagesRead,
}

// DefaultDraftDelay is how long the composer must be idle before its
// content is kept as the conversation's draft.
const DefaultDraftDelay = 500 * time.Millisecond

// Hub is the realtime connection. *realtime.Manager implements it.
type Hub interface {
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	Send(ctx context.Context, method string, args ...any) error
	On(event string, fn func(payload json.RawMessage)) *bus.Subscription
	OnReconnected(fn func()) *bus.Subscription
}

// MessageAPI is the REST side of the server. *restapi.Client implements it.
type MessageAPI interface {
	history.PageFetcher
	UpdateMessage(ctx context.Context, messageID string, conversationID int64, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	Conversations(ctx context.Context) ([]chat.ConversationSummary, error)
}

// Cache is the local store. *store.Store implements it.
type Cache interface {
	history.Cache
	UpsertMessage(ctx context.Context, m chat.ChatMessage) (chat.ChatMessage, error)
	ConfirmMessage(ctx context.Context, pending chat.MessageRef, confirmed chat.ChatMessage) (chat.ChatMessage, error)
	Message(ctx context.Context, ref chat.MessageRef) (chat.ChatMessage, error)
	MessageByLocalKey(ctx context.Context, localKey string) (chat.ChatMessage, error)
	LatestBefore(ctx context.Context, conversationID int64, ts time.Time, serverID string) (chat.ChatMessage, bool, error)
	EditMessage(ctx context.Context, ref chat.MessageRef, content string) (chat.ChatMessage, error)
	MarkDeleted(ctx context.Context, ref chat.MessageRef) (chat.ChatMessage, bool, error)
	MarkRead(ctx context.Context, conversationID int64, reader string, serverIDs []string) ([]chat.ChatMessage, error)
	InvalidateConversation(ctx context.Context, conversationID int64) error
	UpsertSummary(ctx context.Context, sum chat.ConversationSummary) error
	UpsertSummaries(ctx context.Context, sums []chat.ConversationSummary) error
	Summaries(ctx context.Context) ([]chat.ConversationSummary, error)
	SetUnread(ctx context.Context, conversationID int64, unread bool) error
}

// EditPolicy decides what happens to the cache after a local edit.
type EditPolicy int

const (
	// InvalidateOnEdit drops the conversation's confirmed cache rows so the
	// next load refetches them from the server.
	InvalidateOnEdit EditPolicy = iota
	// ReconcileRow keeps the cache and relies on the edited row alone.
	ReconcileRow
)

func (p EditPolicy) String() string {
	if p == ReconcileRow {
		return "reconcile-row"
	}
	return "invalidate"
}

// ParseEditPolicy parses the String form of an EditPolicy.
func ParseEditPolicy(s string) (EditPolicy, error) {
	switch s {
	case "invalidate", "":
		return InvalidateOnEdit, nil
	case "reconcile-row":
		return ReconcileRow, nil
	}
	return InvalidateOnEdit, fmt.Errorf("unknown edit policy %q", s)
}

// ChangeKind says which view changed.
type ChangeKind int

const (
	ChangeMessages ChangeKind = iota + 1
	ChangeSummaries
	ChangePresence
	ChangeTyping
	ChangeDraft
)

var changeNames = map[ChangeKind]string{
	ChangeMessages:  "messages",
	ChangeSummaries: "summaries",
	ChangePresence:  "presence",
	ChangeTyping:    "typing",
	ChangeDraft:     "draft",
}

func (k ChangeKind) String() string {
	if s, ok := changeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change notifies UI consumers that a view must be re-read.
// ConversationID is zero for process-wide changes such as presence.
type Change struct {
	Kind           ChangeKind
	ConversationID int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the clock used for timestamps and draft debouncing.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics records engine metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithKeyGenerator sets the generator of pending local keys.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(e *Engine) { e.keys = g }
}

// WithEditPolicy sets the cache policy applied after local edits.
func WithEditPolicy(p EditPolicy) Option {
	return func(e *Engine) { e.editPolicy = p }
}

// WithDraftDelay sets the composer idle time before a draft is kept.
func WithDraftDelay(d time.Duration) Option {
	return func(e *Engine) { e.draftDelay = d }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// Engine coordinates intents, inbound events, the cache and derived views
// for one signed-in user.
//
// Thread-safety model:
//   - intents (Send, Edit, ...) and views are safe from any goroutine
//   - Run must be called from exactly one goroutine; it applies pushed
//     events one at a time
//   - remote calls are made without holding the engine lock
//   - cache reads and writes run under the engine lock, so cached rows,
//     previews and the open list change together
//
// Change handlers run synchronously after the lock is released and may read
// views, but must not block.
type Engine struct {
	hub     Hub
	api     MessageAPI
	cache   Cache
	viewer  chat.Participant
	pager   *history.Pager
	tracker *presence.Tracker
	gate    *presence.TypingGate
	queue   *eventQueue
	changes *bus.Topic[Change]

	logger     *slog.Logger
	clock      clockwork.Clock
	metrics    *telemetry.Metrics
	keys       KeyGenerator
	editPolicy EditPolicy
	draftDelay time.Duration
	pageSize   int

	subs []*bus.Subscription
	wg   sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	open        int64
	openMsgs    []chat.ChatMessage
	summaries   map[int64]chat.ConversationSummary
	groups      map[int64]struct{}
	drafts      map[int64]string
	draftTimers map[int64]draftTimer
	draftSeq    uint64
}

// New creates an Engine for viewer and subscribes it to the hub's events.
// Events are applied once Run is started.
func New(hub Hub, api MessageAPI, cache Cache, viewer chat.Participant, opts ...Option) *Engine {
	e := &Engine{
		hub:         hub,
		api:         api,
		cache:       cache,
		viewer:      viewer,
		tracker:     presence.NewTracker(),
		gate:        presence.NewTypingGate(),
		queue:       newEventQueue(),
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		keys:        UUIDv7Generator{},
		editPolicy:  InvalidateOnEdit,
		draftDelay:  DefaultDraftDelay,
		pageSize:    history.DefaultPageSize,
		summaries:   make(map[int64]chat.ConversationSummary),
		groups:      make(map[int64]struct{}),
		drafts:      make(map[int64]string),
		draftTimers: make(map[int64]draftTimer),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.changes = bus.NewTopic[Change]("engine.changes", e.logger)
	e.pager = history.NewPager(api, cache,
		history.WithPageSize(e.pageSize),
		history.WithLogger(e.logger),
		history.WithMetrics(e.metrics),
	)

	for _, name := range pushEvents {
		name := name
		e.subs = append(e.subs, hub.On(name, func(payload json.RawMessage) {
			e.Enqueue(Event{Type: EventTypePush, Name: name, Payload: payload})
		}))
	}
	e.subs = append(e.subs, hub.OnReconnected(func() {
		e.Enqueue(Event{Type: EventTypeReconnected})
	}))

	return e
}

// Viewer returns the signed-in user.
func (e *Engine) Viewer() chat.Participant { return e.viewer }

// Presence exposes the presence tracker.
func (e *Engine) Presence() *presence.Tracker { return e.tracker }

// Subscribe registers fn for view changes.
func (e *Engine) Subscribe(fn func(Change)) *bus.Subscription {
	return e.changes.Subscribe(fn)
}

// Enqueue submits an event for processing by the Run loop.
// Safe from any goroutine. Returns false once the engine has stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Run applies queued events until ctx is cancelled or Close is called.
//
// Must be called from exactly one goroutine. A failing event is logged and
// skipped; the next event is still applied.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "viewer", e.viewer.ID)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			if err := e.processEvent(ctx, ev); err != nil {
				e.logger.Error("event processing failed",
					"type", ev.Type,
					"event", ev.Name,
					"error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.isClosed() {
				e.logger.Info("engine stopping: closed")
				return nil
			}
		}
	}
}

// Drain applies the queued events on the calling goroutine and returns how
// many were applied. It serves callers that never start Run, such as
// one-shot commands, and must not be called while Run is running.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	var (
		n    int
		errs error
	)
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n, errs
		}
		if err := e.processEvent(ctx, ev); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply %s: %w", ev.Name, err))
		}
		n++
	}
}

// Close detaches the engine from the hub, stops pending draft timers and
// ends Run. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for conv, t := range e.draftTimers {
		t.timer.Stop()
		delete(e.draftTimers, conv)
	}
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	e.queue.Close()
	e.wg.Wait()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// processEvent routes an event to its handler.
// Called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeReconnected:
		return e.rejoinGroups(ctx)
	case EventTypePush:
		return e.handlePush(ctx, ev.Name, ev.Payload)
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// LoadSummaries fills the conversation list from the cache.
func (e *Engine) LoadSummaries(ctx context.Context) error {
	sums, err := e.cache.Summaries(ctx)
	if err != nil {
		return fmt.Errorf("load summaries: %w", err)
	}

	e.mu.Lock()
	for _, s := range sums {
		e.summaries[s.ID] = s
	}
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeSummaries})
	return nil
}

// SyncConversations refreshes the conversation list from the server.
// Membership and names come from the server; a locally known preview is
// kept because it tracks edits and deletes the list endpoint may not.
func (e *Engine) SyncConversations(ctx context.Context) error {
	remote, err := e.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("sync conversations: %w", err)
	}

	e.mu.Lock()
	updated := make([]chat.ConversationSummary, 0, len(remote))
	for _, r := range remote {
		s, ok := e.summaries[r.ID]
		if !ok || (!s.HasLatest() && s.Timestamp.IsZero()) {
			s = r
		} else {
			s.MergeProfile(r)
		}
		e.summaries[r.ID] = s
		updated = append(updated, s)
	}
	if err := e.cache.UpsertSummaries(ctx, updated); err != nil {
		e.cacheError("upsert summaries", err)
	}
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeSummaries})
	return nil
}

// Summaries returns the conversation list, newest first, with presence and
// typing state filled in.
func (e *Engine) Summaries() []chat.ConversationSummary {
	e.mu.Lock()
	out := make([]chat.ConversationSummary, 0, len(e.summaries))
	for _, s := range e.summaries {
		out = append(out, e.decorate(s))
	}
	e.mu.Unlock()

	chat.SortSummaries(out)
	return out
}

// Summary returns one decorated conversation summary.
func (e *Engine) Summary(conversationID int64) (chat.ConversationSummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.summaries[conversationID]
	if !ok {
		return chat.ConversationSummary{}, false
	}
	return e.decorate(s), true
}

func (e *Engine) decorate(s chat.ConversationSummary) chat.ConversationSummary {
	s = s.Clone()
	s.IsOnline = e.tracker.AnyOnline(s.Members, e.viewer.ID)
	s.WhosTyping = e.tracker.Typers(s.ID)
	return s
}

// OpenConversation returns the id of the open conversation, or zero.
func (e *Engine) OpenConversation() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Messages returns the open conversation's messages in display order.
func (e *Engine) Messages() []chat.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.openMsgs)
}

// HistoryState returns the pager state of the open conversation.
func (e *Engine) HistoryState() history.State {
	return e.pager.State()
}

// Groups returns the joined conversation groups in ascending order.
func (e *Engine) Groups() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedGroups(e.groups)
}

func (e *Engine) publish(changes ...Change) {
	for _, c := range changes {
		e.changes.Publish(c)
	}
}

func (e *Engine) cacheError(op string, err error) {
	e.metrics.CacheError(op)
	e.logger.Warn("cache operation failed", "op", op, "error", err)
}
