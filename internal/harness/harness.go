package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/engine"
	"github.com/roach88/hirechat/internal/store"
	"github.com/roach88/hirechat/internal/testutil"
)

// defaultFirstID is the server id of the first acknowledged send.
const defaultFirstID = 100

// errServiceUnavailable is returned by the REST API while it is down.
var errServiceUnavailable = errors.New("service unavailable")

// Harness is the test execution engine.
// It runs one scenario with a fake clock, fixed local keys and in-memory
// server stand-ins.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	hub      *testutil.FakeHub
	api      *testutil.FakeAPI
	clock    *clockwork.FakeClock
	engine   *engine.Engine
	people   map[string]chat.Participant
	convs    map[int64]chat.ConversationSummary

	// Counts of server calls already copied into the trace.
	seenHub, seenFetches, seenUpdates, seenDeletes int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory cache. Steps run in order; a step
// whose outcome differs from its expect clause fails the result but does
// not stop the scenario. Hub events are applied after every step.
//
// The returned error reports a scenario that could not be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, scenario, st)
	if err != nil {
		return nil, fmt.Errorf("failed to set up scenario %s: %w", scenario.Name, err)
	}
	defer h.engine.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.execute(ctx, i+1, step, result)
	}

	convs, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final cache: %w", err)
	}
	result.Conversations = convs

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, s *Scenario, st *store.Store) (*Harness, error) {
	policy, err := engine.ParseEditPolicy(s.EditPolicy)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: s,
		store:    st,
		hub:      testutil.NewFakeHub(),
		api:      testutil.NewFakeAPI(),
		clock:    clockwork.NewFakeClockAt(testutil.Epoch.Add(time.Hour)),
		people:   map[string]chat.Participant{s.Viewer.ID: s.Viewer},
		convs:    make(map[int64]chat.ConversationSummary),
	}
	for _, p := range s.Participants {
		h.people[p.ID] = p
	}

	firstID := s.FirstID
	if firstID == 0 {
		firstID = defaultFirstID
	}
	h.hub.Respond(engine.MethodSendMessage, testutil.SendAcker(firstID, h.clock.Now))

	cached := make(map[int64][]chat.ChatMessage)
	var rows []chat.ChatMessage
	for _, seed := range s.Cached {
		m := h.message(seed)
		cached[m.ConversationID] = append(cached[m.ConversationID], m)
		rows = append(rows, m)
	}

	sums := make([]chat.ConversationSummary, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		other := h.people[c.With]
		sum := chat.ConversationSummary{
			ID:        c.ID,
			Members:   []string{s.Viewer.ID, other.ID},
			CreatorID: s.Viewer.ID,
			NameOne:   s.Viewer.Name,
			AvatarOne: s.Viewer.Avatar,
			NameTwo:   other.Name,
			AvatarTwo: other.Avatar,
		}
		h.convs[c.ID] = sum
		if latest, ok := latestVisible(cached[c.ID]); ok {
			sum.SetLatest(latest)
		}
		sum.NewMessageUnread = c.Unread
		sums = append(sums, sum)
	}
	listed := make([]chat.ConversationSummary, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		listed = append(listed, h.convs[c.ID])
	}
	h.api.SetConversations(listed)

	if err := st.UpsertSummaries(ctx, sums); err != nil {
		return nil, fmt.Errorf("seed conversations: %w", err)
	}
	if err := st.UpsertMessages(ctx, rows); err != nil {
		return nil, fmt.Errorf("seed cache: %w", err)
	}
	// Seeded rows stand for history an earlier session already loaded.
	for conv := range cached {
		if err := st.MarkHistoryLoaded(ctx, conv); err != nil {
			return nil, fmt.Errorf("seed cache: %w", err)
		}
	}

	history := make(map[int64][]chat.ChatMessage)
	for _, seed := range s.History {
		history[seed.Conversation] = append(history[seed.Conversation], h.message(seed))
	}
	for conv, msgs := range history {
		h.api.SetHistory(conv, msgs)
	}

	keys := s.Keys
	if len(keys) == 0 {
		for i := range s.Steps {
			keys = append(keys, fmt.Sprintf("k-%d", i+1))
		}
	}

	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithKeyGenerator(engine.NewFixedGenerator(keys...)),
		engine.WithEditPolicy(policy),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if s.PageSize > 0 {
		opts = append(opts, engine.WithPageSize(s.PageSize))
	}
	h.engine = engine.New(h.hub, h.api, st, s.Viewer, opts...)

	if err := h.engine.LoadSummaries(ctx); err != nil {
		h.engine.Close()
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	return h, nil
}

// message builds the confirmed message a seed describes.
func (h *Harness) message(seed MessageSeed) chat.ChatMessage {
	from := h.people[seed.From]
	m := chat.ChatMessage{
		Ref:            chat.Confirmed(seed.ID),
		LocalKey:       seed.Key,
		ConversationID: seed.Conversation,
		SenderID:       from.ID,
		SenderName:     from.Name,
		SenderAvatar:   from.Avatar,
		Content:        seed.Content,
		Timestamp:      testutil.Epoch.Add(time.Duration(seed.At) * time.Minute),
		Status:         chat.StatusDelivered,
	}
	if seed.Deleted {
		m = m.Deleted()
	}
	return m
}

func latestVisible(msgs []chat.ChatMessage) (chat.ChatMessage, bool) {
	latest, ok := chat.Latest(msgs)
	if !ok || latest.IsDeleted {
		return chat.ChatMessage{}, false
	}
	return latest, true
}

// execute runs one step, applies the hub events it caused and records the
// server calls it made.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) {
	err := h.apply(ctx, step)
	if _, derr := h.engine.Drain(ctx); derr != nil {
		err = multierr.Append(err, derr)
	}
	h.record(n, result)

	if msg := checkOutcome(step.Expect, err); msg != "" {
		result.AddError(fmt.Sprintf("step %d (%s): %s", n, step.Action(), msg))
	}
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	var err error
	switch {
	case step.Open != 0:
		_, err = h.engine.Open(ctx, step.Open)
	case step.LoadOlder:
		_, err = h.engine.LoadOlder(ctx)
	case step.Sync:
		err = h.engine.SyncConversations(ctx)
	case len(step.Join) > 0:
		err = h.engine.JoinConversations(ctx, step.Join...)
	case step.Send != nil:
		_, err = h.engine.Send(ctx, step.Send.Conversation, step.Send.Content)
	case step.Resend != "":
		_, err = h.engine.Resend(ctx, step.Resend)
	case step.Edit != nil:
		_, err = h.engine.Edit(ctx, step.Edit.Message, step.Edit.Content)
	case step.Delete != "":
		_, err = h.engine.Delete(ctx, step.Delete)
	case step.Receive != nil:
		m := h.message(*step.Receive)
		conv, ok := h.convs[m.ConversationID]
		if !ok {
			conv = chat.ConversationSummary{ID: m.ConversationID}
		}
		h.hub.Emit(engine.EventReceiveMessage, testutil.Wire(conv, m))
	case step.Push != nil:
		h.hub.Emit(step.Push.Event, step.Push.Payload)
	case step.Hub == "up":
		h.hub.SetConnected(true)
	case step.Hub == "down":
		h.hub.SetConnected(false)
	case step.Hub == "reconnect":
		h.hub.Reconnect()
	case step.API == "up":
		h.api.Fail(nil)
	case step.API == "down":
		h.api.Fail(errServiceUnavailable)
	case step.Advance != "":
		d, perr := time.ParseDuration(step.Advance)
		if perr != nil {
			return perr
		}
		h.clock.Advance(d)
	default:
		return fmt.Errorf("step has no action")
	}
	return err
}

// record copies the server calls made since the last step into the trace.
// Within a step REST calls come first. Fire-and-forget hub sends such as
// typing indicators and checkouts are not traced.
func (h *Harness) record(n int, result *Result) {
	fetches := h.api.FetchLog()
	for _, f := range fetches[h.seenFetches:] {
		result.AddTrace(n, "rest", "FetchPage", fmt.Sprintf("%d/%d", f.ConversationID, f.Page))
	}
	h.seenFetches = len(fetches)

	updates := h.api.Updates()
	for _, u := range updates[h.seenUpdates:] {
		result.AddTrace(n, "rest", "UpdateMessage", u.MessageID)
	}
	h.seenUpdates = len(updates)

	deletes := h.api.Deletes()
	for _, id := range deletes[h.seenDeletes:] {
		result.AddTrace(n, "rest", "DeleteMessage", id)
	}
	h.seenDeletes = len(deletes)

	calls := h.hub.Calls()
	for _, c := range calls[h.seenHub:] {
		if c.Async {
			continue
		}
		result.AddTrace(n, "hub", c.Method, target(c.Args))
	}
	h.seenHub = len(calls)
}

// target names what a hub call is about: the local key of a sent message,
// otherwise its first argument.
func target(args []any) string {
	if len(args) == 0 {
		return ""
	}
	if w, ok := args[0].(chat.WireMessage); ok {
		return w.ClientKey
	}
	return fmt.Sprint(args[0])
}

func checkOutcome(expect string, err error) string {
	switch expect {
	case "", ExpectOK:
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
	case ExpectReconcile:
		if !engine.IsReconcileError(err) {
			return fmt.Sprintf("want a reconcile error, got %v", err)
		}
	case ExpectUnknown:
		if !errors.Is(err, engine.ErrUnknownMessage) {
			return fmt.Sprintf("want an unknown message error, got %v", err)
		}
	case ExpectEmpty:
		if !errors.Is(err, engine.ErrEmptyContent) {
			return fmt.Sprintf("want an empty content error, got %v", err)
		}
	case ExpectError:
		if err == nil {
			return "want an error, got none"
		}
	}
	return ""
}

// Action names the step's action.
func (s Step) Action() string {
	switch {
	case s.Open != 0:
		return "open"
	case s.LoadOlder:
		return "load_older"
	case s.Sync:
		return "sync"
	case len(s.Join) > 0:
		return "join"
	case s.Send != nil:
		return "send"
	case s.Resend != "":
		return "resend"
	case s.Edit != nil:
		return "edit"
	case s.Delete != "":
		return "delete"
	case s.Receive != nil:
		return "receive"
	case s.Push != nil:
		return "push " + s.Push.Event
	case s.Hub != "":
		return "hub " + s.Hub
	case s.API != "":
		return "api " + s.API
	case s.Advance != "":
		return "advance"
	}
	return "none"
}

// snapshot reads every cached conversation and its messages.
func (h *Harness) snapshot(ctx context.Context) ([]ConversationState, error) {
	sums, err := h.store.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sums, func(a, b chat.ConversationSummary) int { return cmp.Compare(a.ID, b.ID) })

	out := make([]ConversationState, 0, len(sums))
	for _, s := range sums {
		msgs, err := h.store.MessagesByConversation(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		state := ConversationState{
			ID:            s.ID,
			LastMessage:   s.LastMessage,
			LastMessageID: s.LastMessageID,
			Unread:        s.NewMessageUnread,
			Messages:      make([]MessageState, 0, len(msgs)),
		}
		for _, m := range msgs {
			state.Messages = append(state.Messages, MessageState{
				Key:     m.Key(),
				From:    m.SenderID,
				Content: m.Content,
				Status:  m.Status.String(),
				Deleted: m.IsDeleted,
				ReadBy:  m.ReadBy,
			})
		}
		out = append(out, state)
	}
	return out, nil
}
