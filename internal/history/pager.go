// Package history loads conversation history backwards, one page at a time,
// through the local cache.
//
// A Pager tracks one open conversation. LoadInitial reads the cache and only
// goes to the server when the cache does not hold the newest page: it is
// empty, or its rows were written after the conversation was invalidated.
// LoadOlder fetches the next
// older page; pages are 1-indexed and an empty page marks the history as
// exhausted until the next LoadInitial.
//
// Every LoadInitial or Reset bumps a request sequence. A fetch that
// completes after its sequence was superseded is discarded and reported as
// ErrSuperseded.
//
// Keeping the viewport anchored when older messages are prepended is the
// caller's job: measure the height delta after the new rows are laid out and
// shift the scroll offset by it.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/telemetry"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 20

// ErrSuperseded reports a load whose result was discarded because a newer
// load started meanwhile.
var ErrSuperseded = errors.New("history: load superseded")

// PageFetcher reads one page of a conversation from the server. Pages are
// 1-indexed; page 1 holds the newest messages. An empty page means there is
// nothing older.
type PageFetcher interface {
	FetchPage(ctx context.Context, conversationID int64, page, size int) ([]chat.ChatMessage, error)
}

// Cache is the subset of the local store the pager needs.
type Cache interface {
	MessagesByConversation(ctx context.Context, conversationID int64) ([]chat.ChatMessage, error)
	UpsertMessages(ctx context.Context, msgs []chat.ChatMessage) error
	HistoryLoaded(ctx context.Context, conversationID int64) (bool, error)
	MarkHistoryLoaded(ctx context.Context, conversationID int64) error
}

// State is a snapshot of the pager.
type State struct {
	ConversationID int64
	CurrentPage    int
	HasMore        bool
	Loading        bool
}

// Option configures a Pager.
type Option func(*Pager)

func WithPageSize(n int) Option {
	return func(p *Pager) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pager) { p.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pager) { p.metrics = m }
}

// Pager coordinates history loads for the open conversation.
type Pager struct {
	fetcher  PageFetcher
	cache    Cache
	pageSize int
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	cold singleflight.Group

	mu    sync.Mutex
	state State
	seq   uint64
}

// NewPager creates a pager with no open conversation.
func NewPager(fetcher PageFetcher, cache Cache, opts ...Option) *Pager {
	p := &Pager{
		fetcher:  fetcher,
		cache:    cache,
		pageSize: DefaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "history")
	return p
}

// State returns a snapshot of the pager state.
func (p *Pager) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset forgets the open conversation. In-flight loads are superseded.
func (p *Pager) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.state = State{}
}

// LoadInitial opens conversationID and returns its messages in chat.Compare
// order. Page 1 is fetched and merged with the cached rows unless the cache
// already holds it. Concurrent cold loads of the same conversation share one
// fetch.
func (p *Pager) LoadInitial(ctx context.Context, conversationID int64) ([]chat.ChatMessage, error) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.state = State{ConversationID: conversationID, CurrentPage: 1, HasMore: true}
	p.mu.Unlock()

	msgs, err := p.cache.MessagesByConversation(ctx, conversationID)
	if err != nil {
		p.logger.Warn("cache read failed, fetching from server",
			"conversation", conversationID, "error", err)
		p.metrics.CacheError("messages by conversation")
		msgs = nil
	}
	if len(msgs) > 0 && p.warm(ctx, conversationID) {
		if !p.current(seq) {
			return nil, ErrSuperseded
		}
		return msgs, nil
	}

	v, err, _ := p.cold.Do(strconv.FormatInt(conversationID, 10), func() (any, error) {
		return p.fetchAndStore(ctx, conversationID, 1)
	})
	if err != nil {
		if len(msgs) == 0 {
			return nil, fmt.Errorf("load conversation %d: %w", conversationID, err)
		}
		// The marker stays unset, so the next load tries page 1 again.
		p.logger.Warn("first page fetch failed, serving cached rows",
			"conversation", conversationID, "error", err)
		if !p.current(seq) {
			return nil, ErrSuperseded
		}
		return msgs, nil
	}
	fetched := v.([]chat.ChatMessage)

	p.mu.Lock()
	if p.seq != seq {
		p.mu.Unlock()
		return nil, ErrSuperseded
	}
	if len(fetched) == 0 {
		p.state.HasMore = false
	}
	p.mu.Unlock()

	merged, err := p.cache.MessagesByConversation(ctx, conversationID)
	if err != nil || len(merged) < len(fetched) {
		// Serve the fetched page directly when the cache cannot.
		merged = mergePage(msgs, fetched)
	}
	return merged, nil
}

// warm reports whether the cached rows of conversationID include its newest
// page. A marker that cannot be read counts as cold.
func (p *Pager) warm(ctx context.Context, conversationID int64) bool {
	loaded, err := p.cache.HistoryLoaded(ctx, conversationID)
	if err != nil {
		p.logger.Warn("history marker read failed, fetching from server",
			"conversation", conversationID, "error", err)
		p.metrics.CacheError("history loaded")
		return false
	}
	return loaded
}

// LoadOlder fetches the page before the oldest loaded one and returns its
// messages. It returns nil without fetching while another load is running,
// once history is exhausted, or when no conversation is open. On error the
// state is left as it was so the call can be retried.
func (p *Pager) LoadOlder(ctx context.Context) ([]chat.ChatMessage, error) {
	p.mu.Lock()
	if p.state.ConversationID == 0 || p.state.Loading || !p.state.HasMore {
		p.mu.Unlock()
		return nil, nil
	}
	p.state.Loading = true
	seq := p.seq
	conversationID := p.state.ConversationID
	page := p.state.CurrentPage + 1
	p.mu.Unlock()

	msgs, err := p.fetchAndStore(ctx, conversationID, page)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq != seq {
		p.logger.Debug("discarding superseded page", "conversation", conversationID, "page", page)
		return nil, ErrSuperseded
	}
	p.state.Loading = false
	if err != nil {
		return nil, fmt.Errorf("load page %d of conversation %d: %w", page, conversationID, err)
	}
	if len(msgs) == 0 {
		p.state.HasMore = false
		return msgs, nil
	}
	p.state.CurrentPage = page
	return msgs, nil
}

func (p *Pager) current(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq == seq
}

func (p *Pager) fetchAndStore(ctx context.Context, conversationID int64, page int) ([]chat.ChatMessage, error) {
	msgs, err := p.fetcher.FetchPage(ctx, conversationID, page, p.pageSize)
	if err != nil {
		return nil, err
	}
	p.metrics.PageLoaded()
	if msgs == nil {
		msgs = []chat.ChatMessage{}
	}
	if err := p.store(ctx, conversationID, page, msgs); err != nil {
		p.logger.Warn("caching page failed", "conversation", conversationID, "page", page, "error", err)
		p.metrics.CacheError("upsert messages")
	}
	p.logger.Debug("page loaded", "conversation", conversationID, "page", page, "messages", len(msgs))
	return msgs, nil
}

// store caches a fetched page. Storing page 1 marks the conversation's
// history as loaded.
func (p *Pager) store(ctx context.Context, conversationID int64, page int, msgs []chat.ChatMessage) error {
	if len(msgs) > 0 {
		if err := p.cache.UpsertMessages(ctx, msgs); err != nil {
			return err
		}
	}
	if page != 1 {
		return nil
	}
	return p.cache.MarkHistoryLoaded(ctx, conversationID)
}

// mergePage combines cached rows with a fetched page, keyed by message.
func mergePage(cached, fetched []chat.ChatMessage) []chat.ChatMessage {
	byKey := make(map[string]int, len(cached)+len(fetched))
	out := make([]chat.ChatMessage, 0, len(cached)+len(fetched))
	for _, m := range append(append([]chat.ChatMessage(nil), cached...), fetched...) {
		if i, ok := byKey[m.Key()]; ok {
			out[i] = chat.Merge(out[i], m)
			continue
		}
		byKey[m.Key()] = len(out)
		out = append(out, m)
	}
	chat.Sort(out)
	return out
}
