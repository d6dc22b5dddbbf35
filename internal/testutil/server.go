package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/hirechat/internal/chat"
)

// SendAcker answers SendMessage like the server: it assigns increasing ids
// starting at firstID and stamps the message with now().
func SendAcker(firstID int, now func() time.Time) Responder {
	var mu sync.Mutex
	next := firstID
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("SendMessage: want 1 argument, got %d", len(args))
		}
		w, ok := args[0].(chat.WireMessage)
		if !ok {
			return nil, fmt.Errorf("SendMessage: unexpected argument %T", args[0])
		}
		mu.Lock()
		w.ID = strconv.Itoa(next)
		next++
		mu.Unlock()

		ts := now().UTC()
		w.Timestamp = &ts
		w.DeliveryStatus = chat.StatusDelivered.String()
		return w, nil
	}
}

// Update is one recorded UpdateMessage call.
type Update struct {
	MessageID      string
	ConversationID int64
	Content        string
}

// Fetch is one recorded FetchPage call.
type Fetch struct {
	ConversationID int64
	Page           int
	Size           int
}

// FakeAPI is an in-memory REST API. History pages are cut from each
// conversation's full history, newest page first.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeAPI struct {
	mu            sync.Mutex
	history       map[int64][]chat.ChatMessage
	conversations []chat.ConversationSummary
	updates       []Update
	deletes       []string
	fetches       []Fetch
	err           error
}

// NewFakeAPI returns an API with no history.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{history: make(map[int64][]chat.ChatMessage)}
}

// SetHistory replaces the full history of a conversation.
func (a *FakeAPI) SetHistory(conversationID int64, msgs []chat.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sorted := slices.Clone(msgs)
	chat.Sort(sorted)
	a.history[conversationID] = sorted
}

// SetConversations sets the conversation list.
func (a *FakeAPI) SetConversations(list []chat.ConversationSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations = slices.Clone(list)
}

// Fail makes every call return err until Fail(nil).
func (a *FakeAPI) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// FetchPage returns page (1 = newest) of a conversation, oldest first
// within the page.
func (a *FakeAPI) FetchPage(ctx context.Context, conversationID int64, page, size int) ([]chat.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, Fetch{ConversationID: conversationID, Page: page, Size: size})
	if a.err != nil {
		return nil, a.err
	}
	if page < 1 || size < 1 {
		return nil, errors.New("fake api: page and size start at 1")
	}

	all := a.history[conversationID]
	end := len(all) - (page-1)*size
	if end <= 0 {
		return []chat.ChatMessage{}, nil
	}
	start := max(0, end-size)
	out := make([]chat.ChatMessage, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// UpdateMessage records the update and applies it to the history.
func (a *FakeAPI) UpdateMessage(ctx context.Context, messageID string, conversationID int64, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.updates = append(a.updates, Update{MessageID: messageID, ConversationID: conversationID, Content: content})
	for i, m := range a.history[conversationID] {
		if m.ServerID() == messageID {
			a.history[conversationID][i] = m.WithContent(content)
		}
	}
	return nil
}

// DeleteMessage records the delete and applies it to the history.
func (a *FakeAPI) DeleteMessage(ctx context.Context, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.deletes = append(a.deletes, messageID)
	for conv, msgs := range a.history {
		for i, m := range msgs {
			if m.ServerID() == messageID {
				a.history[conv][i] = m.Deleted()
			}
		}
	}
	return nil
}

// Conversations returns the conversation list.
func (a *FakeAPI) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return slices.Clone(a.conversations), nil
}

// Updates returns the recorded updates.
func (a *FakeAPI) Updates() []Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.updates)
}

// Deletes returns the ids passed to DeleteMessage.
func (a *FakeAPI) Deletes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.deletes)
}

// Fetches returns how many pages were requested.
func (a *FakeAPI) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fetches)
}

// FetchLog returns the page requests in order, failed ones included.
func (a *FakeAPI) FetchLog() []Fetch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.fetches)
}
