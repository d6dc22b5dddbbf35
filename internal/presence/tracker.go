// Package presence keeps the ephemeral signal layer: who is online and who
// is typing in which conversation. Nothing here is persisted.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/roach88/hirechat/internal/chat"
)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	online     map[string]struct{}
	lastActive map[string]time.Time
	typers     map[int64][]chat.Typer
}

func NewTracker() *Tracker {
	return &Tracker{
		online:     make(map[string]struct{}),
		lastActive: make(map[string]time.Time),
		typers:     make(map[int64][]chat.Typer),
	}
}

// SetOnline marks userID online.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = struct{}{}
}

// SetOffline marks userID offline and records when it was last active.
func (t *Tracker) SetOffline(userID string, lastActive time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
	if !lastActive.IsZero() {
		t.lastActive[userID] = lastActive
	}
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// LastActive returns the last-active marker of an offline user.
func (t *Tracker) LastActive(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastActive[userID]
	return ts, ok
}

// AnyOnline reports whether a member other than exclude is online.
func (t *Tracker) AnyOnline(members []string, exclude string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range members {
		if m == exclude {
			continue
		}
		if _, ok := t.online[m]; ok {
			return true
		}
	}
	return false
}

// Online returns the online users, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func typerKey(ty chat.Typer) string {
	if ty.UserID != "" {
		return ty.UserID
	}
	return "name:" + ty.UserName
}

// StartTyping adds typer to the conversation's typers. It reports false when
// the typer was already present.
func (t *Tracker) StartTyping(conversationID int64, typer chat.Typer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typerKey(typer)
	for _, existing := range t.typers[conversationID] {
		if typerKey(existing) == key {
			return false
		}
	}
	t.typers[conversationID] = append(t.typers[conversationID], typer)
	return true
}

// StopTyping removes typer from the conversation. It reports whether the
// typer was present.
func (t *Tracker) StopTyping(conversationID int64, typer chat.Typer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typerKey(typer)
	list := t.typers[conversationID]
	for i, existing := range list {
		if typerKey(existing) == key {
			list = slices.Delete(slices.Clone(list), i, i+1)
			if len(list) == 0 {
				delete(t.typers, conversationID)
			} else {
				t.typers[conversationID] = list
			}
			return true
		}
	}
	return false
}

// Typers returns a copy of the conversation's typers in arrival order.
func (t *Tracker) Typers(conversationID int64) []chat.Typer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.typers[conversationID])
}

// ClearConversation forgets every typer of a conversation.
func (t *Tracker) ClearConversation(conversationID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typers, conversationID)
}

// Reset forgets everything.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.online)
	clear(t.lastActive)
	clear(t.typers)
}
