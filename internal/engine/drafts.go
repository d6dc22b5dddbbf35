package engine

import (
	"cmp"
	"slices"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/hirechat/internal/chat"
)

type draftTimer struct {
	timer clockwork.Timer
	seq   uint64
}

// scheduleDraft (re)starts the idle timer of a conversation's composer.
func (e *Engine) scheduleDraft(conversationID int64, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.draftTimers[conversationID]; ok {
		t.timer.Stop()
	}
	e.draftSeq++
	seq := e.draftSeq
	e.draftTimers[conversationID] = draftTimer{
		timer: e.clock.AfterFunc(e.draftDelay, func() { e.commitDraft(conversationID, seq, content) }),
		seq:   seq,
	}
}

func (e *Engine) commitDraft(conversationID int64, seq uint64, content string) {
	e.mu.Lock()
	t, ok := e.draftTimers[conversationID]
	if e.closed || !ok || t.seq != seq {
		e.mu.Unlock()
		return
	}
	delete(e.draftTimers, conversationID)
	if chat.IsBlank(content) {
		delete(e.drafts, conversationID)
	} else {
		e.drafts[conversationID] = content
	}
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeDraft, ConversationID: conversationID})
}

func (e *Engine) clearDraftLocked(conversationID int64) {
	if t, ok := e.draftTimers[conversationID]; ok {
		t.timer.Stop()
		delete(e.draftTimers, conversationID)
	}
	delete(e.drafts, conversationID)
}

// Draft returns the kept composer text of a conversation.
func (e *Engine) Draft(conversationID int64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drafts[conversationID]
}

// Drafts returns every kept draft, by conversation id.
func (e *Engine) Drafts() []chat.Draft {
	e.mu.Lock()
	out := make([]chat.Draft, 0, len(e.drafts))
	for id, content := range e.drafts {
		out = append(out, chat.Draft{ConversationID: id, Content: content})
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b chat.Draft) int {
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	return out
}
