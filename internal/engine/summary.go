package engine

import (
	"context"
	"time"

	"github.com/roach88/hirechat/internal/chat"
)

// The helpers below keep conversation previews in step with message
// mutations. All of them must be called with e.mu held.

func (e *Engine) summaryLocked(conversationID int64) chat.ConversationSummary {
	if s, ok := e.summaries[conversationID]; ok {
		return s
	}
	return chat.ConversationSummary{ID: conversationID}
}

func (e *Engine) saveSummaryLocked(ctx context.Context, s chat.ConversationSummary) {
	e.summaries[s.ID] = s
	if err := e.cache.UpsertSummary(ctx, s); err != nil {
		e.cacheError("upsert summary", err)
	}
}

// advanceSummaryLocked points the preview at m when m is the newest message
// of its conversation. Deleted messages never become the preview this way.
func (e *Engine) advanceSummaryLocked(ctx context.Context, m chat.ChatMessage) bool {
	s := e.summaryLocked(m.ConversationID)
	if m.IsDeleted || !s.Supersedes(m) {
		return false
	}
	s.SetLatest(m)
	e.saveSummaryLocked(ctx, s)
	return true
}

// bindSummaryLocked points the preview at the newest of a loaded page when
// it is at or after the preview's position. A preview listed by the server
// knows no message id until a page binds it.
func (e *Engine) bindSummaryLocked(ctx context.Context, conversationID int64, loaded []chat.ChatMessage) bool {
	m, ok := chat.Latest(loaded)
	if !ok || m.ConversationID != conversationID {
		return false
	}
	s := e.summaryLocked(conversationID)
	if s.LastMessageID == m.ServerID() && s.LastMessage == m.Content && s.LastMessageSenderName == m.SenderName {
		return false
	}
	return e.advanceSummaryLocked(ctx, m)
}

// editSummaryLocked refreshes the preview text when the edited message m is
// the one shown. Edits of other messages, and of deleted ones, leave the
// preview alone.
func (e *Engine) editSummaryLocked(ctx context.Context, m chat.ChatMessage, content string) bool {
	s, ok := e.summaries[m.ConversationID]
	if !ok || m.IsDeleted || !s.IsLatest(m) {
		return false
	}
	s.LastMessage = chat.NormalizeContent(content)
	s.LastMessageID = m.ServerID()
	e.saveSummaryLocked(ctx, s)
	return true
}

// deleteSummaryLocked moves the preview to the chronological predecessor of
// a deleted latest message. The predecessor may itself be deleted and show
// the placeholder. Without a predecessor the preview is cleared. A delete
// that changed nothing locally does not move the preview.
func (e *Engine) deleteSummaryLocked(ctx context.Context, m chat.ChatMessage, changed bool) bool {
	s, ok := e.summaries[m.ConversationID]
	if !ok || !changed || !s.IsLatest(m) {
		return false
	}
	if prev, found := e.predecessorLocked(ctx, m.ConversationID, s.Timestamp, m.ServerID()); found {
		s.SetLatest(prev)
	} else {
		s.ClearLatest()
	}
	e.saveSummaryLocked(ctx, s)
	return true
}

// predecessorLocked looks for the message before (ts, serverID) in both the
// cache and the open list. The open list matters after an edit invalidated
// the cache.
func (e *Engine) predecessorLocked(ctx context.Context, conversationID int64, ts time.Time, serverID string) (chat.ChatMessage, bool) {
	best, found, err := e.cache.LatestBefore(ctx, conversationID, ts, serverID)
	if err != nil {
		e.cacheError("latest before", err)
		found = false
	}
	if conversationID == e.open {
		if m, ok := chat.LatestBefore(e.openMsgs, ts, serverID); ok && (!found || chat.Compare(m, best) > 0) {
			best, found = m, true
		}
	}
	return best, found
}
