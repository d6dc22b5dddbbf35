package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/hirechat/internal/chat"
)

// handlePush decodes a pushed event and applies it. Inbound events follow
// the same rules as local intents, so an echo of the viewer's own action
// changes nothing a second time.
func (e *Engine) handlePush(ctx context.Context, name string, payload json.RawMessage) error {
	var err error
	switch name {
	case EventReceiveMessage:
		var p chat.ReceivedPayload
		if err = decode(name, payload, &p); err == nil {
			err = e.applyReceived(ctx, p)
		}
	case EventReceiveTypingIndicator:
		var p chat.TypingPayload
		if err = decode(name, payload, &p); err == nil {
			e.applyTyping(p)
		}
	case EventMessageEdited:
		var p chat.EditedPayload
		if err = decode(name, payload, &p); err == nil {
			e.applyEdited(ctx, p)
		}
	case EventMessageDeleted:
		var p chat.DeletedPayload
		if err = decode(name, payload, &p); err == nil {
			e.applyDeleted(ctx, p)
		}
	case EventUserOnline:
		var p chat.OnlinePayload
		if err = decode(name, payload, &p); err == nil {
			e.tracker.SetOnline(p.UserID)
			e.publish(Change{Kind: ChangePresence}, Change{Kind: ChangeSummaries})
		}
	case EventUserOffline:
		var p chat.OfflinePayload
		if err = decode(name, payload, &p); err == nil {
			e.tracker.SetOffline(p.UserID, p.LastActive)
			e.publish(Change{Kind: ChangePresence}, Change{Kind: ChangeSummaries})
		}
	case EventMessagesRead:
		var p chat.ReadPayload
		if err = decode(name, payload, &p); err == nil {
			e.applyRead(ctx, p)
		}
	default:
		return fmt.Errorf("unhandled event %q", name)
	}
	if err != nil {
		return err
	}
	e.metrics.EventApplied(name)
	return nil
}

func decode(name string, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (e *Engine) applyReceived(ctx context.Context, p chat.ReceivedPayload) error {
	m, err := chat.FromWire(p.ChatHistory)
	if err != nil {
		return fmt.Errorf("receive message: %w", err)
	}
	if !m.Ref.IsConfirmed() {
		return fmt.Errorf("receive message: no server id")
	}
	if m.ConversationID == 0 {
		m.ConversationID = p.Conversation.ID
	}
	conv := m.ConversationID

	e.mu.Lock()
	stored, cerr := e.cache.UpsertMessage(ctx, m)
	if cerr != nil {
		e.cacheError("upsert message", cerr)
		stored = m
	}

	changes := []Change{}
	if conv == e.open {
		e.openMsgs = mergeView(e.openMsgs, stored)
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conv})
	}

	s := e.summaryLocked(conv)
	if p.Conversation.ID == conv {
		s.MergeProfile(chat.SummaryFromWire(p.Conversation))
	}
	if !stored.IsDeleted && s.Supersedes(stored) {
		s.SetLatest(stored)
		if conv != e.open && stored.SenderID != e.viewer.ID {
			s.NewMessageUnread = true
		}
	}
	e.saveSummaryLocked(ctx, s)
	changes = append(changes, Change{Kind: ChangeSummaries, ConversationID: conv})
	e.mu.Unlock()

	// A sent message ends its author's typing.
	stopped := e.tracker.StopTyping(conv, chat.Typer{UserID: stored.SenderID})
	stopped = e.tracker.StopTyping(conv, chat.Typer{UserName: stored.SenderName}) || stopped
	if stopped {
		changes = append(changes, Change{Kind: ChangeTyping, ConversationID: conv})
	}

	e.publish(changes...)
	return nil
}

// applyTyping ignores the viewer's own indicator and indicators for
// conversations the viewer does not have.
func (e *Engine) applyTyping(p chat.TypingPayload) {
	e.mu.Lock()
	_, known := e.summaries[p.ConversationID]
	e.mu.Unlock()
	if !known {
		e.logger.Debug("typing for unknown conversation", "conversation", p.ConversationID)
		return
	}
	if e.isViewer(p.TyperID, p.TyperName) {
		return
	}

	typer := chat.Typer{UserID: p.TyperID, UserName: p.TyperName}
	var changed bool
	if p.IsTyping {
		changed = e.tracker.StartTyping(p.ConversationID, typer)
	} else {
		changed = e.tracker.StopTyping(p.ConversationID, typer)
	}
	if changed {
		e.publish(Change{Kind: ChangeTyping, ConversationID: p.ConversationID})
	}
}

func (e *Engine) isViewer(id, name string) bool {
	if id != "" {
		return id == e.viewer.ID
	}
	return name != "" && name == e.viewer.Name
}

func (e *Engine) applyEdited(ctx context.Context, p chat.EditedPayload) {
	e.mu.Lock()
	_, changes := e.applyEditLocked(ctx, p.ConversationID, p.MessageID, p.NewContent)
	e.mu.Unlock()
	e.publish(changes...)
}

func (e *Engine) applyDeleted(ctx context.Context, p chat.DeletedPayload) {
	e.mu.Lock()
	_, changes := e.applyDeleteLocked(ctx, p.ConversationID, p.MessageID)
	e.mu.Unlock()
	e.publish(changes...)
}

func (e *Engine) applyRead(ctx context.Context, p chat.ReadPayload) {
	e.mu.Lock()
	if _, err := e.cache.MarkRead(ctx, p.ConversationID, p.ReaderName, p.MessageIDs); err != nil {
		e.cacheError("mark read", err)
	}
	changed := false
	if p.ConversationID == e.open {
		for _, id := range p.MessageIDs {
			if m, ok := findInView(e.openMsgs, id); ok {
				updateView(e.openMsgs, m.MarkReadBy(p.ReaderName))
				changed = true
			}
		}
	}
	e.mu.Unlock()

	if changed {
		e.publish(Change{Kind: ChangeMessages, ConversationID: p.ConversationID})
	}
}
