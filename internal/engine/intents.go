package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/presence"
	"github.com/roach88/hirechat/internal/realtime"
	"github.com/roach88/hirechat/internal/store"
	"github.com/roach88/hirechat/internal/telemetry"
)

const checkoutTimeout = 5 * time.Second

// startIntent opens a span for an intent and returns a func that ends it.
func (e *Engine) startIntent(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := telemetry.Tracer().Start(ctx, "engine."+name)
	span.SetAttributes(attrs...)
	start := e.clock.Now()

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.ObserveIntent(name, e.clock.Since(start))
		span.End()
	}
}

func conversationAttr(id int64) attribute.KeyValue {
	return attribute.Int64("conversation.id", id)
}

func messageAttr(id string) attribute.KeyValue {
	return attribute.String("message.id", id)
}

// Open makes conversationID the open conversation and returns its messages.
//
// The previous conversation is checked out without waiting. The unread flag
// is cleared and the conversation's group is joined. Messages come from the
// cache, or from the server's newest page when the cache does not hold it.
// The newest loaded message becomes the preview unless a newer one is known.
func (e *Engine) Open(ctx context.Context, conversationID int64) (msgs []chat.ChatMessage, err error) {
	ctx, end := e.startIntent(ctx, "open", conversationAttr(conversationID))
	defer func() { end(err) }()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	prev := e.open
	e.open = conversationID
	e.openMsgs = nil
	if s, ok := e.summaries[conversationID]; ok && s.NewMessageUnread {
		s.NewMessageUnread = false
		e.summaries[conversationID] = s
		if err := e.cache.SetUnread(ctx, conversationID, false); err != nil && !store.IsNotFound(err) {
			e.cacheError("set unread", err)
		}
	}
	_, joined := e.groups[conversationID]
	e.groups[conversationID] = struct{}{}
	if prev != 0 && prev != conversationID {
		e.checkoutLocked(prev)
	}
	e.mu.Unlock()
	e.publish(Change{Kind: ChangeMessages, ConversationID: conversationID}, Change{Kind: ChangeSummaries, ConversationID: conversationID})

	if !joined {
		if err := e.joinGroup(ctx, conversationID); err != nil {
			e.logger.Warn("join group failed", "conversation", conversationID, "error", err)
		}
	}

	loaded, err := e.pager.LoadInitial(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("open conversation %d: %w", conversationID, err)
	}

	e.mu.Lock()
	if current := e.open; current != conversationID {
		e.mu.Unlock()
		return nil, fmt.Errorf("open conversation %d: superseded by %d", conversationID, current)
	}
	e.openMsgs = mergeView(e.openMsgs, loaded...)
	msgs = cloneMessages(e.openMsgs)
	bound := e.bindSummaryLocked(ctx, conversationID, loaded)
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeMessages, ConversationID: conversationID})
	if bound {
		e.publish(Change{Kind: ChangeSummaries, ConversationID: conversationID})
	}
	return msgs, nil
}

// checkoutLocked tells the server the conversation lost focus. It does not
// wait for the result and only logs failures.
func (e *Engine) checkoutLocked(conversationID int64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
		defer cancel()
		if err := e.hub.Send(ctx, MethodConversationCheckout, conversationID); err != nil {
			e.logger.Warn("conversation checkout failed", "conversation", conversationID, "error", err)
		}
	}()
}

// LoadOlder fetches the next older page of the open conversation and merges
// it into the open list. It returns the fetched page, which is empty when
// nothing was loaded.
func (e *Engine) LoadOlder(ctx context.Context) (page []chat.ChatMessage, err error) {
	conv := e.OpenConversation()
	ctx, end := e.startIntent(ctx, "load_older", conversationAttr(conv))
	defer func() { end(err) }()

	page, err = e.pager.LoadOlder(ctx)
	if err != nil {
		return nil, fmt.Errorf("load older: %w", err)
	}
	if len(page) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	merged := e.pager.State().ConversationID == e.open
	if merged {
		e.openMsgs = mergeView(e.openMsgs, page...)
	}
	bound := e.bindSummaryLocked(ctx, page[0].ConversationID, page)
	e.mu.Unlock()

	if merged {
		e.publish(Change{Kind: ChangeMessages, ConversationID: conv})
	}
	if bound {
		e.publish(Change{Kind: ChangeSummaries, ConversationID: page[0].ConversationID})
	}
	return page, nil
}

// Send posts content to a conversation.
//
// The message is cached as pending and shown at once. When the server
// acknowledges it, the acknowledged message replaces the pending row and the
// preview advances. When it does not, the pending message is returned with
// a *ReconcileError and stays pending until Resend.
func (e *Engine) Send(ctx context.Context, conversationID int64, content string) (msg chat.ChatMessage, err error) {
	ctx, end := e.startIntent(ctx, "send", conversationAttr(conversationID))
	defer func() { end(err) }()

	if chat.IsBlank(content) {
		return chat.ChatMessage{}, ErrEmptyContent
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return chat.ChatMessage{}, ErrClosed
	}
	pending := chat.NewPending(e.keys.Generate(), conversationID, e.viewer, content, e.clock.Now())
	stored, cerr := e.cache.UpsertMessage(ctx, pending)
	if cerr != nil {
		e.cacheError("upsert message", cerr)
		stored = pending
	}
	if conversationID == e.open {
		e.openMsgs = mergeView(e.openMsgs, stored)
	}
	e.clearDraftLocked(conversationID)
	e.mu.Unlock()
	e.publish(Change{Kind: ChangeMessages, ConversationID: conversationID}, Change{Kind: ChangeDraft, ConversationID: conversationID})

	if e.gate.Reset(conversationID) == presence.Stop {
		e.sendTyping(ctx, conversationID, false)
	}

	return e.deliver(ctx, stored)
}

// Resend retries delivery of a pending message. A message that was
// confirmed meanwhile is returned as is.
func (e *Engine) Resend(ctx context.Context, localKey string) (msg chat.ChatMessage, err error) {
	ctx, end := e.startIntent(ctx, "resend", attribute.String("message.local_key", localKey))
	defer func() { end(err) }()

	e.mu.Lock()
	m, cerr := e.cache.MessageByLocalKey(ctx, localKey)
	if cerr != nil {
		if !store.IsNotFound(cerr) {
			e.cacheError("message by local key", cerr)
		}
		i := indexOf(e.openMsgs, chat.Pending(localKey).Key())
		if i < 0 {
			e.mu.Unlock()
			return chat.ChatMessage{}, fmt.Errorf("resend %s: %w", localKey, ErrUnknownMessage)
		}
		m = e.openMsgs[i]
	}
	e.mu.Unlock()

	if m.Ref.IsConfirmed() {
		return m, nil
	}
	return e.deliver(ctx, m)
}

// deliver invokes SendMessage for a pending message and applies the ack.
func (e *Engine) deliver(ctx context.Context, pending chat.ChatMessage) (chat.ChatMessage, error) {
	fail := func(err error) (chat.ChatMessage, error) {
		return pending, &ReconcileError{
			Op:             "send",
			ConversationID: pending.ConversationID,
			Ref:            pending.Ref,
			Stage:          StageHub,
			Err:            err,
		}
	}

	raw, err := e.hub.Invoke(ctx, MethodSendMessage, chat.ToWire(pending))
	if err != nil {
		return fail(err)
	}

	var w chat.WireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return fail(fmt.Errorf("decode ack: %w", err))
	}
	if w.ClientKey == "" {
		w.ClientKey = pending.LocalKey
	}
	if w.ConversationID == 0 {
		w.ConversationID = pending.ConversationID
	}
	confirmed, err := chat.FromWire(w)
	if err != nil {
		return fail(fmt.Errorf("decode ack: %w", err))
	}
	if !confirmed.Ref.IsConfirmed() {
		return fail(fmt.Errorf("ack carries no server id"))
	}

	e.mu.Lock()
	stored, cerr := e.cache.ConfirmMessage(ctx, pending.Ref, confirmed)
	if cerr != nil {
		e.cacheError("confirm message", cerr)
		stored = confirmed
	}
	conv := stored.ConversationID
	changes := []Change{}
	if conv == e.open {
		e.openMsgs = mergeView(e.openMsgs, stored)
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conv})
	}
	if e.advanceSummaryLocked(ctx, stored) {
		changes = append(changes, Change{Kind: ChangeSummaries, ConversationID: conv})
	}
	e.mu.Unlock()

	e.metrics.EventApplied("ack")
	e.publish(changes...)
	return stored, nil
}

// Edit changes the content of a confirmed message.
//
// The edit is applied to the open list, the cache and, when the message is
// the preview, the summary. It is then persisted over REST and broadcast on
// the hub. Finally the edit policy runs. Remote failures are reported as a
// *ReconcileError; the local edit is kept.
//
// Edit does not check authorship or the edit window; see CanEdit.
func (e *Engine) Edit(ctx context.Context, messageID, content string) (msg chat.ChatMessage, err error) {
	ctx, end := e.startIntent(ctx, "edit", messageAttr(messageID))
	defer func() { end(err) }()

	if chat.IsBlank(content) {
		return chat.ChatMessage{}, ErrEmptyContent
	}
	content = chat.NormalizeContent(content)

	e.mu.Lock()
	orig, ok := e.lookupLocked(ctx, messageID)
	if !ok {
		e.mu.Unlock()
		return chat.ChatMessage{}, fmt.Errorf("edit %s: %w", messageID, ErrUnknownMessage)
	}
	conv := orig.ConversationID
	msg, changes := e.applyEditLocked(ctx, conv, messageID, content)
	e.mu.Unlock()
	e.publish(changes...)

	defer e.applyEditPolicy(ctx, conv)

	if err := e.api.UpdateMessage(ctx, messageID, conv, content); err != nil {
		return msg, &ReconcileError{Op: "edit", ConversationID: conv, Ref: chat.Confirmed(messageID), Stage: StageREST, Err: err}
	}
	if _, err := e.hub.Invoke(ctx, MethodEditMessage, messageID, conv, content); err != nil {
		return msg, &ReconcileError{Op: "edit", ConversationID: conv, Ref: chat.Confirmed(messageID), Stage: StageHub, Err: err}
	}
	return msg, nil
}

func (e *Engine) applyEditPolicy(ctx context.Context, conversationID int64) {
	if e.editPolicy != InvalidateOnEdit {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cache.InvalidateConversation(ctx, conversationID); err != nil {
		e.cacheError("invalidate conversation", err)
		return
	}
	e.logger.Debug("cache invalidated after edit", "conversation", conversationID)
}

// CanEdit reports whether the viewer may edit the message now.
func (e *Engine) CanEdit(ctx context.Context, messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.lookupLocked(ctx, messageID)
	return ok && chat.CanEdit(m, e.viewer.ID, e.clock.Now())
}

// Delete soft-deletes a confirmed message: it keeps its place and shows the
// placeholder. When it was the preview, the preview moves to its
// predecessor. The delete is then persisted over REST and broadcast on the
// hub; remote failures are reported as a *ReconcileError and the local
// delete is kept.
func (e *Engine) Delete(ctx context.Context, messageID string) (msg chat.ChatMessage, err error) {
	ctx, end := e.startIntent(ctx, "delete", messageAttr(messageID))
	defer func() { end(err) }()

	e.mu.Lock()
	orig, ok := e.lookupLocked(ctx, messageID)
	if !ok {
		e.mu.Unlock()
		return chat.ChatMessage{}, fmt.Errorf("delete %s: %w", messageID, ErrUnknownMessage)
	}
	conv := orig.ConversationID
	msg, changes := e.applyDeleteLocked(ctx, conv, messageID)
	e.mu.Unlock()
	e.publish(changes...)

	if err := e.api.DeleteMessage(ctx, messageID); err != nil {
		return msg, &ReconcileError{Op: "delete", ConversationID: conv, Ref: chat.Confirmed(messageID), Stage: StageREST, Err: err}
	}
	if _, err := e.hub.Invoke(ctx, MethodDeleteMessage, messageID, conv); err != nil {
		return msg, &ReconcileError{Op: "delete", ConversationID: conv, Ref: chat.Confirmed(messageID), Stage: StageHub, Err: err}
	}
	return msg, nil
}

// lookupLocked finds a confirmed message in the open list or the cache.
func (e *Engine) lookupLocked(ctx context.Context, serverID string) (chat.ChatMessage, bool) {
	if m, ok := findInView(e.openMsgs, serverID); ok {
		return m, true
	}
	m, err := e.cache.Message(ctx, chat.Confirmed(serverID))
	if err != nil {
		if !store.IsNotFound(err) {
			e.cacheError("message", err)
		}
		return chat.ChatMessage{}, false
	}
	return m, true
}

// applyEditLocked applies new content to every local copy of a message.
// The returned message is zero when no copy exists.
func (e *Engine) applyEditLocked(ctx context.Context, conversationID int64, serverID, content string) (chat.ChatMessage, []Change) {
	var (
		out     chat.ChatMessage
		changes []Change
	)
	if conversationID == e.open {
		if m, ok := findInView(e.openMsgs, serverID); ok {
			out = m.WithContent(content)
			updateView(e.openMsgs, out)
			changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
		}
	}

	stored, err := e.cache.EditMessage(ctx, chat.Confirmed(serverID), content)
	switch {
	case err == nil:
		if out.Ref.IsZero() {
			out = stored
		}
	case store.IsNotFound(err):
		// Not cached, or dropped by an earlier invalidation.
	default:
		e.cacheError("edit message", err)
	}

	if e.editSummaryLocked(ctx, subject(out, conversationID, serverID), content) {
		changes = append(changes, Change{Kind: ChangeSummaries, ConversationID: conversationID})
	}
	return out, changes
}

// subject is the message a preview update refers to: the local copy when
// one exists, otherwise just its identity.
func subject(local chat.ChatMessage, conversationID int64, serverID string) chat.ChatMessage {
	if !local.Ref.IsZero() {
		return local
	}
	return chat.ChatMessage{Ref: chat.Confirmed(serverID), ConversationID: conversationID}
}

// applyDeleteLocked soft-deletes every local copy of a message and moves
// the preview when needed.
func (e *Engine) applyDeleteLocked(ctx context.Context, conversationID int64, serverID string) (chat.ChatMessage, []Change) {
	var (
		out     chat.ChatMessage
		changes []Change
		known   bool
		changed bool
	)
	if conversationID == e.open {
		if m, ok := findInView(e.openMsgs, serverID); ok {
			known = true
			changed = !m.IsDeleted
			out = m.Deleted()
			updateView(e.openMsgs, out)
			if changed {
				changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
			}
		}
	}

	stored, cchanged, err := e.cache.MarkDeleted(ctx, chat.Confirmed(serverID))
	switch {
	case err == nil:
		known = true
		changed = changed || cchanged
		if out.Ref.IsZero() {
			out = stored
		}
	case store.IsNotFound(err):
		if known {
			if _, err := e.cache.UpsertMessage(ctx, out); err != nil {
				e.cacheError("upsert message", err)
			}
		}
	default:
		e.cacheError("mark deleted", err)
	}

	if !known {
		changed = true
	}
	if e.deleteSummaryLocked(ctx, subject(out, conversationID, serverID), changed) {
		changes = append(changes, Change{Kind: ChangeSummaries, ConversationID: conversationID})
	}
	return out, changes
}

// JoinConversations joins the hub groups of the given conversations and
// remembers them for rejoining after a reconnect. Every join is attempted;
// the failures are combined.
func (e *Engine) JoinConversations(ctx context.Context, conversationIDs ...int64) (err error) {
	ctx, end := e.startIntent(ctx, "join")
	defer func() { end(err) }()

	e.mu.Lock()
	for _, id := range conversationIDs {
		e.groups[id] = struct{}{}
	}
	e.mu.Unlock()

	for _, id := range conversationIDs {
		err = multierr.Append(err, e.joinGroup(ctx, id))
	}
	return err
}

func (e *Engine) joinGroup(ctx context.Context, conversationID int64) error {
	if _, err := e.hub.Invoke(ctx, MethodJoinGroup, conversationID); err != nil {
		return fmt.Errorf("join group %d: %w", conversationID, err)
	}
	return nil
}

// rejoinGroups joins every remembered group, in ascending order, after the
// connection came back.
func (e *Engine) rejoinGroups(ctx context.Context) error {
	groups := e.Groups()
	e.logger.Info("rejoining groups", "count", len(groups))

	var err error
	for _, id := range groups {
		err = multierr.Append(err, e.joinGroup(ctx, id))
	}
	return err
}

// UpdateComposer records what the viewer is typing in a conversation.
// Typing start and stop are sent only when the composer turns non-empty or
// empty. The content is kept as the draft once the composer has been idle
// for the draft delay.
func (e *Engine) UpdateComposer(ctx context.Context, conversationID int64, content string) {
	switch e.gate.Update(conversationID, content) {
	case presence.Start:
		e.sendTyping(ctx, conversationID, true)
	case presence.Stop:
		e.sendTyping(ctx, conversationID, false)
	}
	e.scheduleDraft(conversationID, content)
}

func (e *Engine) sendTyping(ctx context.Context, conversationID int64, typing bool) {
	err := e.hub.Send(ctx, MethodSendTypingIndicator, conversationID, typing, e.viewer.Name)
	switch {
	case err == nil:
	case realtime.IsNotConnected(err):
		e.logger.Debug("typing indicator dropped", "conversation", conversationID, "error", err)
	default:
		e.logger.Warn("typing indicator failed", "conversation", conversationID, "error", err)
	}
}

func cloneMessages(msgs []chat.ChatMessage) []chat.ChatMessage {
	out := make([]chat.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
