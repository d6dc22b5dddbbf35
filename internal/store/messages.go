package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/hirechat/internal/chat"
)

var messageColumns = []string{
	"key", "conversation_id", "server_id", "server_seq", "local_key",
	"sender_id", "sender_name", "sender_avatar", "content",
	"sent_at", "status", "is_deleted", "read_by", "created_at",
}

// messageOrder mirrors chat.Compare.
var messageOrder = []string{
	"sent_at IS NULL", "sent_at", "server_seq", "server_id", "created_at", "key",
}

const messageUpsertSuffix = `ON CONFLICT(key) DO UPDATE SET
	conversation_id = excluded.conversation_id,
	server_id = excluded.server_id,
	server_seq = excluded.server_seq,
	local_key = excluded.local_key,
	sender_id = excluded.sender_id,
	sender_name = excluded.sender_name,
	sender_avatar = excluded.sender_avatar,
	content = excluded.content,
	sent_at = excluded.sent_at,
	status = excluded.status,
	is_deleted = excluded.is_deleted,
	read_by = excluded.read_by,
	created_at = excluded.created_at`

// UpsertMessage merges m into the cache and returns the stored row.
//
// When m is confirmed and carries a LocalKey, the pending row with that key
// is folded into the result and removed. When m is pending but its local key
// has already been confirmed, the confirmed row is returned unchanged.
func (s *Store) UpsertMessage(ctx context.Context, m chat.ChatMessage) (chat.ChatMessage, error) {
	var stored chat.ChatMessage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = upsertMessage(ctx, tx, m)
		return err
	})
	if err != nil {
		return chat.ChatMessage{}, wrap("upsert message", err)
	}
	return stored, nil
}

// UpsertMessages merges a batch of messages in one transaction.
func (s *Store) UpsertMessages(ctx context.Context, msgs []chat.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if _, err := upsertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("upsert messages", err)
}

// ConfirmMessage replaces the pending row identified by pending with the
// server-acknowledged message.
func (s *Store) ConfirmMessage(ctx context.Context, pending chat.MessageRef, confirmed chat.ChatMessage) (chat.ChatMessage, error) {
	localKey, ok := pending.LocalKey()
	if !ok {
		return chat.ChatMessage{}, wrap("confirm message", fmt.Errorf("%s is not a pending reference", pending))
	}
	if !confirmed.Ref.IsConfirmed() {
		return chat.ChatMessage{}, wrap("confirm message", fmt.Errorf("message %s is not confirmed", confirmed.Ref))
	}
	confirmed.LocalKey = localKey

	var stored chat.ChatMessage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = upsertMessage(ctx, tx, confirmed)
		return err
	})
	if err != nil {
		return chat.ChatMessage{}, wrap("confirm message", err)
	}
	return stored, nil
}

func upsertMessage(ctx context.Context, q queryer, m chat.ChatMessage) (chat.ChatMessage, error) {
	if m.Ref.IsZero() {
		return chat.ChatMessage{}, errors.New("message has no reference")
	}

	if m.Ref.IsPending() {
		if confirmed, err := messageByLocalKey(ctx, q, m.LocalKey, true); err == nil {
			return confirmed, nil
		} else if !errors.Is(err, ErrNotFound) {
			return chat.ChatMessage{}, err
		}
	}

	merged := m.Clone()
	existing, err := getMessage(ctx, q, m.Key())
	switch {
	case err == nil:
		merged = chat.Merge(existing, m)
	case !errors.Is(err, ErrNotFound):
		return chat.ChatMessage{}, err
	}

	if m.Ref.IsConfirmed() && m.LocalKey != "" {
		pendingKey := chat.Pending(m.LocalKey).Key()
		pending, err := getMessage(ctx, q, pendingKey)
		switch {
		case err == nil:
			if existing.Ref.IsZero() {
				merged = chat.Merge(pending, merged)
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM messages WHERE key = ?`, pendingKey); err != nil {
				return chat.ChatMessage{}, fmt.Errorf("delete pending %s: %w", pendingKey, err)
			}
		case !errors.Is(err, ErrNotFound):
			return chat.ChatMessage{}, err
		}
	}

	if err := writeMessage(ctx, q, merged); err != nil {
		return chat.ChatMessage{}, err
	}
	return merged, nil
}

func writeMessage(ctx context.Context, q queryer, m chat.ChatMessage) error {
	readBy, err := marshalNames(m.ReadBy)
	if err != nil {
		return err
	}

	var serverID sql.NullString
	var seq int64
	if id, ok := m.Ref.ServerID(); ok {
		serverID = sql.NullString{String: id, Valid: true}
		seq = chat.Seq(id)
	}

	query, args, err := psql.Insert("messages").
		Columns(messageColumns...).
		Values(
			m.Key(), m.ConversationID, serverID, seq, m.LocalKey,
			m.SenderID, m.SenderName, m.SenderAvatar, m.Content,
			nanos(m.Timestamp), m.Status.String(), boolInt(m.IsDeleted), readBy, nanos(m.CreatedAt),
		).
		Suffix(messageUpsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write message %s: %w", m.Key(), err)
	}
	return nil
}

// Message returns the cached message for ref, or ErrNotFound.
func (s *Store) Message(ctx context.Context, ref chat.MessageRef) (chat.ChatMessage, error) {
	m, err := getMessage(ctx, s.db, ref.Key())
	if err != nil {
		return chat.ChatMessage{}, wrap("message", err)
	}
	return m, nil
}

// MessageByLocalKey returns the row created from localKey, preferring the
// confirmed row when the message has been acknowledged.
func (s *Store) MessageByLocalKey(ctx context.Context, localKey string) (chat.ChatMessage, error) {
	m, err := messageByLocalKey(ctx, s.db, localKey, false)
	if err != nil {
		return chat.ChatMessage{}, wrap("message by local key", err)
	}
	return m, nil
}

func getMessage(ctx context.Context, q queryer, key string) (chat.ChatMessage, error) {
	query, args, err := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return chat.ChatMessage{}, fmt.Errorf("build select: %w", err)
	}
	return scanOne(q.QueryRowContext(ctx, query, args...), key)
}

func messageByLocalKey(ctx context.Context, q queryer, localKey string, confirmedOnly bool) (chat.ChatMessage, error) {
	if localKey == "" {
		return chat.ChatMessage{}, ErrNotFound
	}
	b := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"local_key": localKey}).
		OrderBy("sent_at IS NULL").
		Limit(1)
	if confirmedOnly {
		b = b.Where(sq.NotEq{"server_id": nil})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return chat.ChatMessage{}, fmt.Errorf("build select: %w", err)
	}
	return scanOne(q.QueryRowContext(ctx, query, args...), "local:"+localKey)
}

// MessagesByConversation returns all cached messages of a conversation in
// chat.Compare order. Returns an empty slice (not nil) when none are cached.
func (s *Store) MessagesByConversation(ctx context.Context, conversationID int64) ([]chat.ChatMessage, error) {
	query, args, err := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy(messageOrder...).
		ToSql()
	if err != nil {
		return nil, wrap("messages by conversation", err)
	}
	msgs, err := queryMessages(ctx, s.db, query, args)
	if err != nil {
		return nil, wrap("messages by conversation", err)
	}
	return msgs, nil
}

// Latest returns the newest confirmed message of a conversation.
// The boolean is false when the conversation has none.
func (s *Store) Latest(ctx context.Context, conversationID int64) (chat.ChatMessage, bool, error) {
	b := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		Where(sq.NotEq{"sent_at": nil})
	return s.newest(ctx, "latest", b)
}

// LatestBefore returns the newest confirmed message of a conversation that
// orders strictly before the position (ts, serverID). Deleted rows are
// candidates like any other.
func (s *Store) LatestBefore(ctx context.Context, conversationID int64, ts time.Time, serverID string) (chat.ChatMessage, bool, error) {
	at := ts.UnixNano()
	seq := chat.Seq(serverID)
	b := psql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		Where(sq.NotEq{"sent_at": nil}).
		Where(sq.Or{
			sq.Lt{"sent_at": at},
			sq.And{
				sq.Eq{"sent_at": at},
				sq.Or{
					sq.Lt{"server_seq": seq},
					sq.And{sq.Eq{"server_seq": seq}, sq.Lt{"server_id": serverID}},
				},
			},
		})
	return s.newest(ctx, "latest before", b)
}

func (s *Store) newest(ctx context.Context, op string, b sq.SelectBuilder) (chat.ChatMessage, bool, error) {
	query, args, err := b.OrderBy("sent_at DESC", "server_seq DESC", "server_id DESC").Limit(1).ToSql()
	if err != nil {
		return chat.ChatMessage{}, false, wrap(op, err)
	}
	m, err := scanOne(s.db.QueryRowContext(ctx, query, args...), op)
	switch {
	case errors.Is(err, ErrNotFound):
		return chat.ChatMessage{}, false, nil
	case err != nil:
		return chat.ChatMessage{}, false, wrap(op, err)
	}
	return m, true, nil
}

// EditMessage replaces the content of a cached message and returns the
// stored row. Deleted messages keep their placeholder.
func (s *Store) EditMessage(ctx context.Context, ref chat.MessageRef, content string) (chat.ChatMessage, error) {
	var stored chat.ChatMessage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMessage(ctx, tx, ref.Key())
		if err != nil {
			return err
		}
		stored = m.WithContent(content)
		return writeMessage(ctx, tx, stored)
	})
	if err != nil {
		return chat.ChatMessage{}, wrap("edit message", err)
	}
	return stored, nil
}

// MarkDeleted soft-deletes a cached message. changed is false when the row
// was already deleted.
func (s *Store) MarkDeleted(ctx context.Context, ref chat.MessageRef) (stored chat.ChatMessage, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getMessage(ctx, tx, ref.Key())
		if err != nil {
			return err
		}
		if m.IsDeleted {
			stored = m
			return nil
		}
		stored, changed = m.Deleted(), true
		return writeMessage(ctx, tx, stored)
	})
	if err != nil {
		return chat.ChatMessage{}, false, wrap("mark deleted", err)
	}
	return stored, changed, nil
}

// MarkRead adds reader to the ReadBy set of the given confirmed messages of a
// conversation. Unknown ids are skipped. Returns the updated rows.
func (s *Store) MarkRead(ctx context.Context, conversationID int64, reader string, serverIDs []string) ([]chat.ChatMessage, error) {
	updated := []chat.ChatMessage{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range serverIDs {
			m, err := getMessage(ctx, tx, chat.Confirmed(id).Key())
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if m.ConversationID != conversationID {
				continue
			}
			m = m.MarkReadBy(reader)
			if err := writeMessage(ctx, tx, m); err != nil {
				return err
			}
			updated = append(updated, m)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("mark read", err)
	}
	return updated, nil
}

// ClearConversation removes every cached message of a conversation.
func (s *Store) ClearConversation(ctx context.Context, conversationID int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
			return err
		}
		return unmarkHistory(ctx, tx, conversationID)
	})
	return wrap("clear conversation", err)
}

// InvalidateConversation removes the confirmed messages of a conversation so
// the next load refetches them. Pending rows survive.
func (s *Store) InvalidateConversation(ctx context.Context, conversationID int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ? AND server_id IS NOT NULL`,
			conversationID)
		if err != nil {
			return err
		}
		return unmarkHistory(ctx, tx, conversationID)
	})
	return wrap("invalidate conversation", err)
}

// MarkHistoryLoaded records that the newest page of a conversation has been
// fetched into the cache.
func (s *Store) MarkHistoryLoaded(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_synced (conversation_id, synced_at) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET synced_at = excluded.synced_at`,
		conversationID, time.Now().UnixNano())
	return wrap("mark history loaded", err)
}

// HistoryLoaded reports whether the cached messages of a conversation include
// its newest page. It is false after InvalidateConversation or
// ClearConversation until the page is fetched again, however many rows
// arrived meanwhile.
func (s *Store) HistoryLoaded(ctx context.Context, conversationID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_synced WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return false, wrap("history loaded", err)
	}
	return n > 0, nil
}

func unmarkHistory(ctx context.Context, q queryer, conversationID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM history_synced WHERE conversation_id = ?`, conversationID)
	return err
}

// ClearAll empties the cache.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "conversations", "history_synced"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
	return wrap("clear all", err)
}

// CountMessages returns the number of cached rows of a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, wrap("count messages", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row, what string) (chat.ChatMessage, error) {
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ChatMessage{}, fmt.Errorf("message %s: %w", what, ErrNotFound)
	}
	return m, err
}

func queryMessages(ctx context.Context, q queryer, query string, args []any) ([]chat.ChatMessage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []chat.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func scanMessage(r rowScanner) (chat.ChatMessage, error) {
	var (
		m                 chat.ChatMessage
		key, status       string
		readBy            string
		serverID          sql.NullString
		seq               int64
		deleted           int
		sentAt, createdAt sql.NullInt64
	)
	err := r.Scan(
		&key, &m.ConversationID, &serverID, &seq, &m.LocalKey,
		&m.SenderID, &m.SenderName, &m.SenderAvatar, &m.Content,
		&sentAt, &status, &deleted, &readBy, &createdAt,
	)
	if err != nil {
		return chat.ChatMessage{}, err
	}

	if m.Ref, err = chat.ParseKey(key); err != nil {
		return chat.ChatMessage{}, err
	}
	if m.Status, err = chat.ParseDeliveryStatus(status); err != nil {
		return chat.ChatMessage{}, err
	}
	if m.ReadBy, err = unmarshalNames(readBy); err != nil {
		return chat.ChatMessage{}, err
	}
	m.IsDeleted = deleted != 0
	m.Timestamp = fromNanos(sentAt)
	m.CreatedAt = fromNanos(createdAt)
	return m, nil
}
