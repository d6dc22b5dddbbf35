package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/hirechat/internal/chat"
)

var summaryColumns = []string{
	"id", "members", "creator_id",
	"name_one", "avatar_one", "name_two", "avatar_two",
	"last_message", "last_message_sender_name", "last_message_id", "last_at",
	"new_message_unread",
}

const summaryUpsertSuffix = `ON CONFLICT(id) DO UPDATE SET
	members = excluded.members,
	creator_id = excluded.creator_id,
	name_one = excluded.name_one,
	avatar_one = excluded.avatar_one,
	name_two = excluded.name_two,
	avatar_two = excluded.avatar_two,
	last_message = excluded.last_message,
	last_message_sender_name = excluded.last_message_sender_name,
	last_message_id = excluded.last_message_id,
	last_at = excluded.last_at,
	new_message_unread = excluded.new_message_unread`

// UpsertSummary stores a conversation summary, replacing any previous row.
// IsOnline and WhosTyping are derived state and are not persisted.
func (s *Store) UpsertSummary(ctx context.Context, sum chat.ConversationSummary) error {
	return wrap("upsert summary", writeSummary(ctx, s.db, sum))
}

// UpsertSummaries stores a batch of summaries in one transaction.
func (s *Store) UpsertSummaries(ctx context.Context, sums []chat.ConversationSummary) error {
	if len(sums) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sum := range sums {
			if err := writeSummary(ctx, tx, sum); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("upsert summaries", err)
}

func writeSummary(ctx context.Context, q queryer, sum chat.ConversationSummary) error {
	members, err := marshalNames(sum.Members)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("conversations").
		Columns(summaryColumns...).
		Values(
			sum.ID, members, sum.CreatorID,
			sum.NameOne, sum.AvatarOne, sum.NameTwo, sum.AvatarTwo,
			sum.LastMessage, sum.LastMessageSenderName, sum.LastMessageID, nanos(sum.Timestamp),
			boolInt(sum.NewMessageUnread),
		).
		Suffix(summaryUpsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("conversation %d: %w", sum.ID, err)
	}
	return nil
}

// Summary returns the cached summary of a conversation, or ErrNotFound.
func (s *Store) Summary(ctx context.Context, id int64) (chat.ConversationSummary, error) {
	query, args, err := psql.Select(summaryColumns...).
		From("conversations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return chat.ConversationSummary{}, wrap("summary", err)
	}

	sum, err := scanSummary(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ConversationSummary{}, wrap("summary", fmt.Errorf("conversation %d: %w", id, ErrNotFound))
	}
	if err != nil {
		return chat.ConversationSummary{}, wrap("summary", err)
	}
	return sum, nil
}

// Summaries returns every cached summary, newest preview first. Conversations
// without messages sort last. Returns an empty slice (not nil) when none exist.
func (s *Store) Summaries(ctx context.Context) ([]chat.ConversationSummary, error) {
	query, args, err := psql.Select(summaryColumns...).
		From("conversations").
		OrderBy("last_at IS NULL", "last_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, wrap("summaries", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("summaries", err)
	}
	defer rows.Close()

	sums := []chat.ConversationSummary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, wrap("summaries", err)
		}
		sums = append(sums, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("summaries", err)
	}
	return sums, nil
}

// SetUnread updates only the unread flag of a conversation.
func (s *Store) SetUnread(ctx context.Context, id int64, unread bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET new_message_unread = ? WHERE id = ?`, boolInt(unread), id)
	if err != nil {
		return wrap("set unread", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("set unread", fmt.Errorf("conversation %d: %w", id, ErrNotFound))
	}
	return nil
}

func scanSummary(r rowScanner) (chat.ConversationSummary, error) {
	var (
		sum     chat.ConversationSummary
		members string
		lastAt  sql.NullInt64
		unread  int
	)
	err := r.Scan(
		&sum.ID, &members, &sum.CreatorID,
		&sum.NameOne, &sum.AvatarOne, &sum.NameTwo, &sum.AvatarTwo,
		&sum.LastMessage, &sum.LastMessageSenderName, &sum.LastMessageID, &lastAt,
		&unread,
	)
	if err != nil {
		return chat.ConversationSummary{}, err
	}
	if sum.Members, err = unmarshalNames(members); err != nil {
		return chat.ConversationSummary{}, err
	}
	sum.Timestamp = fromNanos(lastAt)
	sum.NewMessageUnread = unread != 0
	return sum, nil
}
