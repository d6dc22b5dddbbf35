package chat_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hirechat/internal/chat"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, ts time.Time) chat.ChatMessage {
	return chat.ChatMessage{Ref: chat.Confirmed(id), ConversationID: 1, Timestamp: ts}
}

func TestCompare_TimestampThenNumericID(t *testing.T) {
	a := msg("9", base)
	b := msg("10", base)
	c := msg("2", base.Add(time.Second))

	assert.Negative(t, chat.Compare(a, b), "numeric tie-break, not lexical")
	assert.Negative(t, chat.Compare(b, c))
	assert.Zero(t, chat.Compare(a, a))
}

func TestCompare_PendingAfterConfirmed(t *testing.T) {
	pending := chat.NewPending("k", 1, chat.Participant{ID: "u"}, "x", base.Add(-time.Hour))
	later := msg("1", base.Add(time.Hour))

	assert.Positive(t, chat.Compare(pending, later))
	assert.Negative(t, chat.Compare(later, pending))
}

func TestSort_ArbitraryInterleaving(t *testing.T) {
	f := gofakeit.New(7)

	for round := 0; round < 20; round++ {
		var msgs []chat.ChatMessage
		for i := 1; i <= 30; i++ {
			// Coarse timestamps force plenty of ties on (timestamp).
			ts := base.Add(time.Duration(f.Number(0, 5)) * time.Minute)
			msgs = append(msgs, msg(fmt.Sprint(i), ts))
		}
		f.ShuffleAnySlice(msgs)

		chat.Sort(msgs)
		require.True(t, chat.IsSorted(msgs), "round %d", round)
	}
}

func TestLatestAndLatestBefore(t *testing.T) {
	msgs := []chat.ChatMessage{
		msg("1", base),
		msg("3", base.Add(2*time.Minute)),
		msg("2", base.Add(time.Minute)),
		chat.NewPending("k", 1, chat.Participant{}, "x", base.Add(time.Hour)),
	}

	latest, ok := chat.Latest(msgs)
	require.True(t, ok)
	assert.Equal(t, "3", latest.ServerID())

	prev, ok := chat.LatestBefore(msgs, latest.Timestamp, latest.ServerID())
	require.True(t, ok)
	assert.Equal(t, "2", prev.ServerID())

	_, ok = chat.LatestBefore(msgs, base, "1")
	assert.False(t, ok)
}
