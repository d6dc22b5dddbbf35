package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func confirmed(id string, ts time.Time, content string) ChatMessage {
	return ChatMessage{
		Ref:            Confirmed(id),
		ConversationID: 1,
		SenderID:       "u1",
		SenderName:     "Ada",
		Content:        content,
		Timestamp:      ts,
		Status:         StatusDelivered,
	}
}

func TestDeliveryStatus_Parse(t *testing.T) {
	for _, s := range []DeliveryStatus{StatusSending, StatusDelivered, StatusRead} {
		got, err := ParseDeliveryStatus(s.String())
		assert.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseDeliveryStatus("lost")
	assert.Error(t, err)
}

func TestNewPending(t *testing.T) {
	m := NewPending("k1", 9, Participant{ID: "u1", Name: "Ada"}, "hello  \n", t0)

	assert.True(t, m.Ref.IsPending())
	assert.Equal(t, "k1", m.LocalKey)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, StatusSending, m.Status)
	assert.True(t, m.Timestamp.IsZero())
	assert.Equal(t, t0, m.CreatedAt)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := confirmed("1", t0, "hi")
	incoming := confirmed("1", t0, "hi there").MarkReadBy("Bob")

	once := Merge(existing, incoming)
	twice := Merge(once, incoming)

	assert.Equal(t, once, twice)
	assert.Equal(t, "hi there", once.Content)
	assert.Equal(t, []string{"Bob"}, once.ReadBy)
}

func TestMerge_DeletionIsSticky(t *testing.T) {
	deleted := confirmed("1", t0, "hi").Deleted()
	late := confirmed("1", t0, "hi")

	got := Merge(deleted, late)

	assert.True(t, got.IsDeleted)
	assert.Equal(t, DeletedPlaceholder, got.Content)
}

func TestMerge_StatusNeverRegresses(t *testing.T) {
	read := confirmed("1", t0, "hi").MarkReadBy("Bob")
	stale := confirmed("1", t0, "hi")

	got := Merge(read, stale)

	assert.Equal(t, StatusRead, got.Status)
	assert.Equal(t, []string{"Bob"}, got.ReadBy)
}

func TestMerge_KeepsLocalKey(t *testing.T) {
	existing := confirmed("1", t0, "hi")
	existing.LocalKey = "k1"

	got := Merge(existing, confirmed("1", t0, "hi"))
	assert.Equal(t, "k1", got.LocalKey)
}

func TestWithContent_DeletedUnchanged(t *testing.T) {
	m := confirmed("1", t0, "hi").Deleted().WithContent("new")
	assert.Equal(t, DeletedPlaceholder, m.Content)
}

func TestCanEdit(t *testing.T) {
	m := confirmed("1", t0, "hi")

	assert.True(t, CanEdit(m, "u1", t0.Add(time.Hour)))
	assert.True(t, CanEdit(m, "u1", t0.Add(EditWindow)))
	assert.False(t, CanEdit(m, "u1", t0.Add(EditWindow+time.Second)), "outside window")
	assert.False(t, CanEdit(m, "u2", t0), "not the author")
	assert.False(t, CanEdit(m.Deleted(), "u1", t0), "deleted")

	pending := NewPending("k", 1, Participant{ID: "u1"}, "x", t0)
	assert.False(t, CanEdit(pending, "u1", t0), "pending")
}

func TestNormalizeContent_NFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	assert.Equal(t, "Caf\u00e9", NormalizeContent(decomposed))
	assert.True(t, IsBlank(" \n\t"))
	assert.False(t, IsBlank(" a "))
}
