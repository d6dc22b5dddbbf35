package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/hirechat/internal/chat"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMessage creates a confirmed message sent offset after t0.
func createTestMessage(conv int64, id string, offset time.Duration, content string) chat.ChatMessage {
	return chat.ChatMessage{
		Ref:            chat.Confirmed(id),
		ConversationID: conv,
		SenderID:       "u1",
		SenderName:     "Ada",
		Content:        content,
		Timestamp:      t0.Add(offset),
		Status:         chat.StatusDelivered,
	}
}

// createTestPending creates a pending message created offset after t0.
func createTestPending(conv int64, localKey string, offset time.Duration, content string) chat.ChatMessage {
	return chat.NewPending(localKey, conv, chat.Participant{ID: "u1", Name: "Ada"}, content, t0.Add(offset))
}

func keys(msgs []chat.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}
