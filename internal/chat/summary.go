package chat

import (
	"cmp"
	"slices"
	"time"
)

// Typer is a participant currently composing a message.
type Typer struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ConversationSummary is the preview row of a conversation list.
type ConversationSummary struct {
	ID        int64    `json:"id"`
	Members   []string `json:"members"`
	CreatorID string   `json:"creatorId"`

	NameOne   string `json:"nameOne"`
	AvatarOne string `json:"avatarOne,omitempty"`
	NameTwo   string `json:"nameTwo"`
	AvatarTwo string `json:"avatarTwo,omitempty"`

	LastMessage           string    `json:"lastMessage"`
	LastMessageSenderName string    `json:"lastMessageSenderName"`
	LastMessageID         string    `json:"lastMessageId,omitempty"`
	Timestamp             time.Time `json:"timestamp"` // zero when the conversation has no messages

	NewMessageUnread bool `json:"newMessageUnread"`

	// Derived on read, never persisted.
	IsOnline   bool    `json:"isOnline"`
	WhosTyping []Typer `json:"whosTyping,omitempty"`
}

// Clone returns a deep copy of s.
func (s ConversationSummary) Clone() ConversationSummary {
	s.Members = slices.Clone(s.Members)
	s.WhosTyping = slices.Clone(s.WhosTyping)
	return s
}

// HasLatest reports whether the summary points at a message.
func (s ConversationSummary) HasLatest() bool {
	return s.LastMessageID != ""
}

// IsLatest reports whether m is the message the preview shows. A summary
// listed by the server carries no message id; it matches the confirmed
// message sent at its timestamp.
func (s ConversationSummary) IsLatest(m ChatMessage) bool {
	id := m.ServerID()
	if id == "" {
		return false
	}
	if s.HasLatest() {
		return s.LastMessageID == id
	}
	return !s.Timestamp.IsZero() && m.Timestamp.Equal(s.Timestamp)
}

// Supersedes reports whether m would become the preview: it is confirmed and
// orders at or after the current latest position. A summary that only knows
// its timestamp, as listed by the server, is superseded by messages not older
// than it.
func (s ConversationSummary) Supersedes(m ChatMessage) bool {
	if !m.Ref.IsConfirmed() {
		return false
	}
	if !s.HasLatest() {
		return s.Timestamp.IsZero() || !m.Timestamp.Before(s.Timestamp)
	}
	return ComparePosition(m.Timestamp, m.ServerID(), s.Timestamp, s.LastMessageID) >= 0
}

// SetLatest points the preview at m.
func (s *ConversationSummary) SetLatest(m ChatMessage) {
	s.LastMessage = m.Content
	s.LastMessageSenderName = m.SenderName
	s.LastMessageID = m.ServerID()
	s.Timestamp = m.Timestamp
}

// ClearLatest empties the preview fields.
func (s *ConversationSummary) ClearLatest() {
	s.LastMessage = ""
	s.LastMessageSenderName = ""
	s.LastMessageID = ""
	s.Timestamp = time.Time{}
}

// Counterpart returns the display identity of the other side for viewerName.
func (s ConversationSummary) Counterpart(viewerName string) (name, avatar string) {
	if s.NameOne == viewerName {
		return s.NameTwo, s.AvatarTwo
	}
	return s.NameOne, s.AvatarOne
}

// Others returns the members other than viewerID.
func (s ConversationSummary) Others(viewerID string) []string {
	out := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		if m != viewerID {
			out = append(out, m)
		}
	}
	return out
}

// MergeProfile copies membership and display fields from other, keeping the
// preview and unread state of s.
func (s *ConversationSummary) MergeProfile(other ConversationSummary) {
	if len(other.Members) > 0 {
		s.Members = slices.Clone(other.Members)
	}
	if other.CreatorID != "" {
		s.CreatorID = other.CreatorID
	}
	if other.NameOne != "" || other.NameTwo != "" {
		s.NameOne, s.AvatarOne = other.NameOne, other.AvatarOne
		s.NameTwo, s.AvatarTwo = other.NameTwo, other.AvatarTwo
	}
}

// SortSummaries orders a conversation list newest first. Conversations
// without messages come last, by id.
func SortSummaries(list []ConversationSummary) {
	slices.SortStableFunc(list, func(a, b ConversationSummary) int {
		az, bz := a.Timestamp.IsZero(), b.Timestamp.IsZero()
		switch {
		case az && !bz:
			return 1
		case !az && bz:
			return -1
		}
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Draft is unsent composer text for a conversation. Drafts are local only.
type Draft struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}
