package chat

import (
	"fmt"
	"time"
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// EditWindow is how long after sending a message its author may edit it.
const EditWindow = 24 * time.Hour

// DeliveryStatus tracks how far a message has travelled.
// Values are ordered: a status never moves backwards.
type DeliveryStatus int

const (
	StatusSending DeliveryStatus = iota
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{"sending", "delivered", "read"}

// String implements fmt.Stringer.
func (s DeliveryStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("DeliveryStatus(%d)", int(s))
	}
	return statusNames[s]
}

// ParseDeliveryStatus parses the wire name of a status.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	for i, name := range statusNames {
		if name == s {
			return DeliveryStatus(i), nil
		}
	}
	return StatusSending, fmt.Errorf("unknown delivery status %q", s)
}

// Participant is a user as seen by the messaging layer.
type Participant struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

// ChatMessage is one message of a conversation.
type ChatMessage struct {
	Ref MessageRef `json:"ref"`

	// LocalKey is the key the sending client generated. It survives
	// confirmation so an echoed message can be matched to its pending row.
	LocalKey string `json:"localKey,omitempty"`

	ConversationID int64          `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	SenderName     string         `json:"senderName"`
	SenderAvatar   string         `json:"senderAvatar,omitempty"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"` // zero while pending
	Status         DeliveryStatus `json:"deliveryStatus"`
	IsDeleted      bool           `json:"isDeleted"`
	ReadBy         []string       `json:"readBy,omitempty"`

	// CreatedAt is the local creation time, used to order pending messages.
	CreatedAt time.Time `json:"createdAt"`
}

// NewPending builds an optimistic message authored by sender.
func NewPending(localKey string, conversationID int64, sender Participant, content string, now time.Time) ChatMessage {
	return ChatMessage{
		Ref:            Pending(localKey),
		LocalKey:       localKey,
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderAvatar:   sender.Avatar,
		Content:        NormalizeContent(content),
		Status:         StatusSending,
		CreatedAt:      now.UTC(),
	}
}

// Key is shorthand for m.Ref.Key().
func (m ChatMessage) Key() string { return m.Ref.Key() }

// ServerID returns the confirmed id, or "" for pending messages.
func (m ChatMessage) ServerID() string {
	id, _ := m.Ref.ServerID()
	return id
}

// Clone returns a copy that shares no slices with m.
func (m ChatMessage) Clone() ChatMessage {
	if m.ReadBy != nil {
		m.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return m
}

// Deleted returns m soft-deleted: flagged and with placeholder content.
func (m ChatMessage) Deleted() ChatMessage {
	m.IsDeleted = true
	m.Content = DeletedPlaceholder
	return m
}

// WithContent returns m with new content. Deleted messages keep the placeholder.
func (m ChatMessage) WithContent(content string) ChatMessage {
	if m.IsDeleted {
		return m
	}
	m.Content = NormalizeContent(content)
	return m
}

// MarkReadBy appends readers to ReadBy and promotes the status to read.
func (m ChatMessage) MarkReadBy(readers ...string) ChatMessage {
	m.ReadBy = unionNames(m.ReadBy, readers)
	if len(readers) > 0 && m.Status < StatusRead {
		m.Status = StatusRead
	}
	return m
}

// Merge combines the stored version of a message with an incoming one.
//
// Deletion is sticky, delivery status never regresses and ReadBy only grows;
// all other fields take the incoming value. Merge(Merge(a, b), b) equals
// Merge(a, b).
func Merge(existing, incoming ChatMessage) ChatMessage {
	out := incoming.Clone()
	if out.LocalKey == "" {
		out.LocalKey = existing.LocalKey
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	if existing.Status > out.Status {
		out.Status = existing.Status
	}
	out.ReadBy = unionNames(existing.ReadBy, incoming.ReadBy)
	if existing.IsDeleted || out.IsDeleted {
		out = out.Deleted()
	}
	return out
}

// CanEdit reports whether viewerID may edit m at now: only the author, only
// while the message is not deleted and only within EditWindow of sending.
func CanEdit(m ChatMessage, viewerID string, now time.Time) bool {
	if !m.Ref.IsConfirmed() || m.IsDeleted || m.SenderID != viewerID {
		return false
	}
	return now.Sub(m.Timestamp) <= EditWindow
}

func unionNames(a, b []string) []string {
	if len(b) == 0 {
		if a == nil {
			return nil
		}
		return append([]string(nil), a...)
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
