package chat

import (
	"fmt"
	"time"
)

// SentinelID is the id a message carries on the wire until the server
// assigns one.
const SentinelID = "0"

// WireMessage is the JSON shape of a message exchanged with the server.
type WireMessage struct {
	ID             string     `json:"id"`
	ClientKey      string     `json:"clientKey,omitempty"`
	ConversationID int64      `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName"`
	SenderAvatar   string     `json:"senderAvatar,omitempty"`
	Content        string     `json:"content"`
	Timestamp      *time.Time `json:"timestamp"`
	DeliveryStatus string     `json:"deliveryStatus"`
	IsDeleted      bool       `json:"isDeleted"`
	ReadBy         []string   `json:"readBy,omitempty"`
}

// WireConversation is the JSON shape of a conversation summary.
type WireConversation struct {
	ID                    int64      `json:"id"`
	Members               []string   `json:"members"`
	CreatorID             string     `json:"creatorId"`
	NameOne               string     `json:"nameOne"`
	AvatarOne             string     `json:"avatarOne,omitempty"`
	NameTwo               string     `json:"nameTwo"`
	AvatarTwo             string     `json:"avatarTwo,omitempty"`
	LastMessage           string     `json:"lastMessage"`
	LastMessageSenderName string     `json:"lastMessageSenderName"`
	Timestamp             *time.Time `json:"timestamp"`
}

// ToWire converts m to its wire shape. Pending messages carry SentinelID.
func ToWire(m ChatMessage) WireMessage {
	w := WireMessage{
		ID:             SentinelID,
		ClientKey:      m.LocalKey,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		Content:        m.Content,
		DeliveryStatus: m.Status.String(),
		IsDeleted:      m.IsDeleted,
		ReadBy:         m.ReadBy,
	}
	if id, ok := m.Ref.ServerID(); ok {
		w.ID = id
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp.UTC()
		w.Timestamp = &ts
	}
	return w
}

// FromWire converts a wire message. A sentinel or empty id yields a pending
// reference keyed by ClientKey.
func FromWire(w WireMessage) (ChatMessage, error) {
	status := StatusDelivered
	if w.DeliveryStatus != "" {
		s, err := ParseDeliveryStatus(w.DeliveryStatus)
		if err != nil {
			return ChatMessage{}, err
		}
		status = s
	}

	m := ChatMessage{
		LocalKey:       w.ClientKey,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		SenderName:     w.SenderName,
		SenderAvatar:   w.SenderAvatar,
		Content:        NormalizeContent(w.Content),
		Status:         status,
		IsDeleted:      w.IsDeleted,
		ReadBy:         w.ReadBy,
	}

	if w.ID == "" || w.ID == SentinelID {
		if w.ClientKey == "" {
			return ChatMessage{}, fmt.Errorf("pending message without client key")
		}
		m.Ref = Pending(w.ClientKey)
		m.Status = StatusSending
		return m, nil
	}

	if w.Timestamp == nil {
		return ChatMessage{}, fmt.Errorf("message %s: missing timestamp", w.ID)
	}
	m.Ref = Confirmed(w.ID)
	m.Timestamp = w.Timestamp.UTC()
	if m.Status == StatusSending {
		m.Status = StatusDelivered
	}
	if m.IsDeleted {
		m = m.Deleted()
	}
	return m, nil
}

// SummaryFromWire converts a wire conversation.
func SummaryFromWire(w WireConversation) ConversationSummary {
	s := ConversationSummary{
		ID:                    w.ID,
		Members:               w.Members,
		CreatorID:             w.CreatorID,
		NameOne:               w.NameOne,
		AvatarOne:             w.AvatarOne,
		NameTwo:               w.NameTwo,
		AvatarTwo:             w.AvatarTwo,
		LastMessage:           w.LastMessage,
		LastMessageSenderName: w.LastMessageSenderName,
	}
	if w.Timestamp != nil {
		s.Timestamp = w.Timestamp.UTC()
	}
	return s
}

// Inbound event payloads.

// ReceivedPayload is pushed when a message is posted to a conversation.
type ReceivedPayload struct {
	Conversation WireConversation `json:"conversation"`
	ChatHistory  WireMessage      `json:"chatHistory"`
}

// TypingPayload is pushed when a participant starts or stops typing.
type TypingPayload struct {
	IsTyping       bool   `json:"isTyping"`
	TyperName      string `json:"typerName"`
	TyperID        string `json:"typerId,omitempty"`
	ConversationID int64  `json:"conversationId"`
}

// EditedPayload is pushed when a message's content changes.
type EditedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
	NewContent     string `json:"newContent"`
}

// DeletedPayload is pushed when a message is deleted.
type DeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
}

// OnlinePayload is pushed when a user connects.
type OnlinePayload struct {
	UserID string `json:"userId"`
}

// OfflinePayload is pushed when a user disconnects.
type OfflinePayload struct {
	UserID     string    `json:"userId"`
	LastActive time.Time `json:"lastActive"`
}

// ReadPayload is pushed when a participant reads messages.
type ReadPayload struct {
	ConversationID int64    `json:"conversationId"`
	ReaderName     string   `json:"readerName"`
	MessageIDs     []string `json:"messageIds"`
}
