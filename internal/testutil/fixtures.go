package testutil

import (
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/roach88/hirechat/internal/chat"
)

// Epoch is the timestamp of the first fixture message.
var Epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Fixtures generates deterministic participants, messages and
// conversations. The same seed yields the same data.
type Fixtures struct {
	faker *gofakeit.Faker
	seq   int
}

// NewFixtures creates a generator seeded with seed.
func NewFixtures(seed int64) *Fixtures {
	return &Fixtures{faker: gofakeit.New(seed)}
}

// Participant returns a user with a fresh id.
func (f *Fixtures) Participant() chat.Participant {
	return chat.Participant{
		ID:     f.faker.UUID(),
		Name:   f.faker.Name(),
		Avatar: f.faker.ImageURL(64, 64),
	}
}

// Message returns the next confirmed message from sender. Ids count up from
// 1 and each message is one minute after the previous one.
func (f *Fixtures) Message(conversationID int64, sender chat.Participant) chat.ChatMessage {
	f.seq++
	return chat.ChatMessage{
		Ref:            chat.Confirmed(strconv.Itoa(f.seq)),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderAvatar:   sender.Avatar,
		Content:        f.faker.Sentence(6),
		Timestamp:      Epoch.Add(time.Duration(f.seq) * time.Minute),
		Status:         chat.StatusDelivered,
	}
}

// Messages returns n consecutive messages alternating between a and b.
func (f *Fixtures) Messages(conversationID int64, n int, a, b chat.Participant) []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		sender := a
		if i%2 == 1 {
			sender = b
		}
		out = append(out, f.Message(conversationID, sender))
	}
	return out
}

// Conversation returns a summary for a two-member conversation with no
// preview.
func (f *Fixtures) Conversation(id int64, a, b chat.Participant) chat.ConversationSummary {
	return chat.ConversationSummary{
		ID:        id,
		Members:   []string{a.ID, b.ID},
		CreatorID: a.ID,
		NameOne:   a.Name,
		AvatarOne: a.Avatar,
		NameTwo:   b.Name,
		AvatarTwo: b.Avatar,
	}
}

// Wire converts a message to the payload of a ReceiveMessage event.
func Wire(conv chat.ConversationSummary, m chat.ChatMessage) chat.ReceivedPayload {
	w := chat.WireConversation{
		ID:        conv.ID,
		Members:   conv.Members,
		CreatorID: conv.CreatorID,
		NameOne:   conv.NameOne,
		AvatarOne: conv.AvatarOne,
		NameTwo:   conv.NameTwo,
		AvatarTwo: conv.AvatarTwo,
	}
	return chat.ReceivedPayload{Conversation: w, ChatHistory: chat.ToWire(m)}
}
