package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/hirechat/internal/chat"
)

const timeLayout = "2006-01-02 15:04"

// conversationList renders summaries from the viewer's side.
type conversationList struct {
	viewer string
	items  []chat.ConversationSummary
}

func (l conversationList) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

func (l conversationList) RenderText(w io.Writer) error {
	if len(l.items) == 0 {
		_, err := fmt.Fprintln(w, "No conversations.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWITH\tLAST MESSAGE\tWHEN\t")
	for _, s := range l.items {
		name, _ := s.Counterpart(l.viewer)
		marker := ""
		if s.NewMessageUnread {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%s\t\n", s.ID, marker, name, preview(s), when(s.Timestamp))
	}
	return tw.Flush()
}

// messageList renders the messages of one conversation, oldest first.
type messageList []chat.ChatMessage

func (l messageList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]chat.ChatMessage(l))
}

func (l messageList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No messages.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tFROM\tSTATUS\tMESSAGE\t")
	for _, m := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", messageID(m), when(m.Timestamp), m.SenderName, m.Status, oneLine(m.Content))
	}
	return tw.Flush()
}

// sentMessage is the result of send.
type sentMessage struct {
	chat.ChatMessage
}

func (s sentMessage) RenderText(w io.Writer) error {
	if s.Ref.IsPending() {
		_, err := fmt.Fprintf(w, "Pending %s (resend with --resend %s)\n", messageID(s.ChatMessage), s.LocalKey)
		return err
	}
	_, err := fmt.Fprintf(w, "Sent %s at %s\n", s.ServerID(), when(s.Timestamp))
	return err
}

func messageID(m chat.ChatMessage) string {
	if id := m.ServerID(); id != "" {
		return id
	}
	return "pending:" + m.LocalKey
}

func preview(s chat.ConversationSummary) string {
	if s.LastMessage == "" {
		return "-"
	}
	if s.LastMessageSenderName == "" {
		return oneLine(s.LastMessage)
	}
	return oneLine(s.LastMessageSenderName + ": " + s.LastMessage)
}

func when(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(timeLayout)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:59]) + "…"
	}
	return s
}
