package testutil

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/realtime"
)

func TestFakeHub_InvokeRecordsAndResponds(t *testing.T) {
	h := NewFakeHub()
	h.Respond("Echo", func(args []any) (any, error) { return args[0], nil })

	raw, err := h.Invoke(t.Context(), "Echo", "hi")
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(raw))

	raw, err = h.Invoke(t.Context(), "JoinGroup", int64(3))
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	calls := h.CallsTo("JoinGroup")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{int64(3)}, calls[0].Args)
	assert.Len(t, h.Calls(), 2)
}

func TestFakeHub_Disconnected(t *testing.T) {
	h := NewFakeHub()
	h.SetConnected(false)

	_, err := h.Invoke(t.Context(), "SendMessage")
	assert.True(t, realtime.IsNotConnected(err))
	assert.True(t, realtime.IsNotConnected(h.Send(t.Context(), "SendTypingIndicator")))
	assert.Len(t, h.Calls(), 2, "failed calls are still recorded")
}

func TestFakeHub_ResponderErrorIsRemote(t *testing.T) {
	h := NewFakeHub()
	h.Respond("EditMessage", func([]any) (any, error) { return nil, errors.New("forbidden") })

	_, err := h.Invoke(t.Context(), "EditMessage")
	var re *realtime.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "forbidden", re.Message)
}

func TestFakeHub_EmitAndReconnect(t *testing.T) {
	h := NewFakeHub()

	var got []string
	sub := h.On("UserOnline", func(p json.RawMessage) { got = append(got, string(p)) })
	reconnects := 0
	h.OnReconnected(func() { reconnects++ })

	assert.Equal(t, 1, h.Emit("UserOnline", chat.OnlinePayload{UserID: "u1"}))
	sub.Unsubscribe()
	assert.Equal(t, 0, h.Emit("UserOnline", chat.OnlinePayload{UserID: "u2"}))

	h.SetConnected(false)
	h.Reconnect()

	assert.Equal(t, []string{`{"userId":"u1"}`}, got)
	assert.Equal(t, 1, reconnects)
	_, err := h.Invoke(t.Context(), "JoinGroup", 1)
	assert.NoError(t, err)
}

func TestSendAcker(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ack := SendAcker(42, func() time.Time { return ts })

	pending := chat.NewPending("k1", 7, chat.Participant{ID: "u1", Name: "Ana"}, "hello", ts)
	v, err := ack([]any{chat.ToWire(pending)})
	require.NoError(t, err)

	w := v.(chat.WireMessage)
	assert.Equal(t, "42", w.ID)
	assert.Equal(t, "k1", w.ClientKey)
	assert.True(t, w.Timestamp.Equal(ts))

	v, err = ack([]any{chat.ToWire(pending)})
	require.NoError(t, err)
	assert.Equal(t, "43", v.(chat.WireMessage).ID)

	_, err = ack(nil)
	assert.Error(t, err)
}

func TestFakeAPI_Pages(t *testing.T) {
	f := NewFixtures(1)
	a, b := f.Participant(), f.Participant()
	api := NewFakeAPI()
	api.SetHistory(7, f.Messages(7, 5, a, b))

	page1, err := api.FetchPage(t.Context(), 7, 1, 2)
	require.NoError(t, err)
	page2, err := api.FetchPage(t.Context(), 7, 2, 2)
	require.NoError(t, err)
	page3, err := api.FetchPage(t.Context(), 7, 3, 2)
	require.NoError(t, err)
	page4, err := api.FetchPage(t.Context(), 7, 4, 2)
	require.NoError(t, err)

	ids := func(msgs []chat.ChatMessage) []string {
		out := []string{}
		for _, m := range msgs {
			out = append(out, m.ServerID())
		}
		return out
	}
	assert.Equal(t, []string{"4", "5"}, ids(page1))
	assert.Equal(t, []string{"2", "3"}, ids(page2))
	assert.Equal(t, []string{"1"}, ids(page3))
	assert.Empty(t, page4)
	assert.Equal(t, 4, api.Fetches())
	assert.Equal(t, Fetch{ConversationID: 7, Page: 3, Size: 2}, api.FetchLog()[2])
}

func TestFakeAPI_MutationsAndFailure(t *testing.T) {
	f := NewFixtures(1)
	a, b := f.Participant(), f.Participant()
	api := NewFakeAPI()
	api.SetHistory(7, f.Messages(7, 2, a, b))

	require.NoError(t, api.UpdateMessage(t.Context(), "1", 7, "edited"))
	require.NoError(t, api.DeleteMessage(t.Context(), "2"))

	page, err := api.FetchPage(t.Context(), 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "edited", page[0].Content)
	assert.True(t, page[1].IsDeleted)
	assert.Equal(t, []Update{{MessageID: "1", ConversationID: 7, Content: "edited"}}, api.Updates())
	assert.Equal(t, []string{"2"}, api.Deletes())

	boom := errors.New("boom")
	api.Fail(boom)
	_, err = api.Conversations(t.Context())
	assert.ErrorIs(t, err, boom)
}

func TestFixtures_Deterministic(t *testing.T) {
	a1 := NewFixtures(9).Participant()
	a2 := NewFixtures(9).Participant()
	assert.Equal(t, a1, a2)

	f := NewFixtures(9)
	p := f.Participant()
	m1 := f.Message(1, p)
	m2 := f.Message(1, p)
	assert.Equal(t, "1", m1.ServerID())
	assert.Equal(t, "2", m2.ServerID())
	assert.True(t, m2.Timestamp.After(m1.Timestamp))
	assert.Negative(t, chat.Compare(m1, m2))
}
