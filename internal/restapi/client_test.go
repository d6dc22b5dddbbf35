package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/telemetry"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", "secret", opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api", "")
	require.Error(t, err)
}

func TestFetchPage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/conversation-messages", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("conversationId"))
		assert.Equal(t, "2", r.URL.Query().Get("pageIndex"))
		assert.Equal(t, "20", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode([]chat.WireMessage{
			{ID: "11", ConversationID: 7, SenderID: "u1", SenderName: "Ana", Content: "hi", Timestamp: &ts, DeliveryStatus: "delivered"},
			{ID: "12", ConversationID: 7, SenderID: "u2", SenderName: "Ben", Content: "gone", Timestamp: &ts, IsDeleted: true},
		})
	})

	msgs, err := c.FetchPage(t.Context(), 7, 2, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, chat.Confirmed("11"), msgs[0].Ref)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[0].Timestamp.Equal(ts))
	assert.True(t, msgs[1].IsDeleted)
	assert.Equal(t, chat.DeletedPlaceholder, msgs[1].Content)
}

func TestFetchPage_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[]")
	})

	msgs, err := c.FetchPage(t.Context(), 7, 9, 20)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFetchPage_BadMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"5","conversationId":7}]`)
	})

	_, err := c.FetchPage(t.Context(), 7, 1, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing timestamp")
}

func TestUpdateMessage(t *testing.T) {
	var got updateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/conversation-messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.UpdateMessage(t.Context(), "42", 7, "edited"))
	assert.Equal(t, updateRequest{MessageID: "42", ConversationID: 7, Content: "edited"}, got)
}

func TestDeleteMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/conversation-messages/42", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.DeleteMessage(t.Context(), "42"))
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not yours", http.StatusForbidden)
	})

	err := c.DeleteMessage(t.Context(), "42")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "not yours", se.Body)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Contains(t, err.Error(), "delete message 42")
}

func TestStatusCode_OtherError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(io.EOF))
}

func TestConversations(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]chat.WireConversation{
			{ID: 1, Members: []string{"u1", "u2"}, NameOne: "Ana", NameTwo: "Ben", LastMessage: "hi", Timestamp: &ts},
			{ID: 2, Members: []string{"u1", "u3"}},
		})
	})

	convs, err := c.Conversations(t.Context())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "hi", convs[0].LastMessage)
	assert.True(t, convs[0].Timestamp.Equal(ts))
	assert.True(t, convs[1].Timestamp.IsZero())
}

func TestMetricsRecorded(t *testing.T) {
	m := telemetry.NewMetrics()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithMetrics(m))

	require.Error(t, c.DeleteMessage(t.Context(), "1"))
	require.Error(t, c.DeleteMessage(t.Context(), "2"))

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "hirechat_rest_requests_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
