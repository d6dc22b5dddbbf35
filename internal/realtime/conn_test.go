package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubServer answers every invoke with a completion echoing the first
// argument and then pushes a UserOnline event.
func hubServer(t *testing.T, gotAuth chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := DecodeFrame(data)
			if err != nil || f.Type != FrameInvoke {
				continue
			}
			reply, _ := Frame{Type: FrameCompletion, ID: f.ID, Result: f.Payload()}.Encode()
			if err := ws.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
			event, _ := NewFrame(FrameEvent, "", "UserOnline", map[string]string{"userId": "u2"})
			push, _ := event.Encode()
			if err := ws.WriteMessage(websocket.TextMessage, push); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := hubServer(t, auth)
	defer srv.Close()

	dialer := &WebSocketDialer{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:        "secret",
		WriteTimeout: time.Second,
	}
	m := NewManager(dialer)

	online := make(chan json.RawMessage, 1)
	m.On("UserOnline", func(p json.RawMessage) { online <- p })

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, "Bearer secret", <-auth)

	result, err := m.Invoke(context.Background(), "JoinGroup", "12")
	require.NoError(t, err)
	assert.JSONEq(t, `"12"`, string(result))

	select {
	case p := <-online:
		assert.JSONEq(t, `{"userId":"u2"}`, string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWebSocketDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	dialer := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	_, err := dialer.Dial(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestPipe_CloseEndsBothSides(t *testing.T) {
	client, server := Pipe()
	require.NoError(t, client.WriteFrame([]byte("x")))

	data, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	client.Close()
	_, err = server.ReadFrame()
	assert.Error(t, err)
	assert.Error(t, server.WriteFrame([]byte("y")))
}
