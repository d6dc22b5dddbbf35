package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/engine"
	"github.com/roach88/hirechat/internal/store"
)

var viewer = chat.Participant{ID: "u-recruiter", Name: "Dana Recruiter"}

// runCLI executes the root command with the given config file and returns
// its standard output.
func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	full := []string{"--env-file", filepath.Join(t.TempDir(), "none.env")}
	if configPath != "" {
		full = append(full, "--config", configPath)
	}
	cmd.SetArgs(append(full, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

type testEnv struct {
	dir    string
	db     string
	config string
}

// newTestEnv writes a config pointing at apiURL (may be empty) and a hub
// nobody listens on.
func newTestEnv(t *testing.T, apiURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, db: filepath.Join(dir, "cache.db"), config: filepath.Join(dir, "hirechat.yaml")}

	body := fmt.Sprintf(`db: %s
hub_url: ws://127.0.0.1:1/hubs/chat
token: test-token
viewer:
  id: %s
  name: %s
reconnect:
  initial: 1h
  max_attempts: 1
`, env.db, viewer.ID, viewer.Name)
	if apiURL != "" {
		body += "api_url: " + apiURL + "\n"
	}
	require.NoError(t, os.WriteFile(env.config, []byte(body), 0o600))
	return env
}

func (e *testEnv) seed(t *testing.T, sums []chat.ConversationSummary, msgs []chat.ChatMessage) {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.UpsertSummaries(t.Context(), sums))
	require.NoError(t, st.UpsertMessages(t.Context(), msgs))
}

func (e *testEnv) cached(t *testing.T, conv int64) []chat.ChatMessage {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	defer st.Close()
	msgs, err := st.MessagesByConversation(t.Context(), conv)
	require.NoError(t, err)
	return msgs
}

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func message(conv int64, id int, sender chat.Participant, content string) chat.ChatMessage {
	return chat.ChatMessage{
		Ref:            chat.Confirmed(strconv.Itoa(id)),
		ConversationID: conv,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		Content:        content,
		Timestamp:      t0.Add(time.Duration(id) * time.Minute),
		Status:         chat.StatusDelivered,
	}
}

func conversation(id int64, other string) chat.ConversationSummary {
	return chat.ConversationSummary{
		ID:        id,
		Members:   []string{viewer.ID, "u-" + other},
		CreatorID: viewer.ID,
		NameOne:   viewer.Name,
		NameTwo:   other,
	}
}

func TestClear(t *testing.T) {
	env := newTestEnv(t, "")
	candidate := chat.Participant{ID: "u-sam", Name: "Sam"}
	env.seed(t,
		[]chat.ConversationSummary{conversation(1, "Sam"), conversation(2, "Lee")},
		[]chat.ChatMessage{message(1, 1, candidate, "hi"), message(2, 2, candidate, "hey")},
	)

	out, err := runCLI(t, env.config, "clear", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared conversation 1.")
	assert.Empty(t, env.cached(t, 1))
	assert.Len(t, env.cached(t, 2), 1)

	out, err = runCLI(t, env.config, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared cache.")
	assert.Empty(t, env.cached(t, 2))
}

func TestClear_InvalidID(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := runCLI(t, env.config, "clear", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDBFlagOverridesConfig(t *testing.T) {
	env := newTestEnv(t, "")
	other := filepath.Join(env.dir, "other.db")

	_, err := runCLI(t, env.config, "--db", other, "clear")
	require.NoError(t, err)
	assert.FileExists(t, other)
}

func TestConversations_Offline(t *testing.T) {
	env := newTestEnv(t, "")
	sam := conversation(1, "Sam")
	sam.SetLatest(message(1, 5, chat.Participant{ID: "u-sam", Name: "Sam"}, "Is Monday fine?"))
	sam.NewMessageUnread = true
	env.seed(t, []chat.ConversationSummary{conversation(2, "Lee"), sam}, nil)

	out, err := runCLI(t, env.config, "conversations", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "1*")
	assert.Contains(t, out, "Sam: Is Monday fine?")
	assert.Less(t, bytes.Index([]byte(out), []byte("Sam")), bytes.Index([]byte(out), []byte("Lee")), "newest first")

	out, err = runCLI(t, env.config, "--format", "json", "conversations", "--offline")
	require.NoError(t, err)
	var resp struct {
		Status string                     `json:"status"`
		Data   []chat.ConversationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(1), resp.Data[0].ID)
}

func TestConversations_SyncsFromServer(t *testing.T) {
	ts := t0.Add(time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]chat.WireConversation{{
			ID:                    9,
			Members:               []string{viewer.ID, "u-kim"},
			NameOne:               viewer.Name,
			NameTwo:               "Kim",
			LastMessage:           "See you then",
			LastMessageSenderName: "Kim",
			Timestamp:             &ts,
		}})
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t, srv.URL+"/api")

	out, err := runCLI(t, env.config, "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "Kim")
	assert.Contains(t, out, "See you then")

	out, err = runCLI(t, env.config, "conversations", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "See you then", "the server list is cached")
}

func TestConversations_RequiresRemoteConfig(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := runCLI(t, env.config, "conversations")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "api_url is not set")
}

func TestHistory_LoadsPages(t *testing.T) {
	sam := chat.Participant{ID: "u-sam", Name: "Sam"}
	var all []chat.WireMessage
	for i := 1; i <= 5; i++ {
		all = append(all, chat.ToWire(message(3, i, sam, fmt.Sprintf("message %d", i))))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversation-messages", r.URL.Path)
		page, _ := strconv.Atoi(r.URL.Query().Get("pageIndex"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		end := len(all) - (page-1)*size
		out := []chat.WireMessage{}
		if end > 0 {
			out = all[max(0, end-size):end]
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t, srv.URL+"/api")
	require.NoError(t, os.WriteFile(env.config, append(mustRead(t, env.config), []byte("page_size: 2\n")...), 0o600))

	out, err := runCLI(t, env.config, "history", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "message 5")
	assert.NotContains(t, out, "message 3")
	assert.Len(t, env.cached(t, 3), 2)

	out, err = runCLI(t, env.config, "--format", "json", "history", "3", "--pages", "3")
	require.NoError(t, err)
	var resp struct {
		Data []chat.ChatMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 5)
	assert.Equal(t, "1", resp.Data[0].ServerID())
	assert.Equal(t, "5", resp.Data[4].ServerID())
}

func TestHistory_Offline(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := runCLI(t, env.config, "history", "3", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "No messages.")

	_, err = runCLI(t, env.config, "history", "3", "--pages", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSend_UnreachableHubLeavesPending(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	env := newTestEnv(t, srv.URL+"/api")

	out, err := runCLI(t, env.config, "send", "4", "Thanks,", "talk", "soon")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, engine.IsReconcileError(err))
	assert.Contains(t, out, "Pending pending:")

	cached := env.cached(t, 4)
	require.Len(t, cached, 1)
	assert.True(t, cached[0].Ref.IsPending())
	assert.Equal(t, "Thanks, talk soon", cached[0].Content)
}

func TestSend_Arguments(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := runCLI(t, env.config, "send", "4")
	assert.Error(t, err, "content is required")

	_, err = runCLI(t, env.config, "send", "--resend", "k-1", "4")
	assert.Error(t, err, "--resend takes no arguments")
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
