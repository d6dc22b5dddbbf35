package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hirechat/internal/chat"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hirechat.db", cfg.DB)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.DraftDelay)
	assert.Equal(t, "invalidate", cfg.EditPolicy)
	assert.Equal(t, Reconnect{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 10}, cfg.Reconnect)
	assert.Error(t, cfg.RequireRemote())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "hirechat.yaml", `
hub_url: wss://chat.example.com/hubs/chat
api_url: https://chat.example.com/api
token: abc
db: /tmp/cache.db
viewer:
  id: u-1
  name: Dana Recruiter
page_size: 50
draft_delay: 750ms
edit_policy: reconcile-row
reconnect:
  initial: 2s
  max: 1m
telemetry:
  metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/hubs/chat", cfg.HubURL)
	assert.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	assert.Equal(t, "/tmp/cache.db", cfg.DB)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 750*time.Millisecond, cfg.DraftDelay)
	assert.Equal(t, "reconcile-row", cfg.EditPolicy)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.Initial)
	assert.Equal(t, time.Minute, cfg.Reconnect.Max)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, ":9090", cfg.Telemetry.MetricsAddr)
	assert.Equal(t, chat.Participant{ID: "u-1", Name: "Dana Recruiter"}, cfg.Participant())
	assert.NoError(t, cfg.RequireRemote())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "hirechat.yaml", "page_size: 50\n")
	t.Setenv("HIRECHAT_PAGE_SIZE", "10")
	t.Setenv("HIRECHAT_TELEMETRY_OTLP_ENDPOINT", "collector:4318")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, "collector:4318", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"edit policy":   "edit_policy: sometimes\n",
		"hub scheme":    "hub_url: http://chat.example.com\n",
		"api scheme":    "api_url: ftp://chat.example.com\n",
		"page size":     "page_size: 0\n",
		"sample ratio":  "telemetry:\n  sample_ratio: 2\n",
		"empty db path": "db: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_ViewerFromToken(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u-9", "unique_name": "Sam Candidate", "picture": "https://img/9.png"})
	path := writeFile(t, "hirechat.yaml", "viewer:\n  name: Sam\n")
	t.Setenv("HIRECHAT_TOKEN", tok)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Viewer{ID: "u-9", Name: "Sam", Avatar: "https://img/9.png"}, cfg.Viewer, "configured fields win")
}

func TestLoad_MalformedToken(t *testing.T) {
	t.Setenv("HIRECHAT_TOKEN", "not-a-jwt")

	_, err := Load("")
	assert.ErrorContains(t, err, "parse access token")
}

func TestIdentityFromToken(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{
		"nameid": "u-3",
		"name":   "Lee",
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})

	p, err := IdentityFromToken(tok)
	require.NoError(t, err, "expiry is the server's concern")
	assert.Equal(t, chat.Participant{ID: "u-3", Name: "Lee"}, p)

	_, err = IdentityFromToken(signedToken(t, jwt.MapClaims{"name": "nobody"}))
	assert.ErrorContains(t, err, "no user id")
}

func TestRequireRemote_ListsEveryMissingKey(t *testing.T) {
	cfg := &Config{HubURL: "wss://x"}

	err := cfg.RequireRemote()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url is not set")
	assert.Contains(t, err.Error(), "token is not set")
	assert.Contains(t, err.Error(), "viewer.id is not set")
	assert.NotContains(t, err.Error(), "hub_url")
}

func TestLoadEnv(t *testing.T) {
	const key = "HIRECHAT_TEST_LOADENV"
	path := writeFile(t, ".env", key+"=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv(key) })

	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv(key))
}
