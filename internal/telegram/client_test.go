package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_PostsMarkdownMessage(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("secret-token", "42", discardLogger())
	c.apiBase = srv.URL

	require.NoError(t, c.Notify(t.Context(), "*hello*"))
	assert.Equal(t, "/botsecret-token/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*hello*", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestNotify_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("tok", "42", discardLogger())
	c.apiBase = srv.URL

	err := c.Notify(t.Context(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNotify_DisabledWithoutCredentials(t *testing.T) {
	c := NewClient("", "42", discardLogger())
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Notify(t.Context(), "x"))
}

func TestNotify_TransportErrorHidesToken(t *testing.T) {
	c := NewClient("very-secret", "42", discardLogger())
	c.apiBase = "http://127.0.0.1:1"

	err := c.Notify(t.Context(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "very-secret")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
