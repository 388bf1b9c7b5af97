package vision

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translatemenu/internal/menu"
	"translatemenu/internal/preferences"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestExtract(t *testing.T) {
	var got chatRequest
	var rawUser []any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		var generic struct {
			Messages []struct {
				Content any `json:"content"`
			} `json:"messages"`
		}
		if assert.NoError(t, json.Unmarshal(body, &generic)) && len(generic.Messages) == 2 {
			rawUser, _ = generic.Messages[1].Content.([]any)
		}

		_, _ = io.WriteString(w, completion(`{"isMenu":true,"menuItems":[
			{"name":"Gyoza","price":6.5,"description":"Empanadillas","recommended":true,"titleEnglish":"Gyoza","descriptionEnglish":"Pan-fried dumplings"},
			{"name":"Sake","price":"-","description":"Vino de arroz","recommended":false,"titleEnglish":"Sake","descriptionEnglish":"Rice wine"}]}`))
	})

	prefs := &preferences.Preferences{Country: "Spain", Language: "Spanish", SelectedPreferences: json.RawMessage(`{"diet":["vegetarian"]}`)}
	m, err := c.Extract(context.Background(), [][]byte{[]byte("jpeg-1"), []byte("jpeg-2")}, prefs)
	require.NoError(t, err)

	assert.True(t, m.IsMenu)
	require.Len(t, m.Items, 2)
	assert.Equal(t, menu.PriceOf(6.5), m.Items[0].Price)
	assert.False(t, m.Items[1].Price.Known)
	assert.Nil(t, m.Items[0].Image)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
	sys, _ := got.Messages[0].Content.(string)
	assert.Contains(t, sys, `"Spain"`)
	assert.Contains(t, sys, "vegetarian")
	require.Len(t, rawUser, 3)
	img := rawUser[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(img, "data:image/jpeg;base64,"))
}

func TestExtractNotAMenu(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion(`{"isMenu":false,"menuItems":[{"name":"stray","price":"-","description":"x","recommended":false,"titleEnglish":"","descriptionEnglish":""}]}`))
	})
	m, err := c.Extract(context.Background(), [][]byte{[]byte("cat photo")}, nil)
	require.NoError(t, err)
	assert.Equal(t, menu.NotAMenu(), m)
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "provider error", status: http.StatusTooManyRequests, body: `{"error":{"message":"Rate limit reached"}}`, want: "Rate limit reached"},
		{name: "gateway page", status: http.StatusBadGateway, body: `<html><body>502 Bad Gateway</body></html>`, want: "vision request failed (502): <html><body>502 Bad Gateway"},
		{name: "garbled success", status: http.StatusOK, body: `<html>`, want: "vision response (200)"},
		{name: "refusal", status: http.StatusOK, body: `{"choices":[{"finish_reason":"stop","message":{"content":"","refusal":"cannot help"}}]}`, want: "refused"},
		{name: "truncated", status: http.StatusOK, body: `{"choices":[{"finish_reason":"length","message":{"content":"{\"isMenu\":tr"}}]}`, want: "truncated"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, want: "no choices"},
		{name: "bad content", status: http.StatusOK, body: completion(`not json`), want: "decode menu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.Extract(context.Background(), [][]byte{[]byte("x")}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSystemPromptWithoutPreferences(t *testing.T) {
	p := systemPrompt(nil)
	assert.Contains(t, p, "None specified")
	assert.Contains(t, p, "isMenu to false")
}
