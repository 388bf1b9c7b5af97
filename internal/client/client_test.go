package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translatemenu/internal/poller"
	"translatemenu/internal/preferences"
)

func TestAnalyzeUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Len(t, r.MultipartForm.File["images"], 2)
		_, _ = io.WriteString(w, `{"isMenu":true,"menuItems":[{"name":"Ramen","price":9,"description":"Noodles","recommended":true,"image":"g:i"}],"generationId":"g"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", srv.Client())
	m, err := c.Analyze(context.Background(), []File{{Name: "a.jpg", Data: []byte("a")}, {Name: "b.jpg", Data: []byte("b")}})
	require.NoError(t, err)
	require.Len(t, m.Items, 1)
	require.NotNil(t, m.Items[0].Image)
	assert.Equal(t, "g:i", m.Items[0].Image.String())
	assert.True(t, m.IsMenu)
	assert.Equal(t, "g", m.GenerationID)
}

func TestGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generations/g1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"success":false,"message":"Generation not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"g1","userId":"user_1","data":{"isMenu":true}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", srv.Client())
	g, err := c.Generation(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", g.UserID)
	assert.JSONEq(t, `{"isMenu":true}`, string(g.Data))

	_, err = c.Generation(context.Background(), "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Generation not found", apiErr.Message)
}

func TestAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "Invalid preferences data"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", nil).SavePreferences(context.Background(), preferences.Preferences{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid preferences data", apiErr.Message)
}

func TestWaitForImage(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image/gen123:abc", r.URL.Path)
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", srv.Client())
	h := c.WaitForImage(context.Background(), "gen123:abc", poller.Config{InitialDelay: time.Millisecond, Interval: time.Millisecond, MaxAttempts: 10})
	defer h.Close()

	state, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.StateReady, state)
	assert.Equal(t, []byte("png"), h.Bytes())
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}
