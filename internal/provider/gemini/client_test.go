package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakebake-xr/bakebake/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gemini-test"})
}

func TestGenerate_ReturnsJoinedParts(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotBody)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"[{\"name\":"},{"text":"\"封じ蔵\"}]"}]}}]}`)
	})

	hint := &provider.Schema{Type: "array", Items: &provider.Schema{Type: "object"}}
	got, err := c.Generate(context.Background(), "prompt", hint)
	require.NoError(t, err)

	assert.Equal(t, `[{"name":"封じ蔵"}]`, got)
	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	cfg := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	schema := cfg["responseSchema"].(map[string]any)
	assert.Equal(t, "ARRAY", schema["type"])
}

func TestGenerate_NoHintOmitsSchema(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`)
	})

	_, err := c.Generate(context.Background(), "prompt", nil)
	require.NoError(t, err)
	cfg := gotBody["generationConfig"].(map[string]any)
	assert.NotContains(t, cfg, "responseMimeType")
	assert.NotContains(t, cfg, "responseSchema")
}

func TestGenerate_RateLimitIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := c.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)

	var pe *provider.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "RESOURCE_EXHAUSTED", pe.Status)
	assert.True(t, provider.IsRateLimit(err))
}

func TestGenerate_ServerErrorIsNotRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `upstream exploded`)
	})

	_, err := c.Generate(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.False(t, provider.IsRateLimit(err))
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"finishReason":"SAFETY"}]}`)
	})

	_, err := c.Generate(context.Background(), "prompt", nil)
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGenerate_RespectsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Generate(ctx, "prompt", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
