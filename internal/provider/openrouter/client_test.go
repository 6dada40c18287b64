package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test/model"})
}

func TestGenerate_NonStreaming(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody chatRequest
	var gotFields map[string]json.RawMessage

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		json.Unmarshal(raw, &gotFields)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{\"name\":\"影法師\"}"}}]}`)
	})

	got, err := c.Generate(context.Background(), "describe", &provider.Schema{Type: "array"})
	require.NoError(t, err)

	assert.Equal(t, `{"name":"影法師"}`, got)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "test/model", gotBody.Model)
	// JSON mode would force an object; the prompt asks for an array.
	assert.NotContains(t, gotFields, "response_format")
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "describe", gotBody.Messages[0].Content)
}

func TestGenerate_NoRetryOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit exceeded","code":429}}`)
	})

	_, err := c.Generate(context.Background(), "describe", nil)
	require.Error(t, err)
	assert.True(t, provider.IsRateLimit(err))
	assert.EqualValues(t, 1, attempts.Load())
}

func TestGenerate_ErrorInsideOKBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"Provider returned error","code":502}}`)
	})

	_, err := c.Generate(context.Background(), "describe", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.False(t, provider.IsRateLimit(err))
}

func TestGenerate_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	})

	_, err := c.Generate(context.Background(), "describe", nil)
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)
}

func TestGenerate_ContextCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		select {
		case <-handlerDone:
		case <-r.Context().Done():
		}
	})
	defer close(handlerDone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(ctx, "describe", nil)
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return promptly after context cancellation")
	}
}
