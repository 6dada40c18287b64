package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, answering(`[{"name":"a"}]`), 0)
	require.Equal(t, http.StatusOK, postConcepts(env.handler, validBody).Code)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `bakebake_provider_calls_total{outcome="success",provider="gemini"} 1`)
	assert.Contains(t, body, `bakebake_parse_results_total{shape="many"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	h := NewHandler(Deps{Generator: env.gen})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	t.Run("propagated", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(HeaderRequestID, id)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		assert.Equal(t, id, rr.Header().Get(HeaderRequestID))
	})

	t.Run("replaced when not a uuid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(HeaderRequestID, "<script>")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		got := rr.Header().Get(HeaderRequestID)
		assert.NotEqual(t, "<script>", got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/concepts", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
