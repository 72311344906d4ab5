package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadeai/modelmesh/internal/registry"
)

func fakeCompletionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteReturnsContentAndTokenCount(t *testing.T) {
	srv := fakeCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "hello there"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"completion_tokens": 2, "prompt_tokens": 1, "total_tokens": 3},
		})
	})

	c := New("test-model", registry.TierFast, srv.URL)
	completion, err := c.Complete(context.Background(), "hi", Options{MaxTokens: 16})
	require.NoError(t, err)
	require.Equal(t, "hello there", completion.Content)
	require.Equal(t, 2, completion.TokenCount)
}

func TestCompleteFallsBackToWhitespaceHeuristicWithoutUsage(t *testing.T) {
	srv := fakeCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-2",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "one two three"}, "finish_reason": "stop"},
			},
		})
	})

	c := New("test-model", registry.TierFast, srv.URL)
	completion, err := c.Complete(context.Background(), "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, 3, completion.TokenCount)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := fakeCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-3", "object": "chat.completion", "created": 1, "model": "test-model",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop"},
			},
		})
	})

	c := New("test-model", registry.TierBalanced, srv.URL)
	completion, err := c.Complete(context.Background(), "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, "ok", completion.Content)
	require.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestCompleteDoesNotRetryFatalFailures(t *testing.T) {
	var calls atomic.Int32
	srv := fakeCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	c := New("test-model", registry.TierBalanced, srv.URL)
	_, err := c.Complete(context.Background(), "hi", Options{})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestFastTierHasNoRetries(t *testing.T) {
	cfg := configFor(registry.TierFast)
	require.Equal(t, 0, cfg.RetryCount)
	require.Equal(t, 30*time.Second, cfg.Deadline)
}

func TestPowerfulTierDeadline(t *testing.T) {
	cfg := configFor(registry.TierPowerful)
	require.Equal(t, 120*time.Second, cfg.Deadline)
	require.Equal(t, 1, cfg.RetryCount)
}
