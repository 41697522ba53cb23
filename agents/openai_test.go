package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft/types"
)

// chatStub serves an OpenAI-compatible chat completions endpoint that
// replies with a fixed message content per call.
func chatStub(t *testing.T, handler func(call int) (status int, content string)) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		status, content := handler(int(calls.Add(1)))
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"stub failure","type":"server_error"}}`)
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestAgents(t *testing.T, baseURL string, maxRetries int) *OpenAIAgents {
	t.Helper()
	a, err := NewOpenAIAgents(OpenAIOptions{
		APIKey:  "test-key",
		BaseURL: baseURL + "/v1",
		Model:   "gpt-4o-mini",
		Retry: RetryConfig{
			MaxRetries:    maxRetries,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	return a
}

func TestOpenAIAgents_AnalyzeIntent(t *testing.T) {
	srv := chatStub(t, func(int) (int, string) {
		return http.StatusOK, `{"topic":"go concurrency","level":"intermediate","objectives":["goroutines","channels"],"confidence":0.9}`
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 0)
	intent, err := a.AnalyzeIntent(context.Background(), &types.Request{Goal: "learn Go concurrency"})
	require.NoError(t, err)
	assert.Equal(t, "go concurrency", intent.Topic)
	assert.Len(t, intent.Objectives, 2)
}

func TestOpenAIAgents_MalformedOutputRetriedThenSurfaces(t *testing.T) {
	var calls atomic.Int32
	srv := chatStub(t, func(call int) (int, string) {
		calls.Store(int32(call))
		return http.StatusOK, "not json at all"
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 2)
	_, err := a.AnalyzeIntent(context.Background(), &types.Request{Goal: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentMalformedOutput, types.GetErrorCode(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIAgents_ServerErrorIsRetried(t *testing.T) {
	srv := chatStub(t, func(call int) (int, string) {
		if call < 3 {
			return http.StatusInternalServerError, ""
		}
		return http.StatusOK, `{"valid":true}`
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 3)
	result, err := a.ValidateStructure(context.Background(), &types.Framework{
		Stages: []types.Stage{{Title: "s", Concepts: []types.Concept{{ID: "c1", Title: "c"}}}},
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestOpenAIAgents_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := chatStub(t, func(call int) (int, string) {
		calls.Store(int32(call))
		return http.StatusBadRequest, ""
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 5)
	_, err := a.AnalyzeIntent(context.Background(), &types.Request{Goal: "x"})
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIAgents_DesignFrameworkNormalizesConceptIDs(t *testing.T) {
	srv := chatStub(t, func(int) (int, string) {
		return http.StatusOK, `{"title":"Go","stages":[{"title":"Basics","concepts":[{"title":"Syntax"},{"title":"Types"}]}]}`
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 0)
	fw, err := a.DesignFramework(context.Background(), &types.Intent{Topic: "go"})
	require.NoError(t, err)
	concepts := fw.Concepts()
	require.Len(t, concepts, 2)
	assert.Equal(t, "s1-c1", concepts[0].ID)
	assert.Equal(t, "s1-c2", concepts[1].ID)
}

func TestOpenAIAgents_DuplicateConceptIDsRejected(t *testing.T) {
	srv := chatStub(t, func(int) (int, string) {
		return http.StatusOK, `{"title":"Go","stages":[{"title":"Basics","concepts":[{"id":"dup","title":"A"},{"id":"dup","title":"B"}]}]}`
	})
	defer srv.Close()

	a := newTestAgents(t, srv.URL, 0)
	_, err := a.DesignFramework(context.Background(), &types.Intent{Topic: "go"})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentMalformedOutput, types.GetErrorCode(err))
}
