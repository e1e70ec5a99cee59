package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ashureev/polly/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	mu     sync.Mutex
	reqs   []openai.ChatCompletionRequest
	bodies []map[string]any
}

func (r *recordedRequest) lastBody() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[len(r.bodies)-1]
}

func (r *recordedRequest) last() openai.ChatCompletionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func newOpenAIServer(t *testing.T, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req openai.ChatCompletionRequest
		var body map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(data, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, req)
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv, rec := newOpenAIServer(t, "Welcome!")
	c := NewOpenAIClient(OpenAIClientConfig{APIKey: "test", Model: "gpt-4", BaseURL: srv.URL + "/v1"}, nil)

	text, err := c.Complete(context.Background(), []Message{
		{Role: domain.RoleSystem, Content: "ctx"},
		{Role: domain.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", text)

	req := rec.last()
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, 500, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 0.001)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "hello", req.Messages[1].Content)
}

func TestOpenAIClient_Classify(t *testing.T) {
	srv, rec := newOpenAIServer(t, "True.")
	c := NewOpenAIClient(OpenAIClientConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)

	ok, err := c.Classify(context.Background(), "Is it over?")
	require.NoError(t, err)
	assert.True(t, ok)

	req := rec.last()
	assert.Equal(t, openai.GPT4, req.Model)
	assert.Equal(t, 10, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Equal(t, "Is it over?", req.Messages[0].Content)

	temp, ok := rec.lastBody()["temperature"]
	require.True(t, ok, "temperature must be on the wire")
	assert.InDelta(t, 0, temp, 1e-6)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIClientConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	_, err := c.Complete(context.Background(), []Message{{Role: domain.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}
