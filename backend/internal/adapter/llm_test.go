package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dune-rag/backend/pkg/errors"
)

// fakeOpenAI serves canned chat completion and embedding responses
func fakeOpenAI(t *testing.T, chat func(body map[string]interface{}) (int, interface{})) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			status, payload := chat(body)
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(payload)
		case "/v1/embeddings":
			inputs, _ := body["input"].([]interface{})
			data := make([]map[string]interface{}, 0, len(inputs))
			for i := range inputs {
				data = append(data, map[string]interface{}{
					"object":    "embedding",
					"index":     i,
					"embedding": []float32{float32(i), 0.5},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func completion(message map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]interface{}{
			{"index": 0, "message": message, "finish_reason": "stop"},
		},
	}
}

func TestLLMAdapter_Complete_ToolCall(t *testing.T) {
	var seen map[string]interface{}
	srv, _ := fakeOpenAI(t, func(body map[string]interface{}) (int, interface{}) {
		seen = body
		return http.StatusOK, completion(map[string]interface{}{
			"role": "assistant",
			"tool_calls": []map[string]interface{}{
				{
					"id":   "call-1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "vector_tool",
						"arguments": `{"question":"What is the plot of Dune?"}`,
					},
				},
			},
		})
	})

	llm := NewLLMAdapter(srv.URL+"/v1", "", "gpt-3.5-turbo")
	resp, err := llm.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "What is the plot of Dune?"}},
		Tools: []Tool{{
			Type: "function",
			Function: FunctionDefinition{
				Name:       "vector_tool",
				Parameters: map[string]interface{}{"type": "object"},
			},
		}},
		Stop: []string{"\nCypherResult:"},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "vector_tool", resp.ToolCalls[0].Name)
	assert.Equal(t, "What is the plot of Dune?", resp.ToolCalls[0].Arguments["question"])

	assert.Equal(t, "gpt-3.5-turbo", seen["model"])
	assert.NotNil(t, seen["tools"])
	assert.Equal(t, []interface{}{"\nCypherResult:"}, seen["stop"])
}

func TestLLMAdapter_Complete_ToolChoice(t *testing.T) {
	var seen []map[string]interface{}
	srv, _ := fakeOpenAI(t, func(body map[string]interface{}) (int, interface{}) {
		seen = append(seen, body)
		return http.StatusOK, completion(map[string]interface{}{"role": "assistant", "content": "Paul Atreides."})
	})
	llm := NewLLMAdapter(srv.URL+"/v1", "", "gpt-3.5-turbo")
	catalog := []Tool{{
		Type:     "function",
		Function: FunctionDefinition{Name: "graph_tool", Parameters: map[string]interface{}{"type": "object"}},
	}}
	replay := []Message{
		{Role: RoleUser, Content: "Who is the Kwisatz Haderach?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call-1", Name: "graph_tool", Arguments: map[string]interface{}{"question": "q"}}}},
		{Role: RoleTool, ToolCallID: "call-1", Content: "Paul Atreides"},
	}

	_, err := llm.Complete(context.Background(), Request{Messages: replay, Tools: catalog, ToolChoice: "none"})
	require.NoError(t, err)
	_, err = llm.Complete(context.Background(), Request{Messages: replay[:1], ToolChoice: "none"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "none", seen[0]["tool_choice"])
	assert.Len(t, seen[0]["tools"], 1)
	assert.NotContains(t, seen[1], "tool_choice")
	assert.NotContains(t, seen[1], "tools")
}

func TestLLMAdapter_Complete_RetriesServerErrors(t *testing.T) {
	var attempts int32
	srv, _ := fakeOpenAI(t, func(body map[string]interface{}) (int, interface{}) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return http.StatusServiceUnavailable, map[string]interface{}{
				"error": map[string]interface{}{"message": "overloaded", "type": "server_error"},
			}
		}
		return http.StatusOK, completion(map[string]interface{}{"role": "assistant", "content": "ok"})
	})

	llm := NewLLMAdapter(srv.URL+"/v1", "key", "gpt-4", WithMaxRetries(3), WithBackoff(time.Millisecond))
	resp, err := llm.Complete(context.Background(), chatRequest("system", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestLLMAdapter_Complete_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv, _ := fakeOpenAI(t, func(body map[string]interface{}) (int, interface{}) {
		atomic.AddInt32(&attempts, 1)
		return http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{"message": "bad request", "type": "invalid_request_error"},
		}
	})

	llm := NewLLMAdapter(srv.URL+"/v1", "key", "gpt-4", WithMaxRetries(3), WithBackoff(time.Millisecond))
	_, err := llm.Complete(context.Background(), chatRequest("system", "hi"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeAgent))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestLLMAdapter_Complete_NoChoices(t *testing.T) {
	srv, _ := fakeOpenAI(t, func(body map[string]interface{}) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{"id": "x", "choices": []interface{}{}}
	})

	llm := NewLLMAdapter(srv.URL+"/v1", "key", "gpt-4")
	_, err := llm.Complete(context.Background(), chatRequest("system", "hi"))
	assert.ErrorIs(t, err, apperrors.ErrAgentNoResponse)
}

func TestEmbeddingAdapter_PreservesOrder(t *testing.T) {
	srv, _ := fakeOpenAI(t, nil)

	emb := NewEmbeddingAdapter(srv.URL+"/v1", "", "text-embedding-ada-002", time.Second)
	vectors, err := emb.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float64{2, 0.5}, vectors[2])

	q, err := emb.EmbedQuery(context.Background(), "spice")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5}, q)
}

func TestToOpenAIMessages_CarriesToolCalls(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call-1", Name: "graph_tool", Arguments: map[string]interface{}{"question": "q"}}}},
		{Role: RoleTool, Content: "observation", ToolCallID: "call-1"},
	})
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "graph_tool", msgs[0].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"question":"q"}`, msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", msgs[1].ToolCallID)
}

// TestLLMAdapter_Integration requires a running OpenAI-compatible gateway at LLM_INTEGRATION_URL
func TestLLMAdapter_Integration(t *testing.T) {
	baseURL := os.Getenv("LLM_INTEGRATION_URL")
	if testing.Short() || baseURL == "" {
		t.Skip("Skipping integration test")
	}

	llm := NewLLMAdapter(baseURL, os.Getenv("OPENAI_API_KEY"), "gpt-3.5-turbo")
	response, err := llm.Complete(context.Background(), chatRequest("You are a helpful assistant.", "Say hello in one sentence."))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if response.Content == "" {
		t.Error("Expected non-empty content in response")
	}
}

func chatRequest(system, user string) Request {
	return Request{Messages: []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}}
}
