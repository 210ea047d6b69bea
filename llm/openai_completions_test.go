package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionsTextStream(t *testing.T) {
	body := sse(
		dataOnly(`{"choices":[{"delta":{"role":"assistant","content":""}}]}`),
		dataOnly(`{"choices":[{"delta":{"content":"Hel"}}]}`),
		dataOnly(`{"choices":[{"delta":{"content":"lo, "}}]}`),
		dataOnly(`{"choices":[{"delta":{"content":"world"}}]}`),
		dataOnly(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`),
		dataOnly(`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13,"prompt_tokens_details":{"cached_tokens":4}}}`),
		dataOnly(`[DONE]`),
	)
	srv, req := newSSEServer(t, http.StatusOK, body)
	model := testModel(APIOpenAICompletions, "openai", srv.URL)

	events, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), model, userContext("hi"), &StreamOptions{APIKey: "sk-test"}))

	assert.Equal(t, []AssistantEventType{
		EventStart, EventTextStart, EventTextDelta, EventTextDelta, EventTextDelta, EventTextEnd, EventDone,
	}, eventTypes(events))
	assert.Equal(t, "Hello, world", msg.Text())
	assert.Equal(t, StopNormal, msg.StopReason)
	assert.Equal(t, 6, msg.Usage.Input)
	assert.Equal(t, 4, msg.Usage.CacheRead)
	assert.Equal(t, 3, msg.Usage.Output)
	assert.Equal(t, 13, msg.Usage.TotalTokens)

	assert.Equal(t, "/chat/completions", req.path)
	assert.Equal(t, "Bearer sk-test", req.headers.Get("Authorization"))
	payload := req.json(t)
	assert.Equal(t, map[string]any{"include_usage": true}, payload["stream_options"])
	assert.Equal(t, false, payload["store"])
}

func TestCompletionsUsageMerges(t *testing.T) {
	body := sse(
		dataOnly(`{"choices":[{"delta":{"content":"x"}}],"usage":{"prompt_tokens":10}}`),
		dataOnly(`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"completion_tokens":5,"total_tokens":15}}`),
		dataOnly(`[DONE]`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "openai", srv.URL), userContext("hi"), nil))

	assert.Equal(t, 10, msg.Usage.Input)
	assert.Equal(t, 5, msg.Usage.Output)
	assert.Equal(t, 15, msg.Usage.TotalTokens)
}

func TestCompletionsToolCalls(t *testing.T) {
	body := sse(
		dataOnly(`{"choices":[{"delta":{"content":"Reading."}}]}`),
		dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read","arguments":""}}]}}]}`),
		dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pa"}}]}}]}`),
		dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}`),
		dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.txt\"}"}}]}}]}`),
		dataOnly(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`),
		dataOnly(`[DONE]`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "openai", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopToolUse, msg.StopReason)
	require.Len(t, msg.Content, 3)
	assert.Equal(t, "Reading.", msg.Text())
	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, map[string]any{"path": "a.txt"}, calls[0].Arguments)
	assert.Equal(t, "call_2", calls[1].ID)
	assert.Equal(t, map[string]any{"command": "ls"}, calls[1].Arguments)
}

func TestCompletionsReasoningContent(t *testing.T) {
	body := sse(
		dataOnly(`{"choices":[{"delta":{"reasoning_content":"Think"}}]}`),
		dataOnly(`{"choices":[{"delta":{"reasoning_content":"ing."}}]}`),
		dataOnly(`{"choices":[{"delta":{"content":"Answer"}}]}`),
		dataOnly(`{"choices":[{"delta":{},"finish_reason":"length"}]}`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "deepseek", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopLength, msg.StopReason)
	assert.Equal(t, "Thinking.", msg.Thinking())
	assert.Equal(t, "Answer", msg.Text())
}

func TestCompletionsHTTPError(t *testing.T) {
	srv, _ := newSSEServer(t, http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "openai", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopError, msg.StopReason)
	assert.Equal(t, "429 Rate limit reached", msg.ErrorMessage)
}

func TestCompletionsMistralToolIDs(t *testing.T) {
	model := testModel(APIOpenAICompletions, "mistral", "https://api.mistral.ai/v1")
	c := Context{
		SystemPrompt: "sys",
		Messages: []Message{
			NewUserMessage("go"),
			&AssistantMessage{
				Content:    []Content{&ToolCall{ID: "call_ab-12", Name: "read", Arguments: map[string]any{"path": "x"}}},
				API:        APIOpenAIResponses, Provider: "openai", Model: "gpt-5.2", StopReason: StopToolUse,
			},
			&ToolResultMessage{ToolCallID: "call_ab-12", ToolName: "read", Content: []Content{Text("data")}},
		},
	}
	req := buildChatRequest(model, c, &StreamOptions{MaxTokens: 100})

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, float64(100), payload["max_tokens"])
	assert.Nil(t, payload["max_completion_tokens"])
	assert.Nil(t, payload["store"])

	msgs := req.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	callID := msgs[2].ToolCalls[0].ID
	assert.Len(t, callID, 9)
	assert.Equal(t, "callab12I", callID)
	assert.Equal(t, callID, msgs[3].ToolCallID)
	assert.Equal(t, "read", msgs[3].Name)
	assert.Equal(t, `{"path":"x"}`, msgs[2].ToolCalls[0].Function.Arguments)
}

func TestCompletionsDeveloperRole(t *testing.T) {
	model := testModel(APIOpenAICompletions, "openai", "")
	model.Reasoning = true
	req := buildChatRequest(model, Context{SystemPrompt: "sys", Messages: []Message{NewUserMessage("hi")}}, &StreamOptions{Reasoning: ThinkingXHigh})

	assert.Equal(t, "developer", req.Messages[0].Role)
	assert.Equal(t, "high", req.ReasoningEffort)
}

func TestCompletionsOrphanedToolCall(t *testing.T) {
	model := testModel(APIOpenAICompletions, "openai", "")
	c := Context{Messages: []Message{
		NewUserMessage("go"),
		&AssistantMessage{
			Content: []Content{&ToolCall{ID: "call_1", Name: "read", Arguments: map[string]any{}}},
			API:     model.API, Provider: model.Provider, Model: model.ID, StopReason: StopToolUse,
		},
		NewUserMessage("never mind"),
	}}
	req := buildChatRequest(model, c, &StreamOptions{})

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "tool", req.Messages[2].Role)
	assert.Equal(t, "call_1", req.Messages[2].ToolCallID)
	assert.Equal(t, "No result provided", req.Messages[2].Content)
}

func TestCompletionsToolCallArguments(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      map[string]any
	}{
		{"valid", []string{`{"pa`, `th":"/tm`, `p/x"}`}, map[string]any{"path": "/tmp/x"}},
		{"invalid", []string{`{"pa`, `th":`}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := [][2]string{
				dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read","arguments":""}}]}}]}`),
			}
			for _, f := range tt.fragments {
				frames = append(frames, dataOnly(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":`+quote(f)+`}}]}}]}`))
			}
			frames = append(frames,
				dataOnly(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`),
				dataOnly(`[DONE]`),
			)
			srv, _ := newSSEServer(t, http.StatusOK, sse(frames...))
			_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "openai", srv.URL), userContext("read"), nil))

			assert.Equal(t, StopToolUse, msg.StopReason)
			calls := msg.ToolCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Arguments)
		})
	}
}

func TestCompletionsTruncatedStream(t *testing.T) {
	body := sse(
		dataOnly(`{"choices":[{"delta":{"content":"The answer"}}]}`),
		dataOnly(`{"choices":[{"delta":{"content":" is"}}]}`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewOpenAICompletionsProvider().Stream(context.Background(), testModel(APIOpenAICompletions, "openai", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopError, msg.StopReason)
	assert.Equal(t, "stream ended before completion", msg.ErrorMessage)
	assert.Equal(t, "The answer is", msg.Text())
}
