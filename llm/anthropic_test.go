package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicTextStream(t *testing.T) {
	body := sse(
		typed(`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":1,"cache_read_input_tokens":4}}}`),
		typed(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		typed(`{"type":"ping"}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"The capital "}}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"of France "}}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"is Paris."}}`),
		typed(`{"type":"content_block_stop","index":0}`),
		typed(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":9}}`),
		typed(`{"type":"message_stop"}`),
	)
	srv, req := newSSEServer(t, http.StatusOK, body)
	model := testModel(APIAnthropicMessages, "anthropic", srv.URL)

	events, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), model, userContext("capital?"), &StreamOptions{APIKey: "sk-test"}))

	assert.Equal(t, []AssistantEventType{
		EventStart, EventTextStart, EventTextDelta, EventTextDelta, EventTextDelta, EventTextEnd, EventDone,
	}, eventTypes(events))
	assert.Equal(t, "The capital of France is Paris.", textDeltas(events))
	assert.Equal(t, "The capital of France is Paris.", msg.Text())
	assert.Equal(t, StopNormal, msg.StopReason)
	assert.Equal(t, 12, msg.Usage.Input)
	assert.Equal(t, 9, msg.Usage.Output)
	assert.Equal(t, 4, msg.Usage.CacheRead)
	assert.Equal(t, 25, msg.Usage.TotalTokens)

	assert.Equal(t, "/v1/messages", req.path)
	assert.Equal(t, "sk-test", req.headers.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.headers.Get("anthropic-version"))
	payload := req.json(t)
	assert.Equal(t, true, payload["stream"])
	assert.Equal(t, "test-model", payload["model"])
}

func TestAnthropicToolCallArguments(t *testing.T) {
	frames := func(fragments ...string) string {
		list := [][2]string{
			typed(`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`),
			typed(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read","input":{}}}`),
		}
		for _, f := range fragments {
			list = append(list, typed(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":`+quote(f)+`}}`))
		}
		list = append(list,
			typed(`{"type":"content_block_stop","index":0}`),
			typed(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`),
		)
		return sse(list...)
	}

	t.Run("valid", func(t *testing.T) {
		srv, _ := newSSEServer(t, http.StatusOK, frames(`{"pa`, `th":"/tm`, `p/x"}`))
		events, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("read"), nil))

		require.Equal(t, StopToolUse, msg.StopReason)
		calls := msg.ToolCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "toolu_1", calls[0].ID)
		assert.Equal(t, "read", calls[0].Name)
		assert.Equal(t, map[string]any{"path": "/tmp/x"}, calls[0].Arguments)

		deltas := 0
		for _, ev := range events {
			if _, ok := ev.(ToolCallDeltaEvent); ok {
				deltas++
			}
		}
		assert.Equal(t, 3, deltas)
	})

	t.Run("invalid", func(t *testing.T) {
		srv, _ := newSSEServer(t, http.StatusOK, frames(`{"pa`, `th":`))
		_, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("read"), nil))

		calls := msg.ToolCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]any{}, calls[0].Arguments)
	})
}

func TestAnthropicThinkingAndSignature(t *testing.T) {
	body := sse(
		typed(`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`),
		typed(`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me think."}}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-abc"}}`),
		typed(`{"type":"content_block_stop","index":0}`),
		typed(`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`),
		typed(`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Done."}}`),
		typed(`{"type":"content_block_stop","index":1}`),
		typed(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("hi"), nil))

	require.Len(t, msg.Content, 2)
	thinking, ok := msg.Content[0].(*ThinkingContent)
	require.True(t, ok)
	assert.Equal(t, "Let me think.", thinking.Thinking)
	assert.Equal(t, "sig-abc", thinking.ThinkingSignature)
	assert.Equal(t, "Done.", msg.Text())
}

func TestAnthropicRateLimit(t *testing.T) {
	srv, _ := newSSEServer(t, http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limited"}}`)
	events, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("hi"), nil))

	assert.Equal(t, []AssistantEventType{EventStart, EventError}, eventTypes(events))
	assert.Equal(t, StopError, msg.StopReason)
	assert.Contains(t, msg.ErrorMessage, "429")
	assert.Contains(t, msg.ErrorMessage, "Rate limited")

	failure := events[len(events)-1].(ErrorEvent)
	var rl *RateLimitError
	assert.ErrorAs(t, failure.Err, &rl)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	body := sse(
		typed(`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`),
		typed(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	_, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopError, msg.StopReason)
	assert.Contains(t, msg.ErrorMessage, "Overloaded")
}

func TestAnthropicAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sse(
			typed(`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`),
			typed(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
			typed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`),
		))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	stream := NewAnthropicProvider().Stream(ctx, testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("hi"), nil)
	for ev := range stream.All(context.Background()) {
		if _, ok := ev.(TextDeltaEvent); ok {
			cancel()
		}
	}
	msg := stream.Result(context.Background())
	require.NotNil(t, msg)
	assert.Equal(t, StopAborted, msg.StopReason)
	assert.Equal(t, "request was aborted", msg.ErrorMessage)
	// The open block is kept.
	assert.Equal(t, "partial", msg.Text())
}

func countCacheMarkers(req *anthropicRequest) int {
	n := 0
	for _, t := range req.Tools {
		if t.CacheControl != nil {
			n++
		}
	}
	for _, b := range req.System {
		if b.CacheControl != nil {
			n++
		}
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.CacheControl != nil {
				n++
			}
		}
	}
	return n
}

func TestAnthropicCacheBreakpoints(t *testing.T) {
	model := testModel(APIAnthropicMessages, "anthropic", "")
	c := Context{
		SystemPrompt: "You are helpful.",
		Tools: []Tool{
			{Name: "read", Description: "read a file"},
			{Name: "bash", Description: "run a command"},
		},
		Messages: []Message{
			NewUserMessage("first"),
			&AssistantMessage{Content: []Content{Text("ok")}, API: model.API, Provider: model.Provider, Model: model.ID, StopReason: StopNormal},
			NewUserMessage("second"),
		},
	}

	req := buildAnthropicRequest(model, c, &StreamOptions{})
	assert.Equal(t, 4, countCacheMarkers(req))
	assert.Nil(t, req.Tools[0].CacheControl)
	assert.NotNil(t, req.Tools[1].CacheControl)
	assert.NotNil(t, req.System[0].CacheControl)
	assert.NotNil(t, req.Messages[0].Content[0].CacheControl)
	assert.NotNil(t, req.Messages[2].Content[0].CacheControl)
	assert.Nil(t, req.Messages[1].Content[0].CacheControl)

	t.Run("disabled", func(t *testing.T) {
		req := buildAnthropicRequest(model, c, &StreamOptions{CacheRetention: CacheNone})
		assert.Equal(t, 0, countCacheMarkers(req))
	})

	t.Run("single user turn is marked once", func(t *testing.T) {
		req := buildAnthropicRequest(model, userContext("only"), &StreamOptions{})
		assert.Equal(t, 1, countCacheMarkers(req))
	})

	t.Run("existing markers count toward the cap", func(t *testing.T) {
		req := buildAnthropicRequest(model, c, &StreamOptions{CacheRetention: CacheNone})
		marker := &anthropicCacheControl{Type: "ephemeral"}
		req.Tools[0].CacheControl = marker
		req.Messages[1].Content[0].CacheControl = marker
		req.System[0].CacheControl = marker

		applyCacheBreakpoints(req, anthropicCacheControl{Type: "ephemeral"})
		assert.Equal(t, 4, countCacheMarkers(req))
		// The last tool took the remaining slot; user turns stay unmarked.
		assert.NotNil(t, req.Tools[1].CacheControl)
		assert.Nil(t, req.Messages[0].Content[0].CacheControl)
		assert.Nil(t, req.Messages[2].Content[0].CacheControl)
	})
}

func TestAnthropicToolResultsShareUserTurn(t *testing.T) {
	model := testModel(APIAnthropicMessages, "anthropic", "")
	c := Context{Messages: []Message{
		NewUserMessage("go"),
		&AssistantMessage{
			Content: []Content{
				&ToolCall{ID: "toolu_1", Name: "read", Arguments: map[string]any{"path": "a"}},
				&ToolCall{ID: "toolu_2", Name: "read", Arguments: map[string]any{"path": "b"}},
			},
			API: model.API, Provider: model.Provider, Model: model.ID, StopReason: StopToolUse,
		},
		&ToolResultMessage{ToolCallID: "toolu_1", ToolName: "read", Content: []Content{Text("A")}},
		&ToolResultMessage{ToolCallID: "toolu_2", ToolName: "read", Content: []Content{Text("B")}},
	}}

	req := buildAnthropicRequest(model, c, &StreamOptions{CacheRetention: CacheNone})
	require.Len(t, req.Messages, 3)
	last := req.Messages[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Content, 2)
	assert.Equal(t, "toolu_1", last.Content[0].ToolUseID)
	assert.Equal(t, "toolu_2", last.Content[1].ToolUseID)
}

func TestAnthropicThinkingBudget(t *testing.T) {
	model := testModel(APIAnthropicMessages, "anthropic", "")
	model.Reasoning = true
	model.MaxTokens = 64000
	req := buildAnthropicRequest(model, userContext("hi"), &StreamOptions{Reasoning: ThinkingMedium, MaxTokens: 4096})

	require.NotNil(t, req.Thinking)
	assert.Equal(t, "enabled", req.Thinking.Type)
	assert.Equal(t, 8192, req.Thinking.BudgetTokens)
	assert.Greater(t, req.MaxTokens, req.Thinking.BudgetTokens)
}

func TestAnthropicTruncatedStream(t *testing.T) {
	body := sse(
		typed(`{"type":"message_start","message":{"usage":{"input_tokens":3}}}`),
		typed(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		typed(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"The answer is"}}`),
	)
	srv, _ := newSSEServer(t, http.StatusOK, body)
	events, msg := collect(t, NewAnthropicProvider().Stream(context.Background(), testModel(APIAnthropicMessages, "anthropic", srv.URL), userContext("hi"), nil))

	assert.Equal(t, StopError, msg.StopReason)
	assert.Equal(t, "stream ended before completion", msg.ErrorMessage)
	assert.Equal(t, "The answer is", msg.Text())

	failure, ok := events[len(events)-1].(ErrorEvent)
	require.True(t, ok)
	var streamErr *StreamError
	assert.ErrorAs(t, failure.Err, &streamErr)
}
