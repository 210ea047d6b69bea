package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sse renders (event, data) pairs as an SSE body. An empty event name
// produces a data-only frame.
func sse(frames ...[2]string) string {
	var sb strings.Builder
	for _, f := range frames {
		if f[0] != "" {
			fmt.Fprintf(&sb, "event: %s\n", f[0])
		}
		fmt.Fprintf(&sb, "data: %s\n\n", f[1])
	}
	return sb.String()
}

// typed builds a frame whose event name is the payload's "type".
func typed(data string) [2]string {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal([]byte(data), &head)
	return [2]string{head.Type, data}
}

func dataOnly(data string) [2]string {
	return [2]string{"", data}
}

type captured struct {
	mu      sync.Mutex
	path    string
	headers http.Header
	body    []byte
}

func (c *captured) json(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[string]any
	require.NoError(t, json.Unmarshal(c.body, &m))
	return m
}

func newSSEServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	req := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		req.mu.Lock()
		req.path = r.URL.Path
		req.headers = r.Header.Clone()
		req.body = b
		req.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, req
}

func collect(t *testing.T, s *AssistantEventStream) ([]AssistantEvent, *AssistantMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []AssistantEvent
	for ev := range s.All(ctx) {
		events = append(events, ev)
	}
	msg := s.Result(ctx)
	require.NotNil(t, msg, "stream produced no result")
	return events, msg
}

func eventTypes(events []AssistantEvent) []AssistantEventType {
	types := make([]AssistantEventType, len(events))
	for i, ev := range events {
		types[i] = ev.EventType()
	}
	return types
}

func textDeltas(events []AssistantEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if d, ok := ev.(TextDeltaEvent); ok {
			sb.WriteString(d.Delta)
		}
	}
	return sb.String()
}

func testModel(api, provider, baseURL string) Model {
	return Model{
		ID:        "test-model",
		API:       api,
		Provider:  provider,
		BaseURL:   baseURL,
		Input:     []string{"text", "image"},
		MaxTokens: 8192,
	}
}

func userContext(text string) Context {
	return Context{Messages: []Message{NewUserMessage(text)}}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
