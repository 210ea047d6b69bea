package agentloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/harness/llm"
	"github.com/stretchr/testify/require"
)

// turnScript produces one scripted model response through acc.
type turnScript func(ctx context.Context, acc *llm.Accumulator)

// fakeModel is an llm.Streamer that replays scripted turns in order and
// records every request context. Turns past the script answer "done".
type fakeModel struct {
	mu       sync.Mutex
	turns    []turnScript
	requests []llm.Context
}

func newFakeModel(turns ...turnScript) *fakeModel {
	return &fakeModel{turns: turns}
}

func (f *fakeModel) Stream(ctx context.Context, model llm.Model, c llm.Context, opts *llm.StreamOptions) *llm.AssistantEventStream {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, c)
	turn := textTurn("done")
	if n < len(f.turns) {
		turn = f.turns[n]
	}
	f.mu.Unlock()

	out := llm.NewAssistantEventStream()
	go turn(ctx, llm.NewAccumulator(model, out))
	return out
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeModel) request(i int) llm.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func textTurn(deltas ...string) turnScript {
	return func(ctx context.Context, acc *llm.Accumulator) {
		idx := acc.StartBlock(llm.ContentText)
		for _, d := range deltas {
			acc.Delta(idx, d)
		}
		acc.Done()
	}
}

func toolTurn(calls ...*llm.ToolCall) turnScript {
	return func(ctx context.Context, acc *llm.Accumulator) {
		for _, call := range calls {
			idx := acc.StartToolCall(call.ID, call.Name)
			raw, _ := json.Marshal(call.Arguments)
			acc.Delta(idx, string(raw))
			acc.Finalize(idx)
		}
		acc.Done()
	}
}

func errorTurn(err error) turnScript {
	return func(ctx context.Context, acc *llm.Accumulator) {
		acc.Fail(ctx, err)
	}
}

// blockingTurn starts a response and waits for cancellation.
func blockingTurn(started chan<- struct{}) turnScript {
	return func(ctx context.Context, acc *llm.Accumulator) {
		idx := acc.StartBlock(llm.ContentText)
		acc.Delta(idx, "thinking about it")
		close(started)
		<-ctx.Done()
		acc.Fail(ctx, ctx.Err())
	}
}

func call(id, name string, args map[string]any) *llm.ToolCall {
	return &llm.ToolCall{ID: id, Name: name, Arguments: args}
}

var fakeLLM = llm.Model{ID: "fake-model", API: "fake", Provider: "fake"}

func textTool(name string, fn func(args map[string]any) (string, error)) AgentTool {
	return AgentTool{
		Name:        name,
		Description: name + " tool",
		Parameters:  map[string]any{"type": "object"},
		Execute: func(ctx context.Context, id string, args map[string]any, onUpdate ToolUpdateFunc) (ToolResult, error) {
			text, err := fn(args)
			if err != nil {
				return ToolResult{}, err
			}
			return TextResult(text), nil
		},
	}
}

func collectRun(t *testing.T, s *AgentEventStream) ([]AgentEvent, []llm.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []AgentEvent
	for ev := range s.All(ctx) {
		events = append(events, ev)
	}
	require.NoError(t, ctx.Err(), "run did not finish")
	return events, s.Result(ctx)
}

func kinds(events []AgentEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func countKind(events []AgentEvent, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// requireOrdering checks the run-level ordering guarantees: AgentStart
// first, exactly one AgentEnd last, and once the last pending tool call of
// a batch ends, the next turn-level event is TurnEnd.
func requireOrdering(t *testing.T, events []AgentEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	require.Equal(t, EventAgentStart, events[0].Kind())
	require.Equal(t, EventAgentEnd, events[len(events)-1].Kind())
	require.Equal(t, 1, countKind(events, EventAgentEnd))

	pending := map[string]bool{}
	for i, ev := range events {
		switch e := ev.(type) {
		case ToolExecutionStart:
			pending[e.ToolCallID] = true
		case ToolExecutionEnd:
			delete(pending, e.ToolCallID)
			if len(pending) > 0 {
				continue
			}
			for _, next := range events[i+1:] {
				k := next.Kind()
				if k == EventMessageStart || k == EventMessageEnd {
					continue
				}
				if k == EventToolExecutionStart {
					break
				}
				require.Equal(t, EventTurnEnd, k, "tool batch must close with TurnEnd")
				break
			}
		}
	}
}

func userText(text string) *llm.UserMessage {
	return llm.NewUserMessage(text)
}
