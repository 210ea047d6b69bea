package llm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct{ api string }

func (p echoProvider) API() string { return p.api }

func (p echoProvider) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	out := NewAssistantEventStream()
	acc := NewAccumulator(model, out)
	idx := acc.StartBlock(ContentText)
	acc.Delta(idx, "echo")
	acc.Done()
	return out
}

func TestRegistryUnknownAPI(t *testing.T) {
	r := NewRegistry()
	events, msg := collect(t, r.Stream(context.Background(), testModel("nope", "x", ""), userContext("hi"), nil))

	assert.Equal(t, []AssistantEventType{EventStart, EventError}, eventTypes(events))
	assert.Equal(t, StopError, msg.StopReason)
	assert.Contains(t, msg.ErrorMessage, `"nope"`)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, events[1].(ErrorEvent).Err, &cfgErr)
}

func TestRegistryMiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	trace := func(name string) Middleware {
		return func(ctx context.Context, model Model, c Context, opts *StreamOptions, next StreamFunc) *AssistantEventStream {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return next(ctx, model, c, opts)
		}
	}

	r := NewRegistry(WithProvider(echoProvider{api: "echo"}), WithMiddleware(trace("outer"), trace("inner")))
	_, msg := collect(t, r.Stream(context.Background(), testModel("echo", "x", ""), userContext("hi"), nil))

	assert.Equal(t, "echo", msg.Text())
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRegistryRegisterAndComplete(t *testing.T) {
	r := NewDefaultRegistry()
	assert.ElementsMatch(t, []string{APIAnthropicMessages, APIOpenAICompletions, APIOpenAIResponses, APIGollm}, r.APIs())

	r.Register(echoProvider{api: APIAnthropicMessages})
	msg, err := Complete(context.Background(), r, testModel(APIAnthropicMessages, "anthropic", ""), userContext("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", msg.Text())
}

func TestCompleteReturnsFailure(t *testing.T) {
	msg, err := Complete(context.Background(), NewRegistry(), testModel("nope", "x", ""), userContext("hi"), nil)
	require.Error(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, StopError, msg.StopReason)
}
