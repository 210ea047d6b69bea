package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	gollmcore "github.com/teilomillet/gollm/llm"
)

func TestTranslateGollmError(t *testing.T) {
	tests := []struct {
		errMsg string
		check  func(error) bool
	}{
		{"401 Unauthorized", func(err error) bool { _, ok := err.(*AuthenticationError); return ok }},
		{"invalid api key", func(err error) bool { _, ok := err.(*AuthenticationError); return ok }},
		{"403 Forbidden", func(err error) bool { _, ok := err.(*AccessDeniedError); return ok }},
		{"404 not found", func(err error) bool { _, ok := err.(*NotFoundError); return ok }},
		{"429 rate limit exceeded", func(err error) bool { _, ok := err.(*RateLimitError); return ok }},
		{"context length exceeded", func(err error) bool { _, ok := err.(*ContextLengthError); return ok }},
		{"500 internal server error", func(err error) bool { _, ok := err.(*ServerError); return ok }},
		{"timeout waiting for response", func(err error) bool { _, ok := err.(*RequestTimeoutError); return ok }},
		{"content filter triggered", func(err error) bool { _, ok := err.(*ContentFilterError); return ok }},
		{"something unknown", func(err error) bool { _, ok := err.(*ProviderError); return ok }},
	}

	for _, tt := range tests {
		err := translateGollmError("openai", errors.New(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: unexpected error type %T", tt.errMsg, err)
		}
	}
}

func TestTranslateGollmErrorKeepsCancellation(t *testing.T) {
	err := translateGollmError("openai", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGollmProviderAPI(t *testing.T) {
	if NewGollmProvider().API() != APIGollm {
		t.Errorf("expected api %q", APIGollm)
	}
}

func TestEstimateTokens(t *testing.T) {
	c := Context{Messages: []Message{NewUserMessage("Hello world, this is a test message.")}}
	if tokens := estimateTokens(c); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if tokens := estimateTokens(Context{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}

// scriptedGollm answers from fixed text. Methods the adapter never calls
// fall through to the nil embedded interface.
type scriptedGollm struct {
	gollm.LLM
	streaming bool
	tokens    []string
	err       error
	prompt    *gollm.Prompt
}

func (s *scriptedGollm) SupportsStreaming() bool { return s.streaming }

func (s *scriptedGollm) Generate(ctx context.Context, prompt *gollm.Prompt, _ ...gollmcore.GenerateOption) (string, error) {
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return strings.Join(s.tokens, ""), nil
}

func (s *scriptedGollm) Stream(ctx context.Context, prompt *gollm.Prompt, _ ...gollm.StreamOption) (gollm.TokenStream, error) {
	s.prompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	return &scriptedTokens{tokens: s.tokens}, nil
}

type scriptedTokens struct{ tokens []string }

func (s *scriptedTokens) Next(context.Context) (*gollm.StreamToken, error) {
	if len(s.tokens) == 0 {
		return nil, io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return &gollm.StreamToken{Text: tok, Type: "text"}, nil
}

func (s *scriptedTokens) Close() error { return nil }

func gollmProviderWith(client *scriptedGollm) *GollmProvider {
	p := NewGollmProvider()
	p.newClient = func(Model, *StreamOptions) (gollm.LLM, error) { return client, nil }
	return p
}

func TestGollmProviderStream(t *testing.T) {
	model := testModel(APIGollm, "ollama", "")
	c := Context{SystemPrompt: "be brief", Messages: []Message{NewUserMessage("hi")}}

	t.Run("streaming", func(t *testing.T) {
		client := &scriptedGollm{streaming: true, tokens: []string{"Hel", "", "lo"}}
		events, msg := collect(t, gollmProviderWith(client).Stream(context.Background(), model, c, nil))

		assert.Equal(t, []AssistantEventType{
			EventStart, EventTextStart, EventTextDelta, EventTextDelta, EventTextEnd, EventDone,
		}, eventTypes(events))
		assert.Equal(t, StopNormal, msg.StopReason)
		require.Len(t, msg.Content, 1)
		assert.Equal(t, "Hello", msg.Text())
		assert.Positive(t, msg.Usage.Input)
		require.NotNil(t, client.prompt)
		assert.Equal(t, "hi", client.prompt.Input)
	})

	t.Run("generate", func(t *testing.T) {
		client := &scriptedGollm{tokens: []string{"Hello"}}
		events, msg := collect(t, gollmProviderWith(client).Stream(context.Background(), model, c, nil))

		assert.Equal(t, []AssistantEventType{
			EventStart, EventTextStart, EventTextDelta, EventTextEnd, EventDone,
		}, eventTypes(events))
		require.Len(t, msg.Content, 1)
		assert.Equal(t, "Hello", msg.Text())
	})

	t.Run("error", func(t *testing.T) {
		client := &scriptedGollm{streaming: true, err: errors.New("429 rate limit exceeded")}
		events, msg := collect(t, gollmProviderWith(client).Stream(context.Background(), model, c, nil))

		assert.Equal(t, StopError, msg.StopReason)
		assert.Contains(t, msg.ErrorMessage, "429")
		failure := events[len(events)-1].(ErrorEvent)
		var rl *RateLimitError
		assert.ErrorAs(t, failure.Err, &rl)
	})
}
