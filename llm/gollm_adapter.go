package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmProvider is a non-SSE fallback API family backed by gollm. It serves
// any provider gollm supports (model.Provider names it) and produces a
// single text block per response. Tool calls are not supported on this path.
type GollmProvider struct {
	maxTokens   int
	temperature float64
	newClient   func(model Model, opts *StreamOptions) (gollm.LLM, error)
}

// NewGollmProvider creates the gollm adapter.
func NewGollmProvider() *GollmProvider {
	p := &GollmProvider{
		maxTokens:   4096,
		temperature: 0.7,
	}
	p.newClient = p.newLLM
	return p
}

// API returns "gollm".
func (p *GollmProvider) API() string { return APIGollm }

func (p *GollmProvider) newLLM(model Model, opts *StreamOptions) (gollm.LLM, error) {
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := p.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(model.Provider),
		gollm.SetModel(model.ID),
		gollm.SetMaxTokens(maxTokens),
		gollm.SetTemperature(temperature),
		gollm.SetMaxRetries(0), // Retries belong to WithRetry.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if opts.APIKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(opts.APIKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm client for provider %s", model.Provider),
			Cause:   err,
		}}
	}
	return llm, nil
}

// Stream runs one gollm generation and reports it as canonical events.
func (p *GollmProvider) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	opts = opts.orDefault()
	out := NewAssistantEventStream()

	go func() {
		acc := NewAccumulator(model, out)
		defer func() {
			if r := recover(); r != nil {
				acc.Fail(ctx, &StreamError{SDKError: SDKError{Message: fmt.Sprintf("gollm panic: %v", r)}})
			}
		}()

		llm, err := p.newClient(model, opts)
		if err != nil {
			acc.Fail(ctx, err)
			return
		}
		prompt := gollmPrompt(c, opts)
		if opts.OnPayload != nil {
			opts.OnPayload(prompt)
		}
		acc.Begin()

		var text strings.Builder
		if !llm.SupportsStreaming() {
			full, err := llm.Generate(ctx, prompt)
			if err != nil {
				acc.Fail(ctx, translateGollmError(model.Provider, err))
				return
			}
			idx := acc.StartBlock(ContentText)
			acc.Delta(idx, full)
			text.WriteString(full)
		} else {
			stream, err := llm.Stream(ctx, prompt)
			if err != nil {
				acc.Fail(ctx, translateGollmError(model.Provider, err))
				return
			}
			defer stream.Close()

			idx := -1
			for {
				token, err := stream.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					acc.Fail(ctx, translateGollmError(model.Provider, err))
					return
				}
				if token == nil || token.Text == "" {
					continue
				}
				if idx < 0 {
					idx = acc.StartBlock(ContentText)
				}
				acc.Delta(idx, token.Text)
				text.WriteString(token.Text)
			}
		}

		// gollm does not report usage; estimate from text length.
		usage := acc.Usage()
		usage.Input = estimateTokens(c)
		usage.Output = text.Len() / 4
		acc.SetStopReason(StopNormal)
		acc.Done()
	}()
	return out
}

// gollmPrompt flattens a conversation into a single gollm prompt.
func gollmPrompt(c Context, opts *StreamOptions) *gollm.Prompt {
	var parts []string
	for _, m := range c.Messages {
		switch msg := m.(type) {
		case *UserMessage:
			if text := TextOf(msg.Content); text != "" {
				parts = append(parts, text)
			}
		case *AssistantMessage:
			if text := msg.Text(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
		case *ToolResultMessage:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+TextOf(msg.Content))
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if c.SystemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(c.SystemPrompt), gollm.CacheTypeEphemeral))
	}
	if opts.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(opts.MaxTokens))
	}
	return gollm.NewPrompt(promptText, promptOpts...)
}

// translateGollmError converts a gollm error into the harness error hierarchy.
func translateGollmError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()

	// Classify based on error message content.
	msgLower := strings.ToLower(msg)
	pe := func(status int, retryable bool) ProviderError {
		return ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: provider, StatusCode: status, Retryable: retryable,
		}
	}
	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: pe(401, false)}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &AccessDeniedError{ProviderError: pe(403, false)}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &NotFoundError{ProviderError: pe(404, false)}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: pe(429, true)}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: pe(413, false)}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: pe(500, true)}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "content filter") || strings.Contains(msgLower, "safety"):
		return &ContentFilterError{ProviderError: pe(0, false)}
	default:
		// Wrap as a generic provider error (retryable by default).
		return &ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: provider, Retryable: true}
	}
}

// estimateTokens provides a rough token count estimate for a context.
func estimateTokens(c Context) int {
	total := len(c.SystemPrompt) / 4
	for _, m := range c.Messages {
		switch msg := m.(type) {
		case *UserMessage:
			total += len(TextOf(msg.Content)) / 4
		case *AssistantMessage:
			total += len(msg.Text()) / 4
		case *ToolResultMessage:
			total += len(TextOf(msg.Content)) / 4
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
