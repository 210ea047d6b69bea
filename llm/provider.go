package llm

import (
	"context"
	"log/slog"
	"net/http"
)

// APIProvider is the interface every API family implements. Stream never
// returns an error: failures are delivered as an ErrorEvent, and cancelling
// ctx ends the stream with an aborted ErrorEvent.
type APIProvider interface {
	// API returns the API family identifier (e.g. "anthropic-messages").
	API() string

	// Stream starts one model response and returns its event stream.
	Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream
}

// StreamFunc adapts a function to a streaming call site. The agent loop
// accepts one in place of a Registry.
type StreamFunc func(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream

// ThinkingLevel selects how much reasoning a model should do.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// ThinkingBudget returns the token budget used by budget-based APIs.
func ThinkingBudget(level ThinkingLevel) int {
	switch level {
	case ThinkingMinimal:
		return 1024
	case ThinkingLow:
		return 2048
	case ThinkingMedium:
		return 8192
	case ThinkingHigh:
		return 16384
	case ThinkingXHigh:
		return 32768
	}
	return 0
}

// CacheRetention controls prompt caching hints.
type CacheRetention string

const (
	CacheNone  CacheRetention = "none"
	CacheShort CacheRetention = "short"
	CacheLong  CacheRetention = "long"
)

// StreamOptions are per-request settings. The zero value is valid.
type StreamOptions struct {
	APIKey         string
	Temperature    *float64
	MaxTokens      int
	Headers        map[string]string
	SessionID      string
	Reasoning      ThinkingLevel
	CacheRetention CacheRetention
	HTTPClient     *http.Client
	Logger         *slog.Logger

	// OnPayload observes the provider request body before it is sent.
	OnPayload func(payload any)
}

func (o *StreamOptions) orDefault() *StreamOptions {
	if o == nil {
		return &StreamOptions{}
	}
	return o
}

func (o *StreamOptions) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *StreamOptions) httpClient() *http.Client {
	if o != nil && o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o *StreamOptions) thinking() ThinkingLevel {
	if o == nil || o.Reasoning == "" {
		return ThinkingOff
	}
	return o.Reasoning
}

func (o *StreamOptions) cacheRetention() CacheRetention {
	if o == nil || o.CacheRetention == "" {
		return CacheShort
	}
	return o.CacheRetention
}
