package llm

import (
	"context"
	"fmt"
	"sync"
)

// Middleware wraps a streaming call. It receives the request and a next
// function that calls the downstream handler, and returns the stream.
type Middleware func(ctx context.Context, model Model, c Context, opts *StreamOptions, next StreamFunc) *AssistantEventStream

// Registry routes stream requests to the APIProvider registered for the
// model's API family and applies middleware.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]APIProvider
	middleware []Middleware
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithProvider registers an API provider.
func WithProvider(p APIProvider) RegistryOption {
	return func(r *Registry) {
		r.providers[p.API()] = p
	}
}

// WithMiddleware adds middleware to the registry. The first registered runs
// outermost.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(r *Registry) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRegistry creates an empty Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{providers: make(map[string]APIProvider)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry creates a Registry with every built-in API family.
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	base := []RegistryOption{
		WithProvider(NewAnthropicProvider()),
		WithProvider(NewOpenAICompletionsProvider()),
		WithProvider(NewOpenAIResponsesProvider()),
		WithProvider(NewGollmProvider()),
	}
	return NewRegistry(append(base, opts...)...)
}

// Register adds or replaces the provider for its API family.
func (r *Registry) Register(p APIProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.API()] = p
}

// Lookup returns the provider registered for api.
func (r *Registry) Lookup(api string) (APIProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[api]
	return p, ok
}

// APIs lists the registered API families.
func (r *Registry) APIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apis := make([]string, 0, len(r.providers))
	for api := range r.providers {
		apis = append(apis, api)
	}
	return apis
}

// Stream sends a request through middleware to the provider for model.API.
// An unregistered API yields a stream that fails immediately.
func (r *Registry) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	provider, ok := r.Lookup(model.API)
	if !ok {
		return FailedStream(model, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no provider registered for api %q", model.API),
		}})
	}

	handler := StreamFunc(provider.Stream)

	r.mu.RLock()
	middleware := append([]Middleware(nil), r.middleware...)
	r.mu.RUnlock()

	// Apply middleware in reverse order so first registered runs first.
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := handler
		handler = func(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
			return mw(ctx, model, c, opts, next)
		}
	}
	return handler(ctx, model, c, opts)
}

// FailedStream returns a completed stream holding a single ErrorEvent.
func FailedStream(model Model, err error) *AssistantEventStream {
	out := NewAssistantEventStream()
	failInto(context.Background(), model, out, err)
	return out
}
