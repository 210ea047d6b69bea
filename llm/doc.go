// Package llm is the provider layer of the harness: a canonical message and
// event model, a generic event stream, and streaming adapters for the
// anthropic-messages, openai-completions and openai-responses API families
// (plus a gollm fallback).
//
// # Architecture
//
//   - Canonical model: Content, Message, AssistantEvent and Usage types
//   - EventStream: an unbounded single-writer, multi-reader event log
//   - Accumulator: folds one turn's provider deltas into an AssistantMessage
//   - Adapters: one APIProvider per API family, routed by a Registry
//   - Utilities: error classification, retry middleware, model catalog
//
// # Quick Start
//
//	registry := llm.NewDefaultRegistry(llm.WithMiddleware(llm.WithRetry(llm.DefaultRetryPolicy())))
//	model, _ := llm.GetModel("anthropic", "claude-sonnet-4-5")
//
//	stream := registry.Stream(ctx, model, llm.Context{
//	    Messages: []llm.Message{llm.NewUserMessage("What is the capital of France?")},
//	}, &llm.StreamOptions{APIKey: os.Getenv("ANTHROPIC_API_KEY")})
//
//	for ev := range stream.All(ctx) {
//	    if d, ok := ev.(llm.TextDeltaEvent); ok {
//	        fmt.Print(d.Delta)
//	    }
//	}
//	final := stream.Result(ctx)
//
// Adapters never return errors from Stream. A failed request ends the stream
// with an ErrorEvent whose message has StopReason "error", or "aborted" when
// the context was cancelled.
package llm
