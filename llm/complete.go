package llm

import (
	"context"
	"errors"
)

// Streamer is anything that can start a model response: a *Registry, an
// APIProvider or a StreamFunc.
type Streamer interface {
	Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream
}

// Stream calls f.
func (f StreamFunc) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	return f(ctx, model, c, opts)
}

// Complete is the blocking counterpart of Stream: it drains the response and
// returns the final message. A failed response is returned together with an
// error carrying its ErrorMessage.
func Complete(ctx context.Context, s Streamer, model Model, c Context, opts *StreamOptions) (*AssistantMessage, error) {
	stream := s.Stream(ctx, model, c, opts)
	var failure error
	for ev := range stream.All(ctx) {
		if e, ok := ev.(ErrorEvent); ok {
			failure = e.Err
			if failure == nil {
				failure = &SDKError{Message: e.Message.ErrorMessage}
			}
		}
	}
	msg := stream.Result(ctx)
	if msg == nil {
		if err := ctx.Err(); err != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request was aborted", Cause: err}}
		}
		return nil, errors.New("stream ended without a result")
	}
	if failure != nil {
		return msg, failure
	}
	return msg, nil
}
