package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64()) // rand in [0,1) -> [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// nextDelay decides whether err earns another attempt and how long to wait.
func (p RetryPolicy) nextDelay(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxRetries || !IsRetryable(err) {
		return 0, false
	}
	delay := p.Delay(attempt)

	// Check for Retry-After on rate limit errors.
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
		if retryDelay > time.Duration(p.MaxDelay*float64(time.Second)) {
			// Retry-After exceeds max_delay; give up immediately.
			return 0, false
		}
		delay = retryDelay
	}
	return delay, true
}

// WithRetry returns middleware that retries a stream which failed with a
// retryable error before producing any content. Once a content event has
// been forwarded the failure is passed through unchanged.
func WithRetry(policy RetryPolicy) Middleware {
	return func(ctx context.Context, model Model, c Context, opts *StreamOptions, next StreamFunc) *AssistantEventStream {
		out := NewAssistantEventStream()
		go func() {
			for attempt := 0; ; attempt++ {
				failure, start, forwarded := relay(ctx, next(ctx, model, c, opts), out)
				if failure == nil {
					return
				}

				var delay time.Duration
				retry := false
				if !forwarded && failure.Reason != StopAborted {
					delay, retry = policy.nextDelay(failure.Err, attempt)
				}
				if !retry {
					if !forwarded && start != nil {
						out.Push(start)
					}
					out.Push(*failure)
					return
				}

				if policy.OnRetry != nil {
					policy.OnRetry(failure.Err, attempt+1, delay)
				}
				opts.logger().Debug("retrying llm request", "api", model.API, "attempt", attempt+1, "delay", delay, "error", failure.Err)

				select {
				case <-ctx.Done():
					failInto(ctx, model, out, ctx.Err())
					return
				case <-time.After(delay):
				}
			}
		}()
		return out
	}
}

// relay forwards inner to out, holding back the StartEvent until the first
// content event. A terminal failure is returned rather than forwarded,
// together with the held StartEvent and whether anything reached out.
func relay(ctx context.Context, inner, out *AssistantEventStream) (failure *ErrorEvent, start AssistantEvent, forwarded bool) {
	for {
		if out.Cancelled() {
			inner.Cancel()
			return nil, start, true
		}
		ev, ok := inner.Next(ctx)
		if !ok {
			abort := &AbortError{SDKError: SDKError{Message: "request was aborted", Cause: ctx.Err()}}
			return &ErrorEvent{Reason: StopAborted, Err: abort, Message: abortedMessage(start)}, start, forwarded
		}
		switch e := ev.(type) {
		case StartEvent:
			if !forwarded {
				start = e
				continue
			}
		case ErrorEvent:
			return &e, start, forwarded
		}
		if !forwarded && start != nil {
			out.Push(start)
		}
		forwarded = true
		out.Push(ev)
		if _, done := ev.(DoneEvent); done {
			return nil, start, true
		}
	}
}

func abortedMessage(start AssistantEvent) *AssistantMessage {
	msg := &AssistantMessage{Content: []Content{}, Timestamp: time.Now()}
	if start != nil {
		msg = start.PartialMessage().Clone()
	}
	msg.StopReason = StopAborted
	msg.ErrorMessage = "request was aborted"
	return msg
}

// failInto terminates out with a single failure built from err.
func failInto(ctx context.Context, model Model, out *AssistantEventStream, err error) {
	NewAccumulator(model, out).Fail(ctx, err)
}
