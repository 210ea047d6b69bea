package llm

import (
	"context"
	"iter"
	"sync"
)

// EventStream is a single-writer, multi-reader ordered event log. The writer
// never blocks: events are appended to an unbounded log and every reader
// walks it at its own pace. The stream completes when a pushed event
// satisfies isComplete (its extracted value becomes the result) or when End
// is called, and stops immediately on Cancel.
type EventStream[E any, R any] struct {
	isComplete func(E) bool
	extract    func(E) R

	mu        sync.Mutex
	events    []E
	pos       int // cursor of the default reader (Next / All)
	closed    bool
	cancelled bool
	result    R
	wake      chan struct{}
	done      chan struct{}
}

// NewEventStream creates a stream. Either function may be nil; a nil
// isComplete means only End completes the stream.
func NewEventStream[E any, R any](isComplete func(E) bool, extract func(E) R) *EventStream[E, R] {
	return &EventStream[E, R]{
		isComplete: isComplete,
		extract:    extract,
		wake:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// signalLocked wakes every blocked reader. Caller holds s.mu.
func (s *EventStream[E, R]) signalLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Push appends an event. Pushes after completion or cancellation are dropped.
func (s *EventStream[E, R]) Push(e E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events = append(s.events, e)
	if s.isComplete != nil && s.isComplete(e) {
		s.closed = true
		if s.extract != nil {
			s.result = s.extract(e)
		}
		close(s.done)
	}
	s.signalLocked()
}

// End completes the stream with an explicit result. It is a no-op if the
// stream already completed or was cancelled.
func (s *EventStream[E, R]) End(result R) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.result = result
	close(s.done)
	s.signalLocked()
}

// Cancel stops the stream: readers return immediately and a pending Result
// returns the zero value unless the stream had already completed. Cancel is
// idempotent.
func (s *EventStream[E, R]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.signalLocked()
}

// Cancelled reports whether Cancel was called.
func (s *EventStream[E, R]) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done is closed once the stream has completed or been cancelled.
func (s *EventStream[E, R]) Done() <-chan struct{} {
	return s.done
}

// Result blocks until completion and returns the extracted result. It
// returns the zero value if the stream was cancelled before completion or
// ctx ends first.
func (s *EventStream[E, R]) Result(ctx context.Context) R {
	var zero R
	select {
	case <-s.done:
	case <-ctx.Done():
		return zero
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Next returns the next event for the default reader. ok is false once the
// stream is drained after completion, cancelled, or ctx ends.
func (s *EventStream[E, R]) Next(ctx context.Context) (E, bool) {
	return s.next(ctx, &s.pos)
}

// All iterates the default reader.
func (s *EventStream[E, R]) All(ctx context.Context) iter.Seq[E] {
	return func(yield func(E) bool) {
		for {
			e, ok := s.Next(ctx)
			if !ok || !yield(e) {
				return
			}
		}
	}
}

// NewReader returns an independent reader that starts at the first event.
func (s *EventStream[E, R]) NewReader() *StreamReader[E, R] {
	return &StreamReader[E, R]{stream: s}
}

func (s *EventStream[E, R]) next(ctx context.Context, pos *int) (E, bool) {
	var zero E
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return zero, false
		}
		if *pos < len(s.events) {
			e := s.events[*pos]
			*pos++
			s.mu.Unlock()
			return e, true
		}
		if s.closed {
			s.mu.Unlock()
			return zero, false
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// StreamReader is one consumer's cursor over an EventStream.
type StreamReader[E any, R any] struct {
	stream *EventStream[E, R]
	pos    int
}

// Next returns the reader's next event.
func (r *StreamReader[E, R]) Next(ctx context.Context) (E, bool) {
	return r.stream.next(ctx, &r.pos)
}
