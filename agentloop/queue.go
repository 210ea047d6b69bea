package agentloop

import (
	"slices"
	"sync"

	"github.com/martinemde/harness/llm"
)

// messageQueue is a FIFO of messages waiting for the next queue check. Push
// is safe from any goroutine.
type messageQueue struct {
	mu    sync.Mutex
	mode  QueueMode
	items []llm.Message
}

func newMessageQueue(mode QueueMode) *messageQueue {
	if mode == "" {
		mode = QueueOneAtATime
	}
	return &messageQueue{mode: mode}
}

func (q *messageQueue) push(m llm.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
}

// requeue puts messages taken by drain back at the front.
func (q *messageQueue) requeue(messages []llm.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(slices.Clone(messages), q.items...)
}

// drain removes and returns the next message, or all of them in QueueAll
// mode.
func (q *messageQueue) drain() []llm.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if q.mode == QueueAll {
		out := q.items
		q.items = nil
		return out
	}
	out := []llm.Message{q.items[0]}
	q.items = q.items[1:]
	return out
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *messageQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *messageQueue) setMode(mode QueueMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = mode
}

func (q *messageQueue) getMode() QueueMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}
