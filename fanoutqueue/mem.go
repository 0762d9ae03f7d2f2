package fanoutqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrEnqueueFailed is returned by MemQueue when it has been configured to
// simulate an enqueue failure, exercising the Publish Engine's
// queue-enqueue-exception-falls-back-to-inline path (spec §4.4, §7, §9).
var ErrEnqueueFailed = errors.New("fanoutqueue: enqueue failed")

// MemQueue is an in-memory Queue used by tests and the cmd/estuaryd demo.
// It is not durable; a real deployment backs Queue with managed queue
// infrastructure (spec §1's "external collaborators").
type MemQueue struct {
	mu       sync.Mutex
	messages []Message

	// FailNext, if > 0, causes that many subsequent Enqueue calls to fail
	// with ErrEnqueueFailed, decrementing on each attempt.
	FailNext int
}

// NewMemQueue returns an empty MemQueue.
func NewMemQueue() *MemQueue {
	return &MemQueue{}
}

func (q *MemQueue) Enqueue(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.FailNext > 0 {
		q.FailNext--
		return ErrEnqueueFailed
	}
	q.messages = append(q.messages, msg)
	return nil
}

// Drain removes and returns up to max queued messages, in FIFO order.
// A Consumer calls this to pull a batch to process (spec §4.6).
func (q *MemQueue) Drain(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || max > len(q.messages) {
		max = len(q.messages)
	}
	var batch = q.messages[:max]
	q.messages = q.messages[max:]
	return batch
}

// Requeue puts messages back at the front of the queue, for the Queue
// Consumer's retry path (spec §4.6 step 5).
func (q *MemQueue) Requeue(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(append([]Message(nil), msgs...), q.messages...)
}

// Len reports the number of currently queued messages.
func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
