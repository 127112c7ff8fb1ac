package serial

import (
	"sync"
)

// chunkQueue is the FIFO between the reader (single producer) and the
// caller (single consumer). A zero capacity makes it unbounded.
type chunkQueue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	overflow QueueOverflow

	// space is signalled whenever Pop frees a slot.
	space chan struct{}
	// ready is signalled whenever Push appends a chunk.
	ready chan struct{}
}

func newChunkQueue(capacity int, overflow QueueOverflow) *chunkQueue {
	return &chunkQueue{
		capacity: capacity,
		overflow: overflow,
		space:    make(chan struct{}, 1),
		ready:    make(chan struct{}, 1),
	}
}

// Push appends chunk. On a full bounded queue it either evicts the oldest
// chunk (dropped reports true) or waits for room until stop is closed
// (ok reports false if it gave up).
func (q *chunkQueue) Push(chunk []byte, stop <-chan struct{}) (ok, dropped bool) {
	for {
		q.mu.Lock()
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, chunk)
			q.mu.Unlock()
			notify(q.ready)
			return true, dropped
		}
		if q.overflow == OverflowDropOldest {
			q.items[0] = nil
			q.items = q.items[1:]
			q.items = append(q.items, chunk)
			q.mu.Unlock()
			notify(q.ready)
			return true, true
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-stop:
			return false, false
		}
	}
}

// Pop removes the oldest chunk. It never blocks.
func (q *chunkQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	chunk := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.mu.Unlock()

	notify(q.space)
	return chunk, true
}

// Ready is signalled after each Push. A single signal may cover several chunks.
func (q *chunkQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *chunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
