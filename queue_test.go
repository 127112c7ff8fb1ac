package serial

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestChunkQueueFIFO(t *testing.T) {
	q := newChunkQueue(0, OverflowBlock)

	for i := 0; i < 100; i++ {
		if ok, dropped := q.Push([]byte(fmt.Sprint(i)), nil); !ok || dropped {
			t.Fatalf("push %d: ok=%v dropped=%v", i, ok, dropped)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("expected 100 queued, got %d", q.Len())
	}
	for i := 0; i < 100; i++ {
		chunk, ok := q.Pop()
		if !ok || string(chunk) != fmt.Sprint(i) {
			t.Fatalf("pop %d: got %q ok=%v", i, chunk, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestChunkQueueDropOldest(t *testing.T) {
	q := newChunkQueue(2, OverflowDropOldest)

	q.Push([]byte("a"), nil)
	q.Push([]byte("b"), nil)
	ok, dropped := q.Push([]byte("c"), nil)
	if !ok || !dropped {
		t.Fatalf("expected drop, got ok=%v dropped=%v", ok, dropped)
	}

	for _, want := range []string{"b", "c"} {
		chunk, _ := q.Pop()
		if string(chunk) != want {
			t.Fatalf("got %q, want %q", chunk, want)
		}
	}
}

func TestChunkQueueBlockUntilPop(t *testing.T) {
	q := newChunkQueue(1, OverflowBlock)
	q.Push([]byte("a"), nil)

	pushed := make(chan bool, 1)
	go func() {
		ok, _ := q.Push([]byte("b"), make(chan struct{}))
		pushed <- ok
	}()

	select {
	case <-pushed:
		t.Fatal("push should block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	if chunk, _ := q.Pop(); string(chunk) != "a" {
		t.Fatalf("got %q, want a", chunk)
	}

	select {
	case ok := <-pushed:
		if !ok {
			t.Fatal("push should succeed once room is made")
		}
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}
	if chunk, _ := q.Pop(); string(chunk) != "b" {
		t.Fatalf("got %q, want b", chunk)
	}
}

func TestChunkQueueBlockedPushHonoursStop(t *testing.T) {
	q := newChunkQueue(1, OverflowBlock)
	q.Push([]byte("a"), nil)

	stop := make(chan struct{})
	result := make(chan bool, 1)
	go func() {
		ok, _ := q.Push([]byte("b"), stop)
		result <- ok
	}()

	close(stop)
	select {
	case ok := <-result:
		if ok {
			t.Fatal("push should give up when stopped")
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not release a blocked push")
	}
	if q.Len() != 1 {
		t.Fatalf("expected only the original chunk, got %d", q.Len())
	}
}

func TestChunkQueueReadySignal(t *testing.T) {
	q := newChunkQueue(0, OverflowBlock)

	select {
	case <-q.Ready():
		t.Fatal("no signal expected on an empty queue")
	default:
	}

	q.Push([]byte("a"), nil)
	q.Push([]byte("b"), nil)

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected a ready signal after push")
	}
}

// TestChunkQueueConcurrentProducerConsumer exercises the single producer,
// single consumer pattern used by the reader under the race detector.
func TestChunkQueueConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	q := newChunkQueue(8, OverflowBlock)
	stop := make(chan struct{})
	defer close(stop)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push([]byte(fmt.Sprint(i)), stop)
		}
	}()

	got := 0
	deadline := time.After(5 * time.Second)
	for got < n {
		chunk, ok := q.Pop()
		if !ok {
			select {
			case <-q.Ready():
			case <-time.After(time.Millisecond):
			case <-deadline:
				t.Fatalf("timed out after %d chunks", got)
			}
			continue
		}
		if string(chunk) != fmt.Sprint(got) {
			t.Fatalf("out of order: got %q, want %d", chunk, got)
		}
		got++
	}
	wg.Wait()
}
