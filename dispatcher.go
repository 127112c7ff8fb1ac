package serial

import (
	"go.uber.org/atomic"
)

// dispatcher runs the listener on its own goroutine for ListenerAsync. It
// keeps an unbounded FIFO so the reader never waits on the listener, and
// delivers everything already handed to it before close returns.
type dispatcher struct {
	s     *Session
	queue *chunkQueue
	quit  chan struct{}
	done  chan struct{}
	err   atomic.Error
}

func newDispatcher(s *Session) *dispatcher {
	d := &dispatcher{
		s:     s,
		queue: newChunkQueue(0, OverflowBlock),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue hands chunk to the dispatcher. It returns the listener failure, if
// any, so the reader can stop.
func (d *dispatcher) enqueue(chunk []byte) error {
	if err := d.err.Load(); err != nil {
		return err
	}
	d.queue.Push(chunk, nil)
	return nil
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		if !d.drain() {
			return
		}
		select {
		case <-d.queue.Ready():
		case <-d.quit:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() bool {
	for {
		chunk, ok := d.queue.Pop()
		if !ok {
			return true
		}
		if err := d.s.notifyListener(chunk); err != nil {
			d.err.Store(err)
			d.s.logger.Error().Err(err).Msg("listener failed")
			return false
		}
	}
}

// close waits for every pending chunk to be delivered.
func (d *dispatcher) close() {
	close(d.quit)
	<-d.done
}
