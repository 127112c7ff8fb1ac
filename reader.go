package serial

import (
	"errors"
	"time"
)

// ReaderState is the lifecycle of the background reader.
type ReaderState int32

const (
	StateIdle ReaderState = iota
	StateRunning
	// StateStopping is held from a stop request until the reader goroutine
	// has actually exited. No new reader can start meanwhile.
	StateStopping
)

func (st ReaderState) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// errTransportGone ends the reader quietly when Disconnect removed the handle.
var errTransportGone = errors.New("transport released")

type readerRun struct {
	stop chan struct{}
	done chan struct{}
}

// StartReading spawns the background reader. It is a no-op if the reader is
// already running and fails with ErrNotConnected when there is no healthy
// transport.
func (s *Session) StartReading() error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	switch s.State() {
	case StateRunning:
		s.logger.Warn().Msg("already reading from serial port")
		return nil
	case StateStopping:
		s.logger.Error().Msg("previous reader is still stopping")
		return ErrReaderStopping
	}
	if !s.connected.Load() {
		s.logger.Error().Msg("not connected to serial port")
		return ErrNotConnected
	}
	if s.directReads.Load() > 0 {
		s.logger.Error().Msg("cannot start reader during a direct read")
		return ErrDirectReadActive
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrReaderStopping
	}

	run := &readerRun{stop: make(chan struct{}), done: make(chan struct{})}
	s.run.Store(run)
	s.lastErr.Store(nil)
	s.metrics.ReaderStarts.Add(1)

	go s.readLoop(run)

	s.logger.Info().Msg("started reading from serial port")
	return nil
}

// StopReading asks the reader to exit and waits up to StopTimeout for it.
// It returns ErrStopTimeout if the reader is still busy (typically inside a
// slow listener); the session then stays in StateStopping until it exits.
// Calling it when no reader runs is a no-op.
func (s *Session) StopReading() error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	run := s.run.Load()
	if run == nil {
		return nil
	}

	if s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		close(run.stop)
	} else if s.State() == StateIdle {
		return nil
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-run.done:
		s.logger.Info().Msg("stopped reading from serial port")
		return nil
	case <-timer.C:
		s.logger.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("reader did not stop in time")
		return ErrStopTimeout
	}
}

func (s *Session) readLoop(run *readerRun) {
	deliver := s.notifyListener
	var d *dispatcher
	if s.cfg.ListenerMode == ListenerAsync {
		d = newDispatcher(s)
		deliver = d.enqueue
	}

	idleWait, restore := s.prepareReaderTimeout()

	defer func() {
		s.beginExit()
		restore()
		if d != nil {
			d.close()
		}
		s.state.Store(int32(StateIdle))
		close(run.done)
	}()

	for {
		select {
		case <-run.stop:
			return
		default:
		}
		if !s.connected.Load() {
			return
		}

		chunk, err := s.pollTransport()
		if errors.Is(err, errTransportGone) {
			return
		}
		if err != nil {
			s.readerFailed(err)
			return
		}

		if len(chunk) == 0 {
			if idleWait {
				select {
				case <-run.stop:
					return
				case <-time.After(s.cfg.PollInterval):
				}
			}
			continue
		}

		s.metrics.recordChunk(len(chunk))
		ok, dropped := s.queue.Push(chunk, run.stop)
		if dropped {
			s.metrics.QueueDrops.Add(1)
			s.logger.Warn().Int("capacity", s.cfg.QueueCapacity).Msg("delivery queue full, dropped oldest chunk")
		}
		if !ok {
			return
		}
		if err = deliver(chunk); err != nil {
			s.beginExit()
			s.lastErr.Store(err)
			s.metrics.ReaderFailures.Add(1)
			s.logger.Error().Err(err).Msg("unexpected error during reading")
			return
		}
		s.logger.Debug().Int("bytes", len(chunk)).Hex("data", chunk).Msg("received")
	}
}

// prepareReaderTimeout makes transports that cannot report pending input
// return from Read after PollInterval, so the loop still notices stop
// requests. idleWait reports whether the loop must sleep itself when nothing
// is pending. restore puts back the configured read timeout.
func (s *Session) prepareReaderTimeout() (idleWait bool, restore func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.transport
	if t == nil {
		return true, func() {}
	}
	if _, ok := t.(InWaiter); ok {
		return true, func() {}
	}

	if err := t.SetReadTimeout(s.cfg.PollInterval); err != nil {
		s.logger.Warn().Err(err).Msg("could not shorten read timeout for polling")
	}
	return false, func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.transport == t && s.connected.Load() {
			_ = t.SetReadTimeout(s.cfg.ReadTimeout)
		}
	}
}

// pollTransport performs one reader poll. It returns an empty chunk when no
// input is pending.
func (s *Session) pollTransport() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.transport
	if t == nil {
		return nil, errTransportGone
	}

	size := readChunkSize
	if iw, ok := t.(InWaiter); ok {
		n, err := iw.InWaiting()
		if err != nil {
			return nil, &TransportError{Op: "in_waiting", Port: s.cfg.PortName, Err: err}
		}
		if n <= 0 {
			return nil, nil
		}
		size = min(n, MaxBufferSize)
	}

	buf, release := s.buffers.get(size)
	defer release()

	n, err := t.Read(buf)
	if err != nil {
		return nil, &TransportError{Op: "read", Port: s.cfg.PortName, Err: err}
	}
	if n <= 0 {
		return nil, nil
	}

	chunk := make([]byte, n)
	copy(chunk, buf[:n])
	return chunk, nil
}

// readChunkSize bounds a single blocking read on transports without InWaiter.
const readChunkSize = 4096

// beginExit moves a reader that ends on its own to StateStopping. It stays
// there until cleanup has finished and the goroutine exits.
func (s *Session) beginExit() {
	s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

func (s *Session) readerFailed(err error) {
	s.beginExit()
	s.connected.Store(false)
	s.lastErr.Store(err)
	s.metrics.ReadErrors.Add(1)
	s.metrics.ReaderFailures.Add(1)
	s.metrics.recordFailure()
	s.logger.Error().Err(err).Msg("serial read error")
}

// notifyListener runs the current listener on the calling goroutine and
// converts a panic into an *UnexpectedError.
func (s *Session) notifyListener(chunk []byte) (err error) {
	fn := s.currentListener()
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ListenerPanics.Add(1)
			err = recovered("listener", r)
		}
	}()
	fn(chunk)
	return nil
}
