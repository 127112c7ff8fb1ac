package serial

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Listener receives every chunk the reader delivers, in read order. The same
// slice is also placed on the delivery queue, so listeners must not modify it.
type Listener func(chunk []byte)

// Option customises a Session.
type Option func(*Session)

// WithLogger routes session logs to l.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithOpener replaces the transport opener, e.g. with an in-memory fake.
func WithOpener(o Opener) Option {
	return func(s *Session) {
		if o != nil {
			s.open = o
		}
	}
}

// Session owns one serial transport, an optional background reader that
// feeds a FIFO queue and a listener, and blocking direct read/write calls.
//
// Direct reads (ReadLine, ReadBytes) and the reader both consume the same
// input stream, so they exclude each other: a direct read while the reader
// is active fails with ErrReaderActive, and StartReading during a direct
// read fails with ErrDirectReadActive. Write is allowed at any time.
type Session struct {
	cfg    Config
	logger zerolog.Logger
	open   Opener

	// mu guards transport. Operations that use the handle hold the read
	// lock for the duration of the I/O so Disconnect cannot close it under them.
	mu        sync.RWMutex
	transport Transport
	connected atomic.Bool

	// ctrlMu serialises reader start/stop and the direct-read admission check.
	ctrlMu      sync.Mutex
	state       atomic.Int32
	run         atomic.Pointer[readerRun]
	lastErr     atomic.Error
	directMu    sync.Mutex
	directReads atomic.Int32

	listenerMu sync.RWMutex
	listener   Listener

	writeMu sync.Mutex

	queue   *chunkQueue
	buffers *readBuffers
	metrics *Metrics
}

// New creates a disconnected session. Unset tuning fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	m := &Metrics{}
	s := &Session{
		cfg:     cfg,
		logger:  log.Logger.With().Str("component", "serial").Logger(),
		open:    OpenTransport,
		queue:   newChunkQueue(cfg.QueueCapacity, cfg.QueueOverflow),
		buffers: newReadBuffers(m),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("port", cfg.PortName).Logger()
	return s
}

// Config returns the configuration the session was created with.
func (s *Session) Config() Config {
	return s.cfg
}

// Connect opens the transport. It returns a *TransportError when the port
// cannot be opened or configured and an *UnexpectedError for anything else
// (invalid configuration, a panicking opener). Connecting an already
// connected session does nothing.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() && s.transport != nil {
		return nil
	}
	if s.transport != nil {
		// left behind by a reader that hit a transport failure
		_ = s.transport.Close()
		s.transport = nil
	}

	s.metrics.ConnectionAttempts.Add(1)

	if err := ValidateConfig(&s.cfg); err != nil {
		return s.connectFailed(&UnexpectedError{Op: "connect", Err: err})
	}

	t, err := s.openTransport()
	if err != nil {
		return s.connectFailed(err)
	}

	if err = t.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		return s.connectFailed(closeAfterOpenError(t, &TransportError{Op: "set read timeout", Port: s.cfg.PortName, Err: err}))
	}
	if err = t.SetDTR(s.cfg.DTR); err != nil {
		return s.connectFailed(closeAfterOpenError(t, &TransportError{Op: "set DTR", Port: s.cfg.PortName, Err: err}))
	}
	if err = t.SetRTS(s.cfg.RTS); err != nil {
		return s.connectFailed(closeAfterOpenError(t, &TransportError{Op: "set RTS", Port: s.cfg.PortName, Err: err}))
	}

	s.transport = t
	s.connected.Store(true)
	s.metrics.recordConnect(time.Now())

	s.logger.Info().
		Int("baud", s.cfg.BaudRate).
		Str("driver", string(s.cfg.Driver)).
		Msgf("connected to %s at %d baud", s.cfg.PortName, s.cfg.BaudRate)
	return nil
}

func (s *Session) openTransport() (t Transport, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, recovered("connect", r)
		}
	}()

	t, err = s.open(s.cfg)
	if err != nil {
		return nil, &TransportError{Op: "open", Port: s.cfg.PortName, Err: err}
	}
	if t == nil {
		return nil, &UnexpectedError{Op: "connect", Err: errors.New("opener returned no transport")}
	}
	return t, nil
}

func (s *Session) connectFailed(err error) error {
	s.metrics.ConnectionFailures.Add(1)
	s.metrics.recordFailure()
	s.logger.Error().Err(err).Msg("serial connection error")
	return err
}

// closeAfterOpenError closes t and joins any error from closing with err.
func closeAfterOpenError(t Transport, err error) error {
	if e := t.Close(); e != nil {
		return errors.Join(err, e)
	}
	return err
}

// Disconnect stops the reader and closes the transport. It is idempotent.
// A reader that overruns StopTimeout is reported as ErrStopTimeout but the
// transport is closed regardless.
func (s *Session) Disconnect() error {
	stopErr := s.StopReading()

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.transport
	s.transport = nil
	s.connected.Store(false)
	if t == nil {
		return stopErr
	}

	s.metrics.recordDisconnect(time.Now())
	if err := t.Close(); err != nil {
		closeErr := &TransportError{Op: "close", Port: s.cfg.PortName, Err: err}
		s.logger.Error().Err(closeErr).Msg("error closing serial port")
		return errors.Join(stopErr, closeErr)
	}

	s.logger.Info().Msgf("disconnected from %s", s.cfg.PortName)
	return stopErr
}

// SetListener replaces the listener. The change applies from the next
// delivered chunk; pass nil to remove it.
func (s *Session) SetListener(fn Listener) {
	s.listenerMu.Lock()
	s.listener = fn
	s.listenerMu.Unlock()
}

func (s *Session) currentListener() Listener {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener
}

// QueuedData pops the oldest chunk from the delivery queue. It never blocks.
func (s *Session) QueuedData() ([]byte, bool) {
	return s.queue.Pop()
}

// Connected reports whether the session holds a healthy transport. The reader
// clears it when the transport fails.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// State returns the reader state.
func (s *Session) State() ReaderState {
	return ReaderState(s.state.Load())
}

// Err returns the error that ended the most recent reader, or nil if it was
// stopped on request or is still running.
func (s *Session) Err() error {
	return s.lastErr.Load()
}

// Done returns a channel closed when the most recent reader exits, whether
// it was stopped or failed. Before the first StartReading it is already closed.
func (s *Session) Done() <-chan struct{} {
	if run := s.run.Load(); run != nil {
		return run.done
	}
	return closedChan
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Status is a point-in-time view of the session.
type Status struct {
	State     ReaderState
	Connected bool
	QueueLen  int
	LastError error
}

func (s *Session) Status() Status {
	return Status{
		State:     s.State(),
		Connected: s.Connected(),
		QueueLen:  s.queue.Len(),
		LastError: s.Err(),
	}
}

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() MetricsSnapshot {
	snap := s.metrics.Snapshot(time.Now(), s.Connected())
	snap.ReaderState = s.State().String()
	snap.QueueLen = s.queue.Len()
	return snap
}

// BufferPoolStats reports usage of the reader scratch buffers.
func (s *Session) BufferPoolStats() []PoolStats {
	return s.buffers.stats()
}
