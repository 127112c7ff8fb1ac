package serial

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errFakeClosed = errors.New("fake: closed")

// fakeTransport is an in-memory Transport. Every Read returns bytes from at
// most one fed chunk, so chunk boundaries survive the trip through the reader.
type fakeTransport struct {
	mu       sync.Mutex
	inbox    [][]byte
	timeout  time.Duration
	readErr  error
	writeErr error
	loopback bool
	closed   bool

	reads    int
	writes   [][]byte
	drains   int
	timeouts []time.Duration
	dtr, rts bool

	arrived chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{timeout: -1, arrived: make(chan struct{}, 1)}
}

// waitingTransport adds InWaiter, like the termios driver.
type waitingTransport struct {
	*fakeTransport
}

func (w waitingTransport) InWaiting() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errFakeClosed
	}
	if w.readErr != nil {
		return 0, w.readErr
	}
	if len(w.inbox) == 0 {
		return 0, nil
	}
	return len(w.inbox[0]), nil
}

func (f *fakeTransport) feed(chunks ...string) {
	f.mu.Lock()
	for _, c := range chunks {
		f.inbox = append(f.inbox, []byte(c))
	}
	f.mu.Unlock()
	notify(f.arrived)
}

func (f *fakeTransport) failReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	notify(f.arrived)
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	timeout := f.timeout
	f.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, errFakeClosed
		}
		if f.readErr != nil {
			err := f.readErr
			f.mu.Unlock()
			return 0, err
		}
		if len(f.inbox) > 0 {
			n := copy(p, f.inbox[0])
			if n < len(f.inbox[0]) {
				f.inbox[0] = f.inbox[0][n:]
			} else {
				f.inbox = f.inbox[1:]
			}
			f.reads++
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()

		if timeout == 0 {
			return 0, nil
		}
		select {
		case <-f.arrived:
		case <-expired:
			return 0, nil
		}
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, errFakeClosed
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	if f.loopback {
		f.inbox = append(f.inbox, cp)
	}
	f.mu.Unlock()
	notify(f.arrived)
	return len(p), nil
}

func (f *fakeTransport) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	notify(f.arrived)
	return nil
}

func (f *fakeTransport) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
	f.timeouts = append(f.timeouts, d)
	return nil
}

func (f *fakeTransport) SetDTR(dtr bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dtr = dtr
	return nil
}

func (f *fakeTransport) SetRTS(rts bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rts = rts
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeTransport) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox)
}

func (f *fakeTransport) currentTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func openerFor(t Transport) Opener {
	return func(Config) (Transport, error) { return t, nil }
}

func testConfig() Config {
	return Config{
		PortName:     "/dev/ttyFAKE0",
		BaudRate:     9600,
		ReadTimeout:  50 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		StopTimeout:  500 * time.Millisecond,
	}
}

// newTestSession builds a session around tr that is disconnected when the test ends.
func newTestSession(t *testing.T, tr Transport, mutate func(*Config)) *Session {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, WithOpener(openerFor(tr)), WithLogger(zerolog.Nop()))
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustConnectAndRead(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading failed: %v", err)
	}
}
