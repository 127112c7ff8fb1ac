package serial

import (
	"io"
	"strings"
	"time"
)

// beginDirectRead admits a direct read. It fails fast instead of letting the
// caller and the reader consume the same byte stream concurrently.
func (s *Session) beginDirectRead() (Transport, func(), error) {
	if !s.connected.Load() {
		s.logger.Error().Msg("not connected to serial port")
		return nil, nil, ErrNotConnected
	}

	s.ctrlMu.Lock()
	if st := s.State(); st != StateIdle {
		s.ctrlMu.Unlock()
		s.logger.Error().Str("reader", st.String()).Msg("direct read rejected while reader is active")
		return nil, nil, ErrReaderActive
	}
	s.directReads.Inc()
	s.ctrlMu.Unlock()

	s.directMu.Lock()
	s.mu.RLock()
	release := func() {
		s.mu.RUnlock()
		s.directMu.Unlock()
		s.directReads.Dec()
	}

	if s.transport == nil || !s.connected.Load() {
		release()
		return nil, nil, ErrNotConnected
	}
	return s.transport, release, nil
}

// ReadLine reads up to and including '\n', or until ReadTimeout elapses, and
// returns the text with invalid UTF-8 dropped and surrounding whitespace
// (including the terminator) trimmed. ErrNoData means nothing arrived.
func (s *Session) ReadLine() (string, error) {
	t, release, err := s.beginDirectRead()
	if err != nil {
		return "", err
	}
	defer release()

	raw, err := readUntil(t, '\n', s.cfg.ReadTimeout)
	s.metrics.BytesRead.Add(int64(len(raw)))
	if err != nil {
		return "", s.directReadFailed("read_line", err)
	}
	if len(raw) == 0 {
		return "", ErrNoData
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "")), nil
}

// ReadBytes reads up to size bytes, returning early when ReadTimeout elapses.
// ErrNoData means nothing arrived.
func (s *Session) ReadBytes(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if size > MaxBufferSize {
		return nil, ErrBufferTooLarge
	}

	t, release, err := s.beginDirectRead()
	if err != nil {
		return nil, err
	}
	defer release()

	buf := make([]byte, size)
	n, err := readAtMost(t, buf, s.cfg.ReadTimeout)
	s.metrics.BytesRead.Add(int64(n))
	if err != nil {
		return nil, s.directReadFailed("read_bytes", err)
	}
	if n == 0 {
		return nil, ErrNoData
	}
	return buf[:n], nil
}

func (s *Session) directReadFailed(op string, err error) error {
	te := &TransportError{Op: op, Port: s.cfg.PortName, Err: err}
	s.metrics.ReadErrors.Add(1)
	s.metrics.recordFailure()
	s.logger.Error().Err(te).Msg("serial read error")
	return te
}

// readUntil reads one byte at a time so nothing past delim is consumed.
// A zero-length read means the transport timeout expired.
func readUntil(t Transport, delim byte, timeout time.Duration) ([]byte, error) {
	var (
		line []byte
		b    [1]byte
	)
	deadline := time.Now().Add(timeout)
	for {
		n, err := t.Read(b[:])
		if err != nil {
			return line, err
		}
		if n == 0 {
			return line, nil
		}
		line = append(line, b[0])
		if b[0] == delim {
			return line, nil
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return line, nil
		}
	}
}

func readAtMost(t Transport, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(buf) {
		n, err := t.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		if timeout >= 0 && time.Now().After(deadline) {
			break
		}
	}
	return total, nil
}

// Write sends all of data and then drains the transport's output buffer.
// It fails with ErrNotConnected without touching the transport when the
// session is disconnected. Write may be used while the reader is running.
func (s *Session) Write(data []byte) error {
	if !s.connected.Load() {
		s.logger.Error().Msg("not connected to serial port")
		return ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.transport
	if t == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	start := time.Now()
	n, err := writeFull(t, data)
	op := "write"
	if err == nil {
		op = "flush"
		err = t.Drain()
	}
	s.metrics.recordWrite(n, err, time.Since(start))

	if err != nil {
		te := &TransportError{Op: op, Port: s.cfg.PortName, Err: err}
		s.logger.Error().Err(te).Msg("serial write error")
		return te
	}

	s.logger.Debug().Int("bytes", n).Hex("data", data).Msg("wrote")
	return nil
}

func writeFull(t Transport, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := t.Write(data[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			// a transport that accepts nothing would spin forever
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}
