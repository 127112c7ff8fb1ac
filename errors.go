package serial

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("serial: not connected")
	ErrReaderActive     = errors.New("serial: reader is running; direct reads are not allowed")
	ErrReaderStopping   = errors.New("serial: previous reader has not exited yet")
	ErrStopTimeout      = errors.New("serial: reader did not stop within the timeout")
	ErrNoData           = errors.New("serial: no data")
	ErrInvalidSize      = errors.New("serial: read size must be positive")
	ErrBufferTooLarge   = errors.New("serial: read size exceeds maximum buffer size")
	ErrInvalidConfig    = errors.New("serial: invalid configuration")
	ErrDirectReadActive = errors.New("serial: direct read in progress")
)

// TransportError reports a failure raised by the underlying serial transport
// while opening, configuring, reading, writing or closing the port.
type TransportError struct {
	Op   string
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnexpectedError wraps any failure that did not come from the transport,
// including panics recovered from listeners and transport openers.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("serial: unexpected error during %s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// recovered converts a recovered panic value into an *UnexpectedError.
func recovered(op string, r any) *UnexpectedError {
	if err, ok := r.(error); ok {
		return &UnexpectedError{Op: op, Err: err}
	}
	return &UnexpectedError{Op: op, Err: fmt.Errorf("panic: %v", r)}
}
