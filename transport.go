package serial

import (
	"fmt"
	"time"

	gobug "go.bug.st/serial"
)

// Transport abstracts the subset of a serial port used by Session.
// go.bug.st/serial.Port satisfies it as is.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Drain blocks until everything written has been transmitted.
	Drain() error
	Close() error
	SetReadTimeout(d time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// InWaiter is implemented by transports that can report how many received
// bytes are waiting in the input buffer without consuming them.
type InWaiter interface {
	InWaiting() (int, error)
}

// Opener acquires a Transport for cfg.
type Opener func(cfg Config) (Transport, error)

// allow tests to override external dependencies
var (
	openPort = func(name string, mode *gobug.Mode) (gobug.Port, error) { return gobug.Open(name, mode) }
)

// bugstPort wraps the concrete serial.Port to satisfy Transport.
type bugstPort struct {
	gobug.Port
}

// OpenTransport opens cfg.PortName with the driver named in cfg.
func OpenTransport(cfg Config) (Transport, error) {
	switch cfg.Driver {
	case DriverBugst, "":
		p, err := openPort(cfg.PortName, bugstMode(cfg))
		if err != nil {
			return nil, err
		}
		return &bugstPort{Port: p}, nil
	case DriverTermios:
		return openTermios(cfg)
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}
