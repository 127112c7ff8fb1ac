package serial

import (
	"time"
)

// Driver selects the transport implementation used by Connect.
type Driver string

const (
	// DriverBugst opens the port through go.bug.st/serial. It works on every
	// platform that library supports and is the default.
	DriverBugst Driver = "bugst"
	// DriverTermios opens the port with raw termios ioctls. Linux only. It can
	// report the number of pending input bytes, which lets the reader poll
	// without blocking in Read.
	DriverTermios Driver = "termios"
)

// ListenerMode controls where a registered Listener runs.
type ListenerMode int

const (
	// ListenerSync runs the listener on the reader goroutine. A slow listener
	// stalls ingestion and delays the reader noticing a stop request.
	ListenerSync ListenerMode = iota
	// ListenerAsync hands chunks to a dedicated dispatcher goroutine through
	// an unbounded FIFO, so a slow listener cannot stall ingestion.
	ListenerAsync
)

// QueueOverflow decides what a bounded delivery queue does when it is full.
type QueueOverflow int

const (
	// OverflowBlock blocks the reader until the consumer pops a chunk or the
	// reader is stopped.
	OverflowBlock QueueOverflow = iota
	// OverflowDropOldest evicts the oldest queued chunk to make room.
	OverflowDropOldest
)

const (
	DefaultPortName     = "/dev/ttyUSB0"
	DefaultBaudRate     = int(Baud9600)
	DefaultReadTimeout  = time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
)

// Config holds everything needed to open a port and run a reader.
//
// PortName, BaudRate, ReadTimeout, DataBits, Parity and StopBits are handed to
// the transport as they are. A negative ReadTimeout blocks reads until data
// arrives, zero makes them return immediately.
type Config struct {
	PortName    string `validate:"required"`
	BaudRate    int    `validate:"gt=0"`
	ReadTimeout time.Duration
	DataBits    int      `validate:"oneof=5 6 7 8"`
	Parity      Parity   `validate:"oneof=0 1 2 3 4"`
	StopBits    StopBits `validate:"oneof=0 1 2"`
	DTR         bool
	RTS         bool

	Driver Driver `validate:"omitempty,oneof=bugst termios"`

	// PollInterval is how long the reader idles when no input is pending.
	PollInterval time.Duration `validate:"gte=0"`
	// StopTimeout bounds how long StopReading waits for the reader to exit.
	StopTimeout time.Duration `validate:"gte=0"`

	// QueueCapacity limits the delivery queue. Zero means unbounded.
	QueueCapacity int           `validate:"gte=0"`
	QueueOverflow QueueOverflow `validate:"oneof=0 1"`
	ListenerMode  ListenerMode  `validate:"oneof=0 1"`
}

// DefaultConfig returns /dev/ttyUSB0 at 9600 8N1 with a one second read timeout.
func DefaultConfig() Config {
	return Config{
		PortName:     DefaultPortName,
		BaudRate:     DefaultBaudRate,
		ReadTimeout:  DefaultReadTimeout,
		DataBits:     DataBits8.Int(),
		Parity:       ParityNone,
		StopBits:     StopBits1,
		Driver:       DriverBugst,
		PollInterval: DefaultPollInterval,
		StopTimeout:  DefaultStopTimeout,
	}
}

// withDefaults fills the zero-valued knobs that have no meaningful zero.
func (c Config) withDefaults() Config {
	if c.DataBits == 0 {
		c.DataBits = DataBits8.Int()
	}
	if c.Driver == "" {
		c.Driver = DriverBugst
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}
