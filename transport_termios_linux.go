//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var termiosBaudRates = map[BaudRate]uint32{
	50:         unix.B50,
	75:         unix.B75,
	110:        unix.B110,
	134:        unix.B134,
	150:        unix.B150,
	200:        unix.B200,
	300:        unix.B300,
	600:        unix.B600,
	Baud1200:   unix.B1200,
	1800:       unix.B1800,
	Baud2400:   unix.B2400,
	Baud4800:   unix.B4800,
	Baud9600:   unix.B9600,
	Baud19200:  unix.B19200,
	Baud38400:  unix.B38400,
	Baud57600:  unix.B57600,
	Baud115200: unix.B115200,
	Baud230400: unix.B230400,
	Baud460800: unix.B460800,
	500000:     unix.B500000,
	576000:     unix.B576000,
	Baud921600: unix.B921600,
	1000000:    unix.B1000000,
	1152000:    unix.B1152000,
	1500000:    unix.B1500000,
	2000000:    unix.B2000000,
	2500000:    unix.B2500000,
	3000000:    unix.B3000000,
	3500000:    unix.B3500000,
	4000000:    unix.B4000000,
}

var (
	errTermiosClosed = errors.New("port closed")
	errTermiosHangup = errors.New("port hung up")
)

// termiosPort drives a Linux tty in raw mode. The descriptor stays
// non-blocking; read timeouts are implemented with poll(2).
type termiosPort struct {
	mu      sync.Mutex
	fd      int
	timeout time.Duration
	closed  bool
}

func openTermios(cfg Config) (Transport, error) {
	speed, ok := termiosBaudRates[BaudRate(cfg.BaudRate)]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)
	}

	fd, err := unix.Open(cfg.PortName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.PortName, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}
	if err = makeRaw(t, cfg, speed); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err = unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	return &termiosPort{fd: fd, timeout: -1}, nil
}

func makeRaw(t *unix.Termios, cfg Config, speed uint32) error {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL |
		unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CMSPAR | unix.CSTOPB | unix.CBAUD | unix.CRTSCTS
	t.Cflag |= unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed

	switch DataBits(cfg.DataBits) {
	case DataBits5:
		t.Cflag |= unix.CS5
	case DataBits6:
		t.Cflag |= unix.CS6
	case DataBits7:
		t.Cflag |= unix.CS7
	case DataBits8:
		t.Cflag |= unix.CS8
	default:
		return fmt.Errorf("unsupported data bits %d", cfg.DataBits)
	}

	switch cfg.Parity {
	case ParityNone:
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	case ParityMark:
		t.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		t.Cflag |= unix.PARENB | unix.CMSPAR
	default:
		return fmt.Errorf("unsupported parity %d", cfg.Parity)
	}
	if cfg.Parity != ParityNone {
		t.Iflag |= unix.INPCK
	}

	switch cfg.StopBits {
	case StopBits1:
	case StopBits2:
		t.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("stop bits %s not supported by termios", cfg.StopBits)
	}

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return nil
}

func (p *termiosPort) descriptor() (int, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1, 0, errTermiosClosed
	}
	return p.fd, p.timeout, nil
}

func (p *termiosPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	fd, timeout, err := p.descriptor()
	if err != nil {
		return 0, err
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		ready, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if ready == 0 {
			return 0, nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return 0, errTermiosClosed
		}
		if fds[0].Revents&unix.POLLIN == 0 && fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return 0, errTermiosHangup
		}

		n, err := unix.Read(fd, b)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (p *termiosPort) Write(b []byte) (int, error) {
	fd, _, err := p.descriptor()
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(b) {
		n, err := unix.Write(fd, b[written:])
		if errors.Is(err, unix.EAGAIN) {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, err = unix.Poll(fds, -1); err != nil && !errors.Is(err, unix.EINTR) {
				return written, err
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Drain waits for the output queue to empty (tcdrain).
func (p *termiosPort) Drain() error {
	fd, _, err := p.descriptor()
	if err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCSBRK, 1)
}

// InWaiting returns the number of bytes in the input queue (TIOCINQ). A
// hung up line with nothing left to read is reported as an error so a
// polling reader notices the device went away.
func (p *termiosPort) InWaiting() (int, error) {
	fd, _, err := p.descriptor()
	if err != nil {
		return 0, err
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
	if err != nil || n > 0 {
		return n, err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err = unix.Poll(fds, 0); err != nil && !errors.Is(err, unix.EINTR) {
		return 0, err
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return 0, errTermiosClosed
	}
	if fds[0].Revents&unix.POLLIN == 0 && fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		return 0, errTermiosHangup
	}
	return 0, nil
}

func (p *termiosPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errTermiosClosed
	}
	p.timeout = d
	return nil
}

func (p *termiosPort) SetDTR(dtr bool) error {
	return p.setModemBit(unix.TIOCM_DTR, dtr)
}

func (p *termiosPort) SetRTS(rts bool) error {
	return p.setModemBit(unix.TIOCM_RTS, rts)
}

func (p *termiosPort) setModemBit(bit int, on bool) error {
	fd, _, err := p.descriptor()
	if err != nil {
		return err
	}
	req := uint(unix.TIOCMBIC)
	if on {
		req = unix.TIOCMBIS
	}
	err = unix.IoctlSetPointerInt(fd, req, bit)
	// pseudo terminals have no modem lines
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
		return nil
	}
	return err
}

func (p *termiosPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}
