//go:build linux

package serial

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
)

func openPTY(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	if err != nil {
		t.Fatalf("pty.Open failed: %v", err)
	}
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func termiosSession(t *testing.T, device string) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PortName = device
	cfg.BaudRate = 115200
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.PollInterval = 2 * time.Millisecond
	cfg.Driver = DriverTermios

	s := New(cfg, WithLogger(zerolog.Nop()))
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func readMaster(t *testing.T, master *os.File) string {
	t.Helper()
	buf := make([]byte, 16)
	n, err := master.Read(buf)
	if err != nil {
		t.Fatalf("master read failed: %v", err)
	}
	return string(buf[:n])
}

func TestTermiosUnsupportedBaudRate(t *testing.T) {
	_, slave := openPTY(t)

	cfg := DefaultConfig()
	cfg.PortName = slave.Name()
	cfg.BaudRate = 12345
	cfg.Driver = DriverTermios

	s := New(cfg, WithLogger(zerolog.Nop()))
	err := s.Connect()
	if !IsTransportError(err) {
		t.Fatalf("Expected a transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported baud rate") {
		t.Fatalf("Expected unsupported baud rate, got %v", err)
	}
}

func TestTermiosWriteAndReadLine(t *testing.T) {
	master, slave := openPTY(t)
	s := termiosSession(t, slave.Name())

	if _, err := master.Write([]byte("OK 1\r\n")); err != nil {
		t.Fatalf("master write failed: %v", err)
	}

	line, err := s.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if line != "OK 1" {
		t.Fatalf("Expected OK 1, got %q", line)
	}

	if err := s.Write([]byte("AT\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readMaster(t, master); got != "AT\r\n" {
		t.Fatalf("Expected AT\\r\\n on the master, got %q", got)
	}

	if _, err := s.ReadBytes(4); !errors.Is(err, ErrNoData) {
		t.Fatalf("Expected ErrNoData, got %v", err)
	}
}

func TestTermiosPortInfoInWaiting(t *testing.T) {
	master, slave := openPTY(t)
	s := termiosSession(t, slave.Name())

	if _, err := master.Write([]byte("abcdef")); err != nil {
		t.Fatalf("master write failed: %v", err)
	}

	eventually(t, func() bool {
		info, ok := s.PortInfo()
		return ok && info.InWaiting == 6
	}, "six bytes waiting")

	data, err := s.ReadBytes(6)
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if string(data) != "abcdef" {
		t.Fatalf("Expected abcdef, got %q", data)
	}
}

func TestTermiosReaderDeliversChunks(t *testing.T) {
	master, slave := openPTY(t)
	s := termiosSession(t, slave.Name())

	received := make(chan []byte, 16)
	s.SetListener(func(chunk []byte) { received <- chunk })
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading failed: %v", err)
	}

	if _, err := master.Write([]byte("ping\n")); err != nil {
		t.Fatalf("master write failed: %v", err)
	}

	var got []byte
	deadline := time.After(time.Second)
	for len(got) < 5 {
		select {
		case chunk := <-received:
			got = append(got, chunk...)
		case <-deadline:
			t.Fatalf("timeout waiting for reader, got %q", got)
		}
	}
	if string(got) != "ping\n" {
		t.Fatalf("Expected ping, got %q", got)
	}

	// the reader and a writer share the port
	if err := s.Write([]byte("pong\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readMaster(t, master); got != "pong\n" {
		t.Fatalf("Expected pong on the master, got %q", got)
	}

	if err := s.StopReading(); err != nil {
		t.Fatalf("StopReading failed: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("Expected idle reader, got %s", s.State())
	}
}
