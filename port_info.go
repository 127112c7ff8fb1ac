package serial

import (
	"time"
)

// PortInfo describes the port held by a session.
type PortInfo struct {
	Port      string        `json:"port"`
	BaudRate  int           `json:"baudrate"`
	DataBits  int           `json:"bytesize"`
	Parity    string        `json:"parity"`
	StopBits  string        `json:"stopbits"`
	Timeout   time.Duration `json:"timeout"`
	Driver    Driver        `json:"driver"`
	IsOpen    bool          `json:"is_open"`
	InWaiting int           `json:"in_waiting"`
}

// PortInfo returns the configuration of the held transport plus its live
// state. The second result is false when no transport is held.
// InWaiting is only reported by transports that implement InWaiter.
func (s *Session) PortInfo() (PortInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.transport == nil {
		return PortInfo{}, false
	}

	info := PortInfo{
		Port:     s.cfg.PortName,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		Parity:   s.cfg.Parity.String(),
		StopBits: s.cfg.StopBits.String(),
		Timeout:  s.cfg.ReadTimeout,
		Driver:   s.cfg.Driver,
		IsOpen:   s.connected.Load(),
	}
	if info.IsOpen {
		if iw, ok := s.transport.(InWaiter); ok {
			if n, err := iw.InWaiting(); err == nil {
				info.InWaiting = n
			}
		}
	}
	return info, true
}
