package serial

import (
	"fmt"
	"slices"
	"strings"

	gobug "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// allow tests to override external dependencies
var (
	getPortsList         = gobug.GetPortsList
	getDetailedPortsList = enumerator.GetDetailedPortsList
)

// PortDetails describes a serial device visible to the host.
type PortDetails struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListAvailablePorts returns the names of the serial devices currently
// visible to the host, sorted.
func ListAvailablePorts() ([]string, error) {
	ports, err := getPortsList()
	if err != nil {
		return nil, err
	}
	ports = slices.Clone(ports)
	slices.Sort(ports)
	return ports, nil
}

// ListPortDetails is ListAvailablePorts with USB identification where the
// platform provides it.
func ListPortDetails() ([]PortDetails, error) {
	ports, err := getDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]PortDetails, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortDetails{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	slices.SortFunc(out, func(a, b PortDetails) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// PortAvailable reports whether portName is among the visible ports. Names
// that do not look like serial devices are rejected without enumerating.
func PortAvailable(portName string) (bool, error) {
	if strings.Contains(portName, "..") {
		return false, fmt.Errorf("invalid port name: contains path traversal")
	}
	if !isValidPortPattern(portName) {
		return false, fmt.Errorf("port name doesn't match expected pattern: %s", portName)
	}

	ports, err := getPortsList()
	if err != nil {
		return false, err
	}
	return slices.Contains(ports, portName), nil
}

func isValidPortPattern(portName string) bool {
	// Windows: COM1-COM999
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return strings.Trim(portName[3:], "0123456789") == ""
	}
	// Unix: /dev/tty*, /dev/cu* (macOS), udev links and pseudo-terminals
	for _, prefix := range []string{"/dev/tty", "/dev/cu", "/dev/serial/", "/dev/pts/"} {
		if strings.HasPrefix(portName, prefix) && len(portName) > len(prefix) {
			return true
		}
	}
	return false
}
