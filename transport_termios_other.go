//go:build !linux

package serial

import (
	"errors"
	"runtime"
)

func openTermios(Config) (Transport, error) {
	return nil, errors.New("termios driver is not supported on " + runtime.GOOS)
}
