package serial

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig validates serial port configuration parameters
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	if err := configValidator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	if cfg.Driver == DriverTermios && runtime.GOOS != "linux" {
		return fmt.Errorf("%w: termios driver is only available on linux, not %s", ErrInvalidConfig, runtime.GOOS)
	}

	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Field() {
	case "PortName":
		return "port name cannot be empty"
	case "BaudRate":
		return fmt.Sprintf("invalid baud rate %d", fe.Value())
	case "DataBits":
		return fmt.Sprintf("data bits must be 5-8, got: %d", fe.Value())
	case "Parity":
		return fmt.Sprintf("invalid parity value: %d", fe.Value())
	case "StopBits":
		return fmt.Sprintf("invalid stop bits value: %d", fe.Value())
	case "Driver":
		return fmt.Sprintf("unknown driver %q", fe.Value())
	}
	return fmt.Sprintf("%s must satisfy %s=%s, got: %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
}
