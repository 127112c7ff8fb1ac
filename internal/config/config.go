// Package config loads the serialreader gateway settings from the
// environment, optionally seeded from a dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	serial "github.com/Station-Manager/serialreader"
)

// Config holds every gateway setting. Zero values disable the optional sinks.
type Config struct {
	SerialPort    string
	BaudRate      int `validate:"gt=0"`
	ReadTimeout   time.Duration
	Parity        string `validate:"omitempty,oneof=N O E M S n o e m s"`
	Driver        string `validate:"omitempty,oneof=bugst termios"`
	QueueCapacity int    `validate:"gte=0"`
	DropOldest    bool
	AsyncListener bool
	Echo          bool

	MQTTBroker   string `validate:"omitempty,url"`
	MQTTTopic    string `validate:"required_with=MQTTBroker"`
	MQTTClientID string
	MQTTUser     string
	MQTTPass     string

	CaptureDB string
	TapAddr   string `validate:"omitempty,hostname_port"`

	LogLevel        string `validate:"omitempty,oneof=trace debug info warn error"`
	LogFile         string
	MetricsInterval time.Duration `validate:"gte=0"`
}

// DefaultEnvFile is read by Load when it exists.
const DefaultEnvFile = ".env.runtime"

// DefaultQueueCapacity bounds the delivery queue. The gateway consumes
// chunks through listeners only, so by default the queue keeps just the
// most recent chunks.
const DefaultQueueCapacity = 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads envFile into the process environment (missing files are fine,
// existing variables win) and builds a validated Config from it.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	var err error
	cfg := Config{
		SerialPort:    getenv("SERIAL_PORT"),
		BaudRate:      serial.DefaultBaudRate,
		ReadTimeout:   serial.DefaultReadTimeout,
		Parity:        getenv("SERIAL_PARITY"),
		Driver:        getenv("SERIAL_DRIVER"),
		DropOldest:    !strings.EqualFold(getenv("QUEUE_OVERFLOW"), "block"),
		MQTTBroker:    getenv("MQTT_BROKER"),
		MQTTTopic:     getenv("MQTT_TOPIC"),
		MQTTClientID:  getenv("MQTT_CLIENT_ID"),
		MQTTUser:      getenv("MQTT_USER"),
		MQTTPass:      getenv("MQTT_PASS"),
		CaptureDB:     getenv("CAPTURE_DB"),
		TapAddr:       getenv("TAP_ADDR"),
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL")),
		LogFile:       getenv("LOG_FILE"),
	}

	if cfg.BaudRate, err = intVar(getenv, "BAUD_RATE", cfg.BaudRate); err != nil {
		return Config{}, err
	}
	if cfg.QueueCapacity, err = intVar(getenv, "QUEUE_CAPACITY", DefaultQueueCapacity); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = durationVar(getenv, "READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MetricsInterval, err = durationVar(getenv, "METRICS_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AsyncListener, err = boolVar(getenv, "ASYNC_LISTENER", false); err != nil {
		return Config{}, err
	}
	if cfg.Echo, err = boolVar(getenv, "ECHO", true); err != nil {
		return Config{}, err
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "serialreader"
	}

	if err = validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Session translates the gateway settings into a serial.Config for port.
func (c Config) Session(port string) serial.Config {
	sc := serial.DefaultConfig()
	sc.PortName = port
	sc.BaudRate = c.BaudRate
	sc.ReadTimeout = c.ReadTimeout
	if p, ok := serial.ParseParity(c.Parity); ok {
		sc.Parity = p
	}
	if c.Driver != "" {
		sc.Driver = serial.Driver(c.Driver)
	}
	sc.QueueCapacity = c.QueueCapacity
	if c.DropOldest {
		sc.QueueOverflow = serial.OverflowDropOldest
	}
	if c.AsyncListener {
		sc.ListenerMode = serial.ListenerAsync
	}
	return sc
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationVar accepts Go durations ("250ms") or plain seconds ("1.5").
func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	if secs < 0 {
		return -1, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func boolVar(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
