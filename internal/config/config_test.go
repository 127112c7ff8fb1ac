package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	serial "github.com/Station-Manager/serialreader"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	require.Equal(t, serial.DefaultBaudRate, cfg.BaudRate)
	require.Equal(t, serial.DefaultReadTimeout, cfg.ReadTimeout)
	require.Equal(t, time.Minute, cfg.MetricsInterval)
	require.Equal(t, "serialreader", cfg.MQTTClientID)
	require.True(t, cfg.Echo)
	require.False(t, cfg.AsyncListener)
	require.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	require.True(t, cfg.DropOldest)
	require.Empty(t, cfg.SerialPort)
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"SERIAL_PORT":      "/dev/ttyACM0",
		"BAUD_RATE":        "115200",
		"READ_TIMEOUT":     "0.5",
		"SERIAL_PARITY":    "E",
		"SERIAL_DRIVER":    "termios",
		"QUEUE_CAPACITY":   "128",
		"QUEUE_OVERFLOW":   "drop",
		"ASYNC_LISTENER":   "true",
		"ECHO":             "false",
		"MQTT_BROKER":      "tcp://localhost:1883",
		"MQTT_TOPIC":       "serial/rx",
		"TAP_ADDR":         ":8080",
		"LOG_LEVEL":        "DEBUG",
		"METRICS_INTERVAL": "10s",
	}))
	require.NoError(t, err)

	require.Equal(t, 500*time.Millisecond, cfg.ReadTimeout)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 10*time.Second, cfg.MetricsInterval)
	require.False(t, cfg.Echo)

	sc := cfg.Session(cfg.SerialPort)
	require.Equal(t, "/dev/ttyACM0", sc.PortName)
	require.Equal(t, 115200, sc.BaudRate)
	require.Equal(t, serial.ParityEven, sc.Parity)
	require.Equal(t, serial.DriverTermios, sc.Driver)
	require.Equal(t, 128, sc.QueueCapacity)
	require.Equal(t, serial.OverflowDropOldest, sc.QueueOverflow)
	require.Equal(t, serial.ListenerAsync, sc.ListenerMode)
	require.Equal(t, 8, sc.DataBits)
}

func TestFromEnvBlockingQueue(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"QUEUE_OVERFLOW": "block", "QUEUE_CAPACITY": "0"}))
	require.NoError(t, err)

	sc := cfg.Session("/dev/ttyS0")
	require.Equal(t, 0, sc.QueueCapacity)
	require.Equal(t, serial.OverflowBlock, sc.QueueOverflow)
}

func TestFromEnvNegativeTimeoutBlocks(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"READ_TIMEOUT": "-1"}))
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), cfg.ReadTimeout)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"baud not a number":    {"BAUD_RATE": "fast"},
		"baud zero":            {"BAUD_RATE": "0"},
		"bad timeout":          {"READ_TIMEOUT": "soon"},
		"bad bool":             {"ECHO": "maybe"},
		"bad parity":           {"SERIAL_PARITY": "X"},
		"bad driver":           {"SERIAL_DRIVER": "ftdi"},
		"broker without topic": {"MQTT_BROKER": "tcp://localhost:1883"},
		"bad log level":        {"LOG_LEVEL": "loud"},
		"bad tap addr":         {"TAP_ADDR": "not an address"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envMap(env))
			require.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SERIAL_PORT=/dev/ttyS9\nBAUD_RATE=19200\n"), 0o600))
	t.Setenv("SERIAL_PORT", "")
	os.Unsetenv("SERIAL_PORT")
	t.Setenv("BAUD_RATE", "57600")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyS9", cfg.SerialPort)
	// variables already set win over the file
	require.Equal(t, 57600, cfg.BaudRate)
}

func TestLoadMissingEnvFile(t *testing.T) {
	t.Setenv("BAUD_RATE", "")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
