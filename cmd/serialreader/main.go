// Command serialreader streams a serial port to the terminal and to the
// optional MQTT, SQLite and WebSocket sinks, and forwards stdin lines to
// the port.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	serial "github.com/Station-Manager/serialreader"
	"github.com/Station-Manager/serialreader/internal/config"
	"github.com/Station-Manager/serialreader/internal/mqtt"
	"github.com/Station-Manager/serialreader/internal/storage"
	"github.com/Station-Manager/serialreader/internal/tap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("serialreader failed")
	}
}

func run() error {
	envFile := flag.String("env", config.DefaultEnvFile, "dotenv file to load if present")
	portFlag := flag.String("port", "", "serial device path (overrides SERIAL_PORT)")
	list := flag.Bool("list", false, "list available serial ports and exit")
	stdin := flag.Bool("stdin", false, "write each stdin line to the port, terminated by CRLF")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog.Close()
	log.Logger = logger

	if *list {
		return listPorts(os.Stdout, serial.ListPortDetails)
	}

	port, err := resolvePort(*portFlag, cfg.SerialPort, serial.ListAvailablePorts, serial.PortAvailable, logger)
	if err != nil {
		return err
	}

	sess := serial.New(cfg.Session(port), serial.WithLogger(logger.With().Str("component", "serial").Logger()))

	var listeners []serial.Listener
	if cfg.Echo {
		listeners = append(listeners, printer(os.Stdout))
	}

	if cfg.MQTTBroker != "" {
		pub, err := mqtt.Connect(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUser,
			Password: cfg.MQTTPass,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		listeners = append(listeners, pub.Listener())
	}

	if cfg.CaptureDB != "" {
		store, err := storage.New(cfg.CaptureDB)
		if err != nil {
			return fmt.Errorf("capture db: %w", err)
		}
		defer store.Close()
		listeners = append(listeners, store.Listener(port, logger))
	}

	var tapSrv *tap.Server
	if cfg.TapAddr != "" {
		tapSrv = tap.New(sess, logger)
		listeners = append(listeners, tapSrv.Listener())
	}

	sess.SetListener(serial.Fanout(listeners...))

	if err = sess.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			logger.Error().Err(err).Msg("disconnect")
		}
	}()
	if err = sess.StartReading(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				return fmt.Errorf("reader stopped: %w", err)
			}
			return nil
		}
	})

	if cfg.MetricsInterval > 0 {
		g.Go(func() error {
			logMetrics(gctx, sess, cfg.MetricsInterval, logger)
			return nil
		})
	}

	if tapSrv != nil {
		srv := &http.Server{Addr: cfg.TapAddr, Handler: tapSrv.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.TapAddr).Msg("tap listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tapSrv.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *stdin {
		// stdin reads cannot be cancelled, so this goroutine is not part of the group
		go forwardLines(os.Stdin, sess, logger)
	}

	sc := sess.Config()
	logger.Info().
		Str("port", sc.PortName).
		Int("baud", sc.BaudRate).
		Str("driver", string(sc.Driver)).
		Int("queue_capacity", sc.QueueCapacity).
		Msg("reading, press Ctrl+C to stop")
	return g.Wait()
}

func newLogger(cfg config.Config) (zerolog.Logger, io.Closer) {
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = l
		}
	}

	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		return zerolog.New(lj).Level(level).With().Timestamp().Logger(), lj
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// resolvePort picks the flag, then the configured port, then the first
// port the host reports. An explicit port must look like a serial device;
// one the host does not list is still used, with a warning.
func resolvePort(flagPort, cfgPort string, available func() ([]string, error), check func(string) (bool, error), logger zerolog.Logger) (string, error) {
	explicit := flagPort
	if explicit == "" {
		explicit = cfgPort
	}
	if explicit != "" {
		listed, err := check(explicit)
		if err != nil {
			return "", err
		}
		if !listed {
			logger.Warn().Str("port", explicit).Msg("port is not listed by the host")
		}
		return explicit, nil
	}
	ports, err := available()
	if err != nil {
		return "", fmt.Errorf("listing ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found; set SERIAL_PORT or -port")
	}
	return ports[0], nil
}

func listPorts(w io.Writer, details func() ([]serial.PortDetails, error)) error {
	ports, err := details()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
		return nil
	}
	fmt.Fprintln(w, "Available ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Fprintf(w, "  %s  USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			continue
		}
		fmt.Fprintf(w, "  %s\n", p.Name)
	}
	return nil
}

func printer(w io.Writer) serial.Listener {
	return func(chunk []byte) {
		fmt.Fprintf(w, "Received: %q\n", chunk)
	}
}

// commandWriter is the part of *serial.Session used by forwardLines.
type commandWriter interface {
	Write(data []byte) error
}

func forwardLines(r io.Reader, sess commandWriter, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := sess.Write([]byte(line + "\r\n")); err != nil {
			logger.Error().Err(err).Msg("write")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("stdin error")
	}
}

func logMetrics(ctx context.Context, src serial.MetricsSource, interval time.Duration, logger zerolog.Logger) {
	mb := serial.NewMetricsBroadcaster(1, interval)
	mb.Start(src)
	defer mb.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-mb.C():
			if !ok {
				return
			}
			logger.Info().
				Str("health", string(snap.HealthStatus)).
				Str("reader", snap.ReaderState).
				Int64("chunks", snap.TotalChunks).
				Int64("bytes_read", snap.TotalBytesRead).
				Int64("bytes_written", snap.TotalBytesWritten).
				Int("queued", snap.QueueLen).
				Int64("queue_drops", snap.QueueDrops).
				Float64("uptime_s", snap.UptimeSeconds).
				Msg("serial metrics")
		}
	}
}
