// Package mqtt publishes received serial chunks to an MQTT broker.
package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	serial "github.com/Station-Manager/serialreader"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

var ErrPublishTimeout = errors.New("mqtt: publish timed out")

// Options configures a Publisher.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
	Retained bool
}

// Publisher forwards payloads to a single topic.
type Publisher struct {
	client   paho.Client
	topic    string
	qos      byte
	retained bool
	logger   zerolog.Logger
}

// Connect dials the broker and returns a ready Publisher.
func Connect(opts Options, logger zerolog.Logger) (*Publisher, error) {
	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Str("broker", opts.Broker).Msg("mqtt connection lost")
	})

	client := paho.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}

	logger.Info().Str("broker", opts.Broker).Str("topic", opts.Topic).Msg("mqtt connected")
	return NewPublisher(client, opts, logger), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client paho.Client, opts Options, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topic:    opts.Topic,
		qos:      opts.QoS,
		retained: opts.Retained,
		logger:   logger.With().Str("sink", "mqtt").Logger(),
	}
}

// Publish sends payload and waits for the broker to accept it.
func (p *Publisher) Publish(payload []byte) error {
	tok := p.client.Publish(p.topic, p.qos, p.retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return tok.Error()
}

// Listener returns a serial.Listener that publishes every chunk. Failures are
// logged; they never stop the reader.
func (p *Publisher) Listener() serial.Listener {
	return func(chunk []byte) {
		if err := p.Publish(chunk); err != nil {
			p.logger.Error().Err(err).Str("topic", p.topic).Msg("mqtt publish error")
			return
		}
		p.logger.Debug().Int("bytes", len(chunk)).Str("topic", p.topic).Msg("published")
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(quiesceMillis)
}
