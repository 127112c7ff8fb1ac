package serial

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// MetricsSource is anything that can produce a metrics snapshot. *Session implements it.
type MetricsSource interface {
	Metrics() MetricsSnapshot
}

// MetricsBroadcaster publishes periodic snapshots on a buffered channel.
// Snapshots are dropped rather than blocking when the consumer falls behind.
// A broadcaster runs at most once: after Stop it cannot be started again.
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	enabled          atomic.Bool
	stopCh           chan struct{}
	done             chan struct{}
	emissionInterval time.Duration
	lifeMu           sync.Mutex
	started          bool
	stopped          bool
	sendMu           sync.Mutex
}

const (
	defaultMetricsChannelSize = 50
	defaultMetricsInterval    = time.Minute
)

// NewMetricsBroadcaster creates a broadcaster emitting every interval. A
// channelSize <= 0 selects the default buffer and an interval <= 0 the
// default interval of one minute.
func NewMetricsBroadcaster(channelSize int, interval time.Duration) *MetricsBroadcaster {
	if channelSize <= 0 {
		channelSize = defaultMetricsChannelSize
	}
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting snapshots of src. Starting twice, or after Stop,
// does nothing.
func (mb *MetricsBroadcaster) Start(src MetricsSource) {
	mb.lifeMu.Lock()
	defer mb.lifeMu.Unlock()

	if mb.started || mb.stopped {
		return
	}
	mb.started = true
	mb.enabled.Store(true)

	ticker := time.NewTicker(mb.emissionInterval)
	go func() {
		defer close(mb.done)
		defer ticker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-ticker.C:
				mb.broadcastMetrics(src)
			}
		}
	}()
}

// Stop ends broadcasting and closes the channel. It is safe to call more
// than once, and before Start.
func (mb *MetricsBroadcaster) Stop() {
	mb.lifeMu.Lock()
	defer mb.lifeMu.Unlock()

	if mb.stopped {
		return
	}
	mb.stopped = true
	mb.enabled.Store(false)

	if mb.started {
		close(mb.stopCh)
		<-mb.done
	}

	mb.sendMu.Lock()
	close(mb.metricsChannel)
	mb.sendMu.Unlock()
}

// BroadcastImmediate sends a snapshot now, e.g. after a connection change.
func (mb *MetricsBroadcaster) BroadcastImmediate(src MetricsSource) {
	mb.broadcastMetrics(src)
}

// C returns the read-only snapshot channel. It is closed by Stop.
func (mb *MetricsBroadcaster) C() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcastMetrics(src MetricsSource) {
	mb.sendMu.Lock()
	defer mb.sendMu.Unlock()

	if !mb.enabled.Load() {
		return
	}

	select {
	case mb.metricsChannel <- src.Metrics():
	default:
		// consumer is behind; skip this one
	}
}
