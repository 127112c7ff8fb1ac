package serial

import (
	"sync/atomic"
	"time"
)

// Metrics tracks serial session health statistics
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total Connect calls that tried to open
	SuccessfulConnects  atomic.Int64 // Successful connections
	ConnectionFailures  atomic.Int64 // Failed connections
	Disconnections      atomic.Int64 // Total disconnects
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started (ns)

	// Reader
	ReaderStarts   atomic.Int64 // Reader goroutines spawned
	ReaderFailures atomic.Int64 // Reader exits caused by an error
	ChunksRead     atomic.Int64 // Non-empty chunks delivered
	BytesRead      atomic.Int64 // Total bytes read, reader and direct reads
	ReadErrors     atomic.Int64 // Transport read failures
	LastReadTime   atomic.Int64 // Unix timestamp of last non-empty read

	// Delivery
	QueueDrops     atomic.Int64 // Chunks evicted from a full bounded queue
	ListenerPanics atomic.Int64 // Panics recovered from listeners

	// Write Operations
	WriteOperations  atomic.Int64 // Total write attempts
	SuccessfulWrites atomic.Int64 // Successful writes
	WriteErrors      atomic.Int64 // Write or flush failures
	BytesWritten     atomic.Int64 // Total bytes written
	TotalWriteTime   atomic.Int64 // Total time spent writing (ns)
	MaxWriteTime     atomic.Int64 // Slowest write operation (ns)

	// Buffer Pool Metrics
	BufferPoolHits   atomic.Int64 // Buffer pool cache hits
	BufferPoolMisses atomic.Int64 // Buffer pool cache misses

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive operation failures
	LastErrorTime       atomic.Int64 // Timestamp of last error
}

// HealthStatus represents the overall health of serial communication
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time copy of Metrics with derived rates.
type MetricsSnapshot struct {
	Timestamp           time.Time     `json:"timestamp"`
	IsConnected         bool          `json:"is_connected"`
	ReaderState         string        `json:"reader_state"`
	QueueLen            int           `json:"queue_len"`
	ConnectionSuccess   float64       `json:"connection_success"`
	WriteSuccessRate    float64       `json:"write_success_rate"`
	AverageWriteLatency time.Duration `json:"average_write_latency"`
	MaxWriteLatency     time.Duration `json:"max_write_latency"`
	BytesPerSecond      float64       `json:"bytes_per_second"`
	UptimeSeconds       float64       `json:"uptime_seconds"`
	BufferPoolHitRatio  float64       `json:"buffer_pool_hit_ratio"`
	TotalChunks         int64         `json:"total_chunks"`
	TotalBytesRead      int64         `json:"total_bytes_read"`
	TotalBytesWritten   int64         `json:"total_bytes_written"`
	TotalWrites         int64         `json:"total_writes"`
	TotalErrors         int64         `json:"total_errors"`
	QueueDrops          int64         `json:"queue_drops"`
	ListenerPanics      int64         `json:"listener_panics"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	HealthStatus        HealthStatus  `json:"health_status"`
}

// Snapshot computes the derived view of m at now.
func (m *Metrics) Snapshot(now time.Time, connected bool) MetricsSnapshot {
	start := m.ConnectionStartTime.Load()
	s := MetricsSnapshot{
		Timestamp:           now,
		IsConnected:         connected,
		ConnectionSuccess:   m.calculateConnectionSuccessRate(),
		WriteSuccessRate:    m.calculateWriteSuccessRate(),
		AverageWriteLatency: m.calculateAverageWriteLatency(),
		MaxWriteLatency:     time.Duration(m.MaxWriteTime.Load()),
		BytesPerSecond:      m.calculateThroughput(now, connected, start),
		UptimeSeconds:       m.calculateUptime(now, connected, start),
		BufferPoolHitRatio:  m.calculateBufferPoolHitRatio(),
		TotalChunks:         m.ChunksRead.Load(),
		TotalBytesRead:      m.BytesRead.Load(),
		TotalBytesWritten:   m.BytesWritten.Load(),
		TotalWrites:         m.WriteOperations.Load(),
		TotalErrors:         m.ReadErrors.Load() + m.WriteErrors.Load() + m.ListenerPanics.Load(),
		QueueDrops:          m.QueueDrops.Load(),
		ListenerPanics:      m.ListenerPanics.Load(),
		ConsecutiveFailures: m.ConsecutiveFailures.Load(),
	}
	s.HealthStatus = assessHealthStatus(s)
	return s
}

func (m *Metrics) calculateConnectionSuccessRate() float64 {
	attempts := m.ConnectionAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	return float64(m.SuccessfulConnects.Load()) / float64(attempts) * 100
}

func (m *Metrics) calculateWriteSuccessRate() float64 {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 100.0
	}
	return float64(m.SuccessfulWrites.Load()) / float64(writes) * 100
}

func (m *Metrics) calculateAverageWriteLatency() time.Duration {
	writes := m.WriteOperations.Load()
	if writes == 0 {
		return 0
	}
	return time.Duration(m.TotalWriteTime.Load() / writes)
}

func (m *Metrics) calculateThroughput(now time.Time, connected bool, start int64) float64 {
	seconds := m.calculateUptime(now, connected, start)
	if seconds <= 0 {
		return 0.0
	}
	return float64(m.BytesRead.Load()+m.BytesWritten.Load()) / seconds
}

func (m *Metrics) calculateUptime(now time.Time, connected bool, start int64) float64 {
	if !connected || start == 0 {
		return 0.0
	}
	d := now.UnixNano() - start
	if d <= 0 {
		return 0.0
	}
	return float64(d) / float64(time.Second)
}

func (m *Metrics) calculateBufferPoolHitRatio() float64 {
	total := m.BufferPoolHits.Load() + m.BufferPoolMisses.Load()
	if total == 0 {
		return 100.0
	}
	return float64(m.BufferPoolHits.Load()) / float64(total) * 100
}

func assessHealthStatus(s MetricsSnapshot) HealthStatus {
	if !s.IsConnected {
		return HealthStatusDown
	}
	if s.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}
	if s.ConsecutiveFailures > 0 || s.QueueDrops > 0 || s.ListenerPanics > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func (m *Metrics) recordConnect(now time.Time) {
	m.SuccessfulConnects.Add(1)
	m.LastConnectTime.Store(now.Unix())
	m.ConnectionStartTime.Store(now.UnixNano())
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordDisconnect(now time.Time) {
	if start := m.ConnectionStartTime.Swap(0); start > 0 {
		m.TotalUptime.Add(now.UnixNano() - start)
	}
	m.Disconnections.Add(1)
	m.LastDisconnectTime.Store(now.Unix())
}

func (m *Metrics) recordChunk(n int) {
	m.ChunksRead.Add(1)
	m.BytesRead.Add(int64(n))
	m.LastReadTime.Store(time.Now().Unix())
}

func (m *Metrics) recordWrite(n int, err error, d time.Duration) {
	m.WriteOperations.Add(1)
	m.TotalWriteTime.Add(d.Nanoseconds())

	for {
		current := m.MaxWriteTime.Load()
		if d.Nanoseconds() <= current {
			break
		}
		if m.MaxWriteTime.CompareAndSwap(current, d.Nanoseconds()) {
			break
		}
	}

	if err != nil {
		m.WriteErrors.Add(1)
		m.recordFailure()
		return
	}
	m.SuccessfulWrites.Add(1)
	m.BytesWritten.Add(int64(n))
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordFailure() {
	m.ConsecutiveFailures.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}
