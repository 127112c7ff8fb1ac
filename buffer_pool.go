package serial

import (
	"sync"
	"sync/atomic"
)

const (
	// MaxBufferSize caps a single ReadBytes call and a single reader poll.
	// 64KB comfortably exceeds typical OS serial input buffers.
	MaxBufferSize = 64 * 1024
)

// BufferPool manages reusable byte buffers for I/O operations
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Add(1)
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first so stale input never leaks)
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return
	}
	bp.puts.Add(1)

	clear(buf)
	bp.pool.Put(buf)
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}

// readBuffers hands out scratch buffers for transport reads. Chunks that
// leave the session are always copied out of them.
type readBuffers struct {
	small   *BufferPool // 256 bytes
	medium  *BufferPool // 1024 bytes
	large   *BufferPool // 4096 bytes
	metrics *Metrics
}

func newReadBuffers(m *Metrics) *readBuffers {
	return &readBuffers{
		small:   NewBufferPool(256),
		medium:  NewBufferPool(1024),
		large:   NewBufferPool(4096),
		metrics: m,
	}
}

// get returns a buffer of exactly size bytes and the func that releases it.
func (rb *readBuffers) get(size int) ([]byte, func()) {
	if size <= 0 {
		size = 1
	}
	if size > MaxBufferSize {
		size = MaxBufferSize
	}

	var pool *BufferPool
	switch {
	case size <= 256:
		pool = rb.small
	case size <= 1024:
		pool = rb.medium
	case size <= 4096:
		pool = rb.large
	default:
		rb.metrics.BufferPoolMisses.Add(1)
		return make([]byte, size), func() {}
	}

	rb.metrics.BufferPoolHits.Add(1)
	buf := pool.Get()
	return buf[:size], func() { pool.Put(buf) }
}

func (rb *readBuffers) stats() []PoolStats {
	return []PoolStats{rb.small.Stats(), rb.medium.Stats(), rb.large.Stats()}
}
