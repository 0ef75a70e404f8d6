package crypto

import (
	"sync"
	"sync/atomic"
)

// BufferPool is a bounded pool of byte buffers sized for exactly one
// session's chunk traffic: bufferCapacity is chunk_size+AEADTagLen, so a
// take/return cycle never needs to grow the buffer mid-flight.
//
// Take is unbounded — it allocates when the free list is empty — but
// retention is bounded: Return only keeps a buffer whose capacity meets
// bufferCapacity, so undersized last-chunk fallback allocations are
// dropped rather than pooled. Buffers are zeroized before being returned
// to the free list so plaintext or key material never lingers in a
// buffer handed to an unrelated request.
type BufferPool struct {
	pool           sync.Pool
	bufferCapacity int

	hits, misses int64

	onHit, onMiss func()
}

// SetObservers registers callbacks invoked on every hit/miss, in addition
// to the pool's own atomic counters — used to feed a Prometheus counter
// without the pool itself depending on the metrics package.
func (p *BufferPool) SetObservers(onHit, onMiss func()) {
	p.onHit = onHit
	p.onMiss = onMiss
}

// NewBufferPool returns a pool whose buffers are sized bufferCapacity
// bytes, typically chunk_size+AEADTagLen.
func NewBufferPool(bufferCapacity int) *BufferPool {
	p := &BufferPool{bufferCapacity: bufferCapacity}
	p.pool.New = func() interface{} {
		return make([]byte, 0, bufferCapacity)
	}
	return p
}

// Take pops a buffer from the free list, or allocates one at
// bufferCapacity if the list is empty. The returned buffer has length 0.
func (p *BufferPool) Take() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) >= p.bufferCapacity {
		atomic.AddInt64(&p.hits, 1)
		if p.onHit != nil {
			p.onHit()
		}
	} else {
		atomic.AddInt64(&p.misses, 1)
		if p.onMiss != nil {
			p.onMiss()
		}
		buf = make([]byte, 0, p.bufferCapacity)
	}
	return buf[:0]
}

// Return clears buf's length and, if its capacity still meets
// bufferCapacity, zeroizes it and puts it back on the free list.
// Undersized buffers are left for the garbage collector.
func (p *BufferPool) Return(buf []byte) {
	if cap(buf) < p.bufferCapacity {
		return
	}
	full := buf[:cap(buf)]
	for i := range full {
		full[i] = 0
	}
	p.pool.Put(full[:0])
}

// Metrics reports cumulative hit/miss counts for pool sizing diagnostics.
func (p *BufferPool) Metrics() (hits, misses int64) {
	return atomic.LoadInt64(&p.hits), atomic.LoadInt64(&p.misses)
}
