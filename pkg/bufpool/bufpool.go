// Package bufpool provides typed object pooling for relaymux.
// Fan-out writes one framed copy of every broadcast item per subscriber,
// so frame buffers are the hottest allocation in the relay; pooling them
// keeps garbage collection pressure flat under high subscriber counts.
//
// Example usage:
//
//	buf := bufpool.GetFrame(len(payload) + 1)
//	defer bufpool.PutFrame(buf)
//
//	copy(*buf, payload)
//	(*buf)[len(payload)] = '\n'
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool wrapping sync.Pool with statistics
// tracking and an optional reset hook. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a typed pool. The new function is called when the pool is
// empty; the reset function, if non-nil, runs before an object returns
// to the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is
// empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the total number of objects the pool has allocated and
// the number currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

// framePool recycles the byte buffers used to frame broadcast items for
// downstream writes. Buffers start at 1KB and grow to fit the largest
// frames seen.
var framePool = New(
	func() *[]byte {
		b := make([]byte, 0, 1024)
		return &b
	},
	func(b *[]byte) {
		*b = (*b)[:0]
	},
)

// GetFrame returns a frame buffer of the given length. The contents are
// unspecified; callers overwrite the whole buffer.
func GetFrame(size int) *[]byte {
	buf := framePool.Get()
	if cap(*buf) < size {
		*buf = make([]byte, size)
	}
	*buf = (*buf)[:size]
	return buf
}

// PutFrame returns a frame buffer to the pool.
func PutFrame(buf *[]byte) {
	if buf != nil {
		framePool.Put(buf)
	}
}
