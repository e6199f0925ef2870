// Package pool wraps sync.Pool with typed access and a creation counter.
package pool

import (
	"sync"

	"github.com/linchenxuan/slingshot/metrics"
)

// Pool is a typed sync.Pool. Every allocation caused by an empty pool is counted under
// the pool's name.
type Pool[T any] struct {
	name string
	pool sync.Pool
}

// New creates a pool whose misses are served by newFunc.
func New[T any](name string, newFunc func() T) *Pool[T] {
	p := &Pool[T]{name: name}
	p.pool.New = func() any {
		metrics.IncrCounterWithDimGroup(metrics.NamePoolCreateTotal, metrics.GroupSlingshot, 1, metrics.Dimension{
			metrics.DimPoolName: name,
		})
		return newFunc()
	}
	return p
}

// Name returns the pool name used as the metric dimension.
func (p *Pool[T]) Name() string { return p.name }

// Get returns a pooled value, creating one when the pool is empty.
func (p *Pool[T]) Get() T { return p.pool.Get().(T) }

// Put returns x to the pool.
func (p *Pool[T]) Put(x T) { p.pool.Put(x) }

// Buffers hands out byte slices of at least a requested size. Slices above maxKeep are
// not returned to the pool, so one oversized frame does not pin memory.
type Buffers struct {
	pool    *Pool[*[]byte]
	maxKeep int
}

// NewBuffers creates a buffer pool whose fresh slices have capacity initial.
func NewBuffers(name string, initial, maxKeep int) *Buffers {
	return &Buffers{
		pool: New(name, func() *[]byte {
			b := make([]byte, 0, initial)
			return &b
		}),
		maxKeep: maxKeep,
	}
}

// Get returns a slice of length n.
func (b *Buffers) Get(n int) *[]byte {
	buf := b.pool.Get()
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	*buf = (*buf)[:n]
	return buf
}

// Put returns buf to the pool. Nil and oversized buffers are dropped.
func (b *Buffers) Put(buf *[]byte) {
	if buf == nil || cap(*buf) > b.maxKeep {
		return
	}
	*buf = (*buf)[:0]
	b.pool.Put(buf)
}
