package pool

import "sync/atomic"

// Counter tracks bytes held by pool allocators. The atomic variant may be
// shared by dispatchers running on separate goroutines; the enclosing system
// reads it from another goroutine to decide when accumulated postings should
// be flushed to a segment.
type Counter interface {
	Add(delta int64) int64
	Get() int64
}

// NewCounter returns a counter for single-goroutine use.
func NewCounter() Counter {
	return &serialCounter{}
}

// NewAtomicCounter returns a counter safe for concurrent use.
func NewAtomicCounter() Counter {
	return &atomicCounter{}
}

type serialCounter struct {
	n int64
}

func (c *serialCounter) Add(delta int64) int64 {
	c.n += delta
	return c.n
}

func (c *serialCounter) Get() int64 {
	return c.n
}

type atomicCounter struct {
	n atomic.Int64
}

func (c *atomicCounter) Add(delta int64) int64 {
	return c.n.Add(delta)
}

func (c *atomicCounter) Get() int64 {
	return c.n.Load()
}
