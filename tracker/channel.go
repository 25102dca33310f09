package tracker

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default report buffer of a Channel or a Hub
// subscription.
const DefaultBufferSize = 256

var _ Sink = (*Channel)(nil)

// Channel is a bounded, non-blocking Sink for a single consumer. When the
// buffer is full, or after Close, reports are dropped and counted.
type Channel struct {
	mu      sync.RWMutex
	ch      chan Report
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

// NewChannel creates a Channel buffering up to size reports.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Channel{ch: make(chan Report, size)}
}

// Send enqueues r without blocking.
func (c *Channel) Send(r Report) { c.offer(r) }

func (c *Channel) offer(r Report) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return false
	}
	select {
	case c.ch <- r:
		c.sent.Add(1)
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// C returns the receive side. It is closed by Close.
func (c *Channel) C() <-chan Report { return c.ch }

// Close stops accepting reports. Buffered reports stay readable.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Dropped returns how many reports were discarded.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// Sent returns how many reports were buffered.
func (c *Channel) Sent() int64 { return c.sent.Load() }

// Consume calls fn for every report until ctx is done or the channel is
// closed and drained.
func (c *Channel) Consume(ctx context.Context, fn func(Report)) error {
	return Consume(ctx, c.ch, fn)
}

// Consume drains ch into fn until ctx is done or ch is closed.
func Consume(ctx context.Context, ch <-chan Report, fn func(Report)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			fn(r)
		}
	}
}
