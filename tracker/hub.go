package tracker

import (
	"strconv"
	"sync"
	"sync/atomic"
)

var _ Sink = (*Hub)(nil)

// Hub fans reports out to subscribers. Each subscription has its own
// bounded buffer, so a slow subscriber only loses its own reports.
type Hub struct {
	subscribers sync.Map // id → *Subscription
	nextID      atomic.Int64

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscription buffer size.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) { h.bufferSize = size }
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one subscriber's view of a Hub.
type Subscription struct {
	*Channel
	id     string
	filter func(Report) bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Subscribe registers a subscriber. A nil filter receives every report.
func (h *Hub) Subscribe(filter func(Report) bool) *Subscription {
	sub := &Subscription{
		Channel: NewChannel(h.bufferSize),
		id:      "sub-" + strconv.FormatInt(h.nextID.Add(1), 10),
		filter:  filter,
	}
	h.subscribers.Store(sub.id, sub)
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if val, ok := h.subscribers.LoadAndDelete(sub.id); ok {
		val.(*Subscription).Close() //nolint:forcetypeassert // sync.Map always stores *Subscription
	}
}

// Send delivers r to every matching subscriber without blocking.
func (h *Hub) Send(r Report) {
	h.subscribers.Range(func(_, val any) bool {
		sub := val.(*Subscription) //nolint:forcetypeassert // sync.Map always stores *Subscription
		if sub.filter != nil && !sub.filter(r) {
			return true
		}
		if sub.offer(r) {
			h.totalPublished.Add(1)
		} else {
			h.totalDropped.Add(1)
		}
		return true
	})
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.subscribers.Range(func(key, val any) bool {
		h.subscribers.Delete(key)
		val.(*Subscription).Close() //nolint:forcetypeassert // sync.Map always stores *Subscription
		return true
	})
}

// HubStats contains hub counters.
type HubStats struct {
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	count := 0
	h.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return HubStats{
		SubscriberCount: count,
		TotalPublished:  h.totalPublished.Load(),
		TotalDropped:    h.totalDropped.Load(),
	}
}

// ForJob returns a filter matching reports about one job.
func ForJob(jobID string) func(Report) bool {
	return func(r Report) bool { return r.JobID.String() == jobID }
}
