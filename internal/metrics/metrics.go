package metrics

import "sync"

// Event names. Names are intentionally simple; a follow-up metrics task can
// standardize and export these via OTel.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsReplaced = "connections_replaced"
	ConnectionsRejected = "connections_rejected"

	MessagesReceived = "messages_received"
	MessagesRelayed  = "messages_relayed"

	MalformedDropped   = "malformed_dropped"
	UnknownTypeDropped = "unknown_type_dropped"
	SendDropped        = "send_dropped"
	RateLimited        = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a full metrics backend can scrape these through
// the Prometheus handler; keeping counters in-process keeps the relay logic
// directly testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

// Add increments name by n. Negative n is ignored.
func (m *Metrics) Add(name string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
