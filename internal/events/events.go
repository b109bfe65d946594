// Package events provides the typed event stream emitted by the scheduler.
// Subscribers receive fixed-shape payloads over channels, which keeps tests
// deterministic without a live event loop.
package events

import (
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	BatchStarted   Type = "batch_started"
	BatchCompleted Type = "batch_completed"
	TaskCompleted  Type = "task_completed"
	TaskFailed     Type = "task_failed"
	MetricsUpdated Type = "metrics_updated"
	Alert          Type = "alert"
)

// Event is the fixed payload shape for every stream event.
type Event struct {
	Type      Type      `json:"type"`
	PlanID    string    `json:"plan_id,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Metrics   *Snapshot `json:"metrics,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the periodic metrics payload carried by metrics_updated events.
type Snapshot struct {
	Throughput  float64       `json:"throughput_per_min"`
	MeanLatency time.Duration `json:"mean_latency"`
	ErrorRate   float64       `json:"error_rate"`
	QueueDepth  int           `json:"queue_depth"`
	Utilization float64       `json:"utilization"`
	Completed   int64         `json:"completed"`
	Failed      int64         `json:"failed"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind loses events rather than stalling the scheduler.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving all future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
