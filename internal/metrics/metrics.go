// Package metrics tracks engine counters and serves a Prometheus-compatible
// text endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/joss/taskmesh/internal/events"
)

// Metrics holds runtime counters for the engine. All fields are updated
// atomically by the scheduler and pool.
type Metrics struct {
	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksCancelled atomic.Int64
	TaskRetries    atomic.Int64
	TaskTimeouts   atomic.Int64

	BatchesStarted   atomic.Int64
	BatchesCompleted atomic.Int64
	BatchesSkipped   atomic.Int64

	PoolScaleUps   atomic.Int64
	PoolScaleDowns atomic.Int64
	BreakerOpens   atomic.Int64

	// Gauges, stored by the metrics loop.
	QueueDepth     atomic.Int64
	UtilizationPct atomic.Int64

	// Latency accumulation for mean computation.
	latencySumMs atomic.Int64
	latencyCount atomic.Int64

	startTime time.Time
}

// New creates a metrics set.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordCompletion records a terminal task outcome with its latency.
func (m *Metrics) RecordCompletion(success bool, latency time.Duration) {
	if success {
		m.TasksCompleted.Add(1)
	} else {
		m.TasksFailed.Add(1)
	}
	m.latencySumMs.Add(latency.Milliseconds())
	m.latencyCount.Add(1)
}

// MeanLatency returns the mean terminal-task latency.
func (m *Metrics) MeanLatency() time.Duration {
	n := m.latencyCount.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.latencySumMs.Load()/n) * time.Millisecond
}

// ErrorRate returns failed / (completed + failed).
func (m *Metrics) ErrorRate() float64 {
	done := m.TasksCompleted.Load()
	failed := m.TasksFailed.Load()
	if done+failed == 0 {
		return 0
	}
	return float64(failed) / float64(done+failed)
}

// Throughput returns completed tasks per minute since start.
func (m *Metrics) Throughput() float64 {
	mins := time.Since(m.startTime).Minutes()
	if mins <= 0 {
		return 0
	}
	return float64(m.TasksCompleted.Load()) / mins
}

// Snapshot captures the periodic metrics payload.
func (m *Metrics) Snapshot() events.Snapshot {
	return events.Snapshot{
		Throughput:  m.Throughput(),
		MeanLatency: m.MeanLatency(),
		ErrorRate:   m.ErrorRate(),
		QueueDepth:  int(m.QueueDepth.Load()),
		Utilization: float64(m.UtilizationPct.Load()) / 100,
		Completed:   m.TasksCompleted.Load(),
		Failed:      m.TasksFailed.Load(),
	}
}

// Uptime returns the time since the metrics set was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
