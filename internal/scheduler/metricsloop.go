package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/joss/taskmesh/internal/alerts"
	"github.com/joss/taskmesh/internal/events"
	"github.com/joss/taskmesh/internal/priority"
)

// StartMetricsLoop begins the periodic metrics pass: it refreshes the
// gauges, publishes a metrics_updated event, compares each measurement to
// its alert threshold, and flags stale priority scores for recomputation.
// Threshold breaches are observational and never stop execution.
func (s *Scheduler) StartMetricsLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.metricsStop = cancel

	go func() {
		ticker := time.NewTicker(s.settings.MetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.metricsPass()
			}
		}
	}()
}

func (s *Scheduler) metricsPass() {
	s.metrics.QueueDepth.Store(s.queued.Load())
	s.metrics.UtilizationPct.Store(int64(s.pool.Utilization() * 100))

	snap := s.metrics.Snapshot()
	s.bus.Publish(events.Event{Type: events.MetricsUpdated, Metrics: &snap})

	s.checkThresholds(snap)

	stale := s.priorities.Rebalance(priority.Context{
		SystemLoad: s.pool.Utilization(),
		ErrorRate:  snap.ErrorRate,
		QueueDepth: snap.QueueDepth,
		Now:        time.Now().UTC(),
	})
	if len(stale) > 0 {
		s.log.Debug("scores_flagged_stale", map[string]interface{}{"count": len(stale)})
	}
}

func (s *Scheduler) checkThresholds(snap events.Snapshot) {
	type breach struct {
		title   string
		message string
	}
	var breaches []breach

	if s.settings.AlertErrorRate > 0 && snap.ErrorRate > s.settings.AlertErrorRate {
		breaches = append(breaches, breach{
			"error rate above threshold",
			fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", snap.ErrorRate*100, s.settings.AlertErrorRate*100),
		})
	}
	if s.settings.AlertQueueDepth > 0 && snap.QueueDepth > s.settings.AlertQueueDepth {
		breaches = append(breaches, breach{
			"queue depth above threshold",
			fmt.Sprintf("queue depth %d exceeds %d", snap.QueueDepth, s.settings.AlertQueueDepth),
		})
	}
	if s.settings.AlertLatency > 0 && snap.MeanLatency > s.settings.AlertLatency {
		breaches = append(breaches, breach{
			"latency above threshold",
			fmt.Sprintf("mean latency %s exceeds %s", snap.MeanLatency, s.settings.AlertLatency),
		})
	}

	for _, b := range breaches {
		s.bus.Publish(events.Event{Type: events.Alert, Error: b.message})
		if s.alertMgr != nil {
			s.alertMgr.Send(alerts.LevelWarning, "scheduler", b.title, b.message, map[string]interface{}{
				"throughput":  snap.Throughput,
				"error_rate":  snap.ErrorRate,
				"queue_depth": snap.QueueDepth,
				"utilization": snap.Utilization,
			})
		}
		s.log.Warn("alert_threshold", map[string]interface{}{"title": b.title}, nil)
	}
}
