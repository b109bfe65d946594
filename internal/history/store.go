// Package history stores terminal task records and serves the aggregates
// that feed priority rules and distributor performance scoring.
package history

import (
	"sync"
	"time"

	"github.com/joss/taskmesh/internal/task"
)

// Store persists history records and answers aggregate queries.
type Store interface {
	// Record appends a terminal task record.
	Record(rec task.HistoryRecord) error

	// SuccessRate returns the success fraction for a task type, and false
	// when no records exist.
	SuccessRate(typ task.Type) (float64, bool)

	// AvgDuration returns the mean duration of successful runs for a type.
	AvgDuration(typ task.Type) (time.Duration, bool)

	// AgentScore returns a [0,1] composite of an agent's success rate and
	// relative speed for a task type, and false when the agent has no
	// record for that type.
	AgentScore(agentID string, typ task.Type) (float64, bool)

	// SuccessRates returns the success fraction per task type.
	SuccessRates() map[task.Type]float64

	Close() error
}

// MemoryStore is the in-process fallback used when no sqlite directory is
// configured.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []task.HistoryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(rec task.HistoryRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SuccessRate(typ task.Type) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, ok := 0, 0
	for _, r := range s.recs {
		if r.Type != typ {
			continue
		}
		total++
		if r.Success {
			ok++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(ok) / float64(total), true
}

func (s *MemoryStore) AvgDuration(typ task.Type) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum time.Duration
	n := 0
	for _, r := range s.recs {
		if r.Type == typ && r.Success {
			sum += r.Duration
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / time.Duration(n), true
}

func (s *MemoryStore) AgentScore(agentID string, typ task.Type) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var agentOK, agentTotal int
	var agentDur, typeDur time.Duration
	var typeRuns int
	for _, r := range s.recs {
		if r.Type != typ {
			continue
		}
		if r.Success {
			typeDur += r.Duration
			typeRuns++
		}
		if r.AgentID != agentID {
			continue
		}
		agentTotal++
		if r.Success {
			agentOK++
			agentDur += r.Duration
		}
	}
	if agentTotal == 0 {
		return 0, false
	}
	return composite(agentOK, agentTotal, agentDur, typeDur, typeRuns), true
}

func (s *MemoryStore) SuccessRates() map[task.Type]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := make(map[task.Type]int)
	oks := make(map[task.Type]int)
	for _, r := range s.recs {
		totals[r.Type]++
		if r.Success {
			oks[r.Type]++
		}
	}
	out := make(map[task.Type]float64, len(totals))
	for typ, n := range totals {
		out[typ] = float64(oks[typ]) / float64(n)
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }

// composite blends success rate (70%) with relative speed against the type
// mean (30%).
func composite(ok, total int, agentDur, typeDur time.Duration, typeRuns int) float64 {
	rate := float64(ok) / float64(total)
	speed := 0.5
	if ok > 0 && typeRuns > 0 && typeDur > 0 {
		agentMean := float64(agentDur) / float64(ok)
		typeMean := float64(typeDur) / float64(typeRuns)
		// Faster than the type mean scores above 0.5, slower below.
		ratio := typeMean / agentMean
		if ratio > 2 {
			ratio = 2
		}
		speed = ratio / 2
	}
	return 0.7*rate + 0.3*speed
}
