package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskmesh/internal/task"
)

func rec(agentID string, typ task.Type, dur time.Duration, ok bool) task.HistoryRecord {
	return task.HistoryRecord{
		TaskID:     "t-" + agentID,
		AgentID:    agentID,
		Type:       typ,
		Priority:   task.PriorityMedium,
		Duration:   dur,
		Success:    ok,
		RecordedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_SuccessRate(t *testing.T) {
	s := NewMemoryStore()

	_, found := s.SuccessRate(task.TypeAnalysis)
	assert.False(t, found, "empty store should report no data")

	s.Record(rec("a1", task.TypeAnalysis, time.Minute, true))
	s.Record(rec("a1", task.TypeAnalysis, time.Minute, true))
	s.Record(rec("a2", task.TypeAnalysis, time.Minute, false))
	s.Record(rec("a1", task.TypeTesting, time.Minute, false))

	rate, found := s.SuccessRate(task.TypeAnalysis)
	require.True(t, found)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)

	rates := s.SuccessRates()
	assert.InDelta(t, 2.0/3.0, rates[task.TypeAnalysis], 1e-9)
	assert.Equal(t, 0.0, rates[task.TypeTesting])
}

func TestMemoryStore_AvgDuration(t *testing.T) {
	s := NewMemoryStore()
	s.Record(rec("a1", task.TypeTesting, 2*time.Minute, true))
	s.Record(rec("a2", task.TypeTesting, 4*time.Minute, true))
	s.Record(rec("a3", task.TypeTesting, time.Hour, false)) // failures excluded

	avg, found := s.AvgDuration(task.TypeTesting)
	require.True(t, found)
	assert.Equal(t, 3*time.Minute, avg)
}

func TestMemoryStore_AgentScore(t *testing.T) {
	s := NewMemoryStore()

	_, found := s.AgentScore("ghost", task.TypeAnalysis)
	assert.False(t, found)

	// fast always succeeds at half the type-mean duration
	s.Record(rec("fast", task.TypeAnalysis, time.Minute, true))
	s.Record(rec("slow", task.TypeAnalysis, 3*time.Minute, true))

	fastScore, found := s.AgentScore("fast", task.TypeAnalysis)
	require.True(t, found)
	slowScore, found := s.AgentScore("slow", task.TypeAnalysis)
	require.True(t, found)

	assert.Greater(t, fastScore, slowScore)
	assert.LessOrEqual(t, fastScore, 1.0)
	assert.GreaterOrEqual(t, slowScore, 0.0)
}

func TestMemoryStore_AgentScoreFailuresDrag(t *testing.T) {
	s := NewMemoryStore()
	s.Record(rec("flaky", task.TypeImplementation, time.Minute, true))
	s.Record(rec("flaky", task.TypeImplementation, time.Minute, false))
	s.Record(rec("solid", task.TypeImplementation, time.Minute, true))

	flaky, _ := s.AgentScore("flaky", task.TypeImplementation)
	solid, _ := s.AgentScore("solid", task.TypeImplementation)
	assert.Greater(t, solid, flaky)
}
