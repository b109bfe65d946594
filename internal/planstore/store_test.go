package planstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/task"
)

// fakeDriver records write queries and serves canned read results.
type fakeDriver struct {
	writes  []string
	params  []map[string]any
	reads   []Record
	readErr error
}

func (f *fakeDriver) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.reads, nil
}

func (f *fakeDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	f.writes = append(f.writes, query)
	f.params = append(f.params, params)
	return nil
}

func (f *fakeDriver) Close() error               { return nil }
func (f *fakeDriver) Ping(context.Context) error { return nil }

func (f *fakeDriver) countWrites(fragment string) int {
	n := 0
	for _, q := range f.writes {
		if strings.Contains(q, fragment) {
			n++
		}
	}
	return n
}

func buildPlan(t *testing.T) (*planner.ExecutionPlan, []*task.Task) {
	t.Helper()
	a := task.New("analyze", task.TypeAnalysis, task.PriorityHigh)
	a.ID = "a"
	b := task.New("implement", task.TypeImplementation, task.PriorityMedium, "a")
	b.ID = "b"
	tasks := []*task.Task{a, b}

	plan, err := planner.New(config.Default()).Plan(tasks)
	require.NoError(t, err)
	return plan, tasks
}

func TestSavePlan_WritesTopology(t *testing.T) {
	plan, tasks := buildPlan(t)
	f := &fakeDriver{}
	s := NewStore(f)

	require.NoError(t, s.SavePlan(context.Background(), plan, tasks))

	assert.Equal(t, 1, f.countWrites("CREATE (p:Plan"))
	assert.Equal(t, 2, f.countWrites("CREATE (b:Batch"))
	assert.Equal(t, 2, f.countWrites("CREATE (t:Task"))
	assert.Equal(t, 1, f.countWrites("DEPENDS_ON"))

	assert.Equal(t, plan.ID, f.params[0]["plan_id"])
}

func TestUpdateBatchStatus(t *testing.T) {
	f := &fakeDriver{}
	s := NewStore(f)

	require.NoError(t, s.UpdateBatchStatus(context.Background(), "batch-1", planner.BatchCompleted))
	require.Len(t, f.writes, 1)
	assert.Contains(t, f.writes[0], "SET b.status")
	assert.Equal(t, "completed", f.params[0]["status"])
}

func TestUpdateTask(t *testing.T) {
	f := &fakeDriver{}
	s := NewStore(f)

	tk := task.New("t", task.TypeTesting, task.PriorityLow)
	tk.AdvanceTo(task.StatusInProgress)
	tk.Error = "flaked"
	tk.AdvanceTo(task.StatusFailed)

	require.NoError(t, s.UpdateTask(context.Background(), tk))
	require.Len(t, f.writes, 1)
	assert.Equal(t, "failed", f.params[0]["status"])
	assert.Equal(t, "flaked", f.params[0]["error"])
}

func TestGetPlanSummary(t *testing.T) {
	f := &fakeDriver{reads: []Record{{
		"plan_id":    "plan-x",
		"created_at": "2026-01-02T03:04:05Z",
		"batches":    int64(4),
		"completed":  int64(3),
		"failed":     int64(1),
	}}}
	s := NewStore(f)

	sum, err := s.GetPlanSummary(context.Background(), "plan-x")
	require.NoError(t, err)
	assert.Equal(t, "plan-x", sum.PlanID)
	assert.Equal(t, 4, sum.Batches)
	assert.Equal(t, 3, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
}

func TestGetPlanSummary_NotFound(t *testing.T) {
	s := NewStore(&fakeDriver{})
	_, err := s.GetPlanSummary(context.Background(), "plan-missing")
	assert.Error(t, err)
}
