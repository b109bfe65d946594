package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/task"
)

func newTask(id string, typ task.Type, pri task.Priority, deps ...string) *task.Task {
	t := task.New(id, typ, pri, deps...)
	t.ID = id
	return t
}

func testPlanner() *Planner {
	return New(config.Default())
}

func levelOf(plan *ExecutionPlan, taskID string) (int, bool) {
	for _, b := range plan.Batches {
		for _, id := range b.TaskIDs {
			if id == taskID {
				return b.Level, true
			}
		}
	}
	return 0, false
}

func TestPlan_DiamondLevels(t *testing.T) {
	// a -> (b, c) -> d
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTask("b", task.TypeImplementation, task.PriorityMedium, "a"),
		newTask("c", task.TypeImplementation, task.PriorityMedium, "a"),
		newTask("d", task.TypeTesting, task.PriorityLow, "b", "c"),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)

	wantLevels := map[string]int{"a": 0, "b": 1, "c": 1, "d": 2}
	for id, want := range wantLevels {
		got, ok := levelOf(plan, id)
		require.True(t, ok, "task %s missing from plan", id)
		assert.Equal(t, want, got, "level of %s", id)
	}
}

func TestPlan_UnionIsExact(t *testing.T) {
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTask("b", task.TypeDocumentation, task.PriorityLow, "a"),
		newTask("c", task.TypeTesting, task.PriorityMedium, "a"),
		newTask("d", task.TypeImplementation, task.PriorityHigh),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, b := range plan.Batches {
		for _, id := range b.TaskIDs {
			seen[id]++
		}
	}
	require.Len(t, seen, len(tasks))
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s appears %d times", id, n)
	}
}

func TestPlan_CycleError(t *testing.T) {
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh, "c"),
		newTask("b", task.TypeAnalysis, task.PriorityHigh, "a"),
		newTask("c", task.TypeAnalysis, task.PriorityHigh, "b"),
	}

	_, err := testPlanner().Plan(tasks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircularDependency))
	assert.Contains(t, err.Error(), "a")
}

func TestPlan_UnknownDependencySatisfied(t *testing.T) {
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh, "finished-long-ago"),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)

	lvl, ok := levelOf(plan, "a")
	require.True(t, ok)
	assert.Equal(t, 0, lvl)
}

func TestPlan_SignaturesNeverMix(t *testing.T) {
	tasks := []*task.Task{
		newTask("a1", task.TypeAnalysis, task.PriorityHigh),
		newTask("a2", task.TypeAnalysis, task.PriorityHigh),
		newTask("i1", task.TypeImplementation, task.PriorityMedium),
		newTask("t1", task.TypeTesting, task.PriorityLow),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)

	for _, b := range plan.Batches {
		for _, id := range b.TaskIDs {
			var typ task.Type
			for _, tk := range tasks {
				if tk.ID == id {
					typ = tk.Type
				}
			}
			assert.Equal(t, b.Signature, SignatureFor(typ), "batch %s mixes signatures", b.ID)
		}
	}
	assert.Equal(t, 2, plan.Allocation[SigCPUIntensive])
	assert.Equal(t, 1, plan.Allocation[SigBalanced])
	assert.Equal(t, 1, plan.Allocation[SigIOIntensive])
}

func TestPlan_BatchSizeSplit(t *testing.T) {
	cfg := config.Default()
	cfg.BatchSize = 2

	var tasks []*task.Task
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tasks = append(tasks, newTask(id, task.TypeDocumentation, task.PriorityLow))
	}

	plan, err := New(cfg).Plan(tasks)
	require.NoError(t, err)

	require.Len(t, plan.Batches, 3)
	for _, b := range plan.Batches {
		assert.LessOrEqual(t, len(b.TaskIDs), 2)
	}
}

func TestPlan_ParallelismCaps(t *testing.T) {
	cfg := config.Default()
	cfg.MaxParallelism = 2

	tasks := []*task.Task{
		newTask("t1", task.TypeTesting, task.PriorityLow),
		newTask("t2", task.TypeTesting, task.PriorityLow),
		newTask("t3", task.TypeTesting, task.PriorityLow),
	}

	plan, err := New(cfg).Plan(tasks)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)
	// type hint is 4 but the global cap wins
	assert.Equal(t, 2, plan.Batches[0].Parallelism)

	solo, err := testPlanner().Plan(tasks[:1])
	require.NoError(t, err)
	// a single task never claims more than one slot
	assert.Equal(t, 1, solo.Batches[0].Parallelism)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassUrgent, classify(3))
	assert.Equal(t, ClassUrgent, classify(2.5))
	assert.Equal(t, ClassHigh, classify(2.4))
	assert.Equal(t, ClassHigh, classify(2))
	assert.Equal(t, ClassMedium, classify(1.7))
	assert.Equal(t, ClassLow, classify(1.2))
}

func TestPlan_EstimateIsMeanOfBaselines(t *testing.T) {
	tasks := []*task.Task{
		newTask("a1", task.TypeAnalysis, task.PriorityHigh),
		newTask("a2", task.TypeAnalysis, task.PriorityHigh),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)
	assert.Equal(t, 3*time.Minute, plan.Batches[0].Estimated)
}

// fixedDurations is a DurationSource with a canned per-type mean.
type fixedDurations map[task.Type]time.Duration

func (f fixedDurations) AvgDuration(typ task.Type) (time.Duration, bool) {
	d, ok := f[typ]
	return d, ok
}

func TestPlan_EstimateUsesMeasuredDurations(t *testing.T) {
	src := fixedDurations{task.TypeAnalysis: 10 * time.Minute}
	p := New(config.Default(), WithDurations(src))

	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTask("d", task.TypeDocumentation, task.PriorityLow),
	}

	plan, err := p.Plan(tasks)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)

	for _, b := range plan.Batches {
		switch b.Signature {
		case SigCPUIntensive:
			assert.Equal(t, 10*time.Minute, b.Estimated, "measured mean should replace the baseline")
		case SigLowResource:
			assert.Equal(t, 2*time.Minute, b.Estimated, "types without history keep the baseline")
		}
	}
}

func TestPlan_CriticalPath(t *testing.T) {
	// Chain: analysis(3m) -> implementation(8m) -> testing(5m), plus a
	// detached documentation task (2m) that must not join the path.
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTask("i", task.TypeImplementation, task.PriorityHigh, "a"),
		newTask("t", task.TypeTesting, task.PriorityMedium, "i"),
		newTask("doc", task.TypeDocumentation, task.PriorityLow),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)

	assert.Equal(t, 16*time.Minute, plan.TotalEstimated)
	require.Len(t, plan.CriticalPath, 3)

	last := plan.BatchByID(plan.CriticalPath[2])
	require.NotNil(t, last)
	assert.Equal(t, SigIOIntensive, last.Signature)
}

func TestPlan_BatchDependencies(t *testing.T) {
	tasks := []*task.Task{
		newTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTask("b", task.TypeImplementation, task.PriorityMedium, "a"),
	}

	plan, err := testPlanner().Plan(tasks)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)

	var first, second *Batch
	for _, b := range plan.Batches {
		switch b.Level {
		case 0:
			first = b
		case 1:
			second = b
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Empty(t, first.DependsOn)
	assert.Equal(t, []string{first.ID}, second.DependsOn)
	assert.Equal(t, []string{second.ID}, plan.Dependents(first.ID))
}

func TestPlan_Empty(t *testing.T) {
	plan, err := testPlanner().Plan(nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Batches)
	assert.NotEmpty(t, plan.ID)
}

func TestPlan_DoesNotMutateInput(t *testing.T) {
	tk := newTask("a", task.TypeAnalysis, task.PriorityHigh)
	before := *tk

	_, err := testPlanner().Plan([]*task.Task{tk})
	require.NoError(t, err)
	assert.Equal(t, before.Status, tk.Status)
	assert.Equal(t, before.DependsOn, tk.DependsOn)
}
