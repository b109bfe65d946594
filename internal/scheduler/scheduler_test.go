package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/pool"
	"github.com/joss/taskmesh/internal/task"
)

func fastSettings() config.Settings {
	s := config.Default()
	s.MinWorkers = 2
	s.MaxWorkers = 4
	s.MaxRetries = 0
	s.BaseDelay = time.Millisecond
	s.MaxDelay = 5 * time.Millisecond
	s.BreakerEnabled = false
	s.DecayEnabled = false
	s.ScaleUpCooldown = 0
	s.MaxExecutionTime = 5 * time.Second
	return s
}

func newTestTask(id string, typ task.Type, pri task.Priority, deps ...string) *task.Task {
	t := task.New(id, typ, pri, deps...)
	t.ID = id
	return t
}

// orderRecorder tracks completion order across goroutines.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *orderRecorder) add(id string) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *orderRecorder) indexOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.order {
		if got == id {
			return i
		}
	}
	return -1
}

func TestSubmit_RejectsInvalidTasks(t *testing.T) {
	s, err := New(fastSettings(), func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	bad := newTestTask("bad", task.Type("mystery"), task.PriorityLow)
	_, err = s.Submit(context.Background(), []*task.Task{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestSubmit_CircularDependencyAborts(t *testing.T) {
	s, err := New(fastSettings(), func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	a := newTestTask("a", task.TypeAnalysis, task.PriorityHigh, "b")
	b := newTestTask("b", task.TypeAnalysis, task.PriorityHigh, "a")
	_, err = s.Submit(context.Background(), []*task.Task{a, b})
	assert.True(t, errors.Is(err, planner.ErrCircularDependency))
}

func TestRun_DependencyOrdering(t *testing.T) {
	rec := &orderRecorder{}
	s, err := New(fastSettings(), func(_ context.Context, tk *task.Task) (pool.Result, error) {
		rec.add(tk.ID)
		return pool.Result{Output: "done"}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tasks := []*task.Task{
		newTestTask("root", task.TypeAnalysis, task.PriorityHigh),
		newTestTask("mid", task.TypeImplementation, task.PriorityMedium, "root"),
		newTestTask("leaf", task.TypeTesting, task.PriorityLow, "mid"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, tasks)
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, planID))

	require.Less(t, rec.indexOf("root"), rec.indexOf("mid"))
	require.Less(t, rec.indexOf("mid"), rec.indexOf("leaf"))

	done, err := s.Tasks(planID)
	require.NoError(t, err)
	for _, tk := range done {
		assert.Equal(t, task.StatusCompleted, tk.Status, "task %s", tk.ID)
		assert.Equal(t, "done", tk.Result)
	}
}

func TestRun_SkipCascadeIsBranchConfined(t *testing.T) {
	s, err := New(fastSettings(), func(_ context.Context, tk *task.Task) (pool.Result, error) {
		if tk.ID == "doomed" {
			return pool.Result{}, errors.New("synthetic failure")
		}
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tasks := []*task.Task{
		newTestTask("doomed", task.TypeAnalysis, task.PriorityHigh),
		newTestTask("child", task.TypeImplementation, task.PriorityMedium, "doomed"),
		newTestTask("grandchild", task.TypeTesting, task.PriorityLow, "child"),
		newTestTask("bystander", task.TypeDocumentation, task.PriorityLow),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, tasks)
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, planID))

	done, err := s.Tasks(planID)
	require.NoError(t, err)
	byID := map[string]*task.Task{}
	for _, tk := range done {
		byID[tk.ID] = tk
	}

	assert.Equal(t, task.StatusFailed, byID["doomed"].Status)
	assert.Equal(t, task.StatusFailed, byID["child"].Status)
	assert.True(t, strings.HasPrefix(byID["child"].Error, "skipped:"), "child error = %q", byID["child"].Error)
	assert.Equal(t, task.StatusFailed, byID["grandchild"].Status)
	assert.True(t, strings.HasPrefix(byID["grandchild"].Error, "skipped:"))
	assert.Equal(t, task.StatusCompleted, byID["bystander"].Status, "unrelated branch must keep running")
}

func TestRun_RetrySucceedsOnSecondAttempt(t *testing.T) {
	cfg := fastSettings()
	cfg.MaxRetries = 2

	var mu sync.Mutex
	calls := 0
	s, err := New(cfg, func(context.Context, *task.Task) (pool.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return pool.Result{}, errors.New("transient")
		}
		return pool.Result{Output: "recovered"}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tk := newTestTask("flaky", task.TypeImplementation, task.PriorityMedium)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, []*task.Task{tk})
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, planID))

	assert.Equal(t, task.StatusCompleted, tk.Status)
	assert.Equal(t, "recovered", tk.Result)
	assert.Equal(t, 1, tk.RetryCount)
	assert.Equal(t, int64(1), s.Metrics().TaskRetries.Load())
}

func TestRun_RetriesExhaustedFailsTask(t *testing.T) {
	cfg := fastSettings()
	cfg.MaxRetries = 2

	s, err := New(cfg, func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, errors.New("hard failure")
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tk := newTestTask("broken", task.TypeTesting, task.PriorityLow)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, []*task.Task{tk})
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, planID))

	assert.Equal(t, task.StatusFailed, tk.Status)
	assert.Equal(t, 2, tk.RetryCount)
	assert.Contains(t, tk.Error, "hard failure")
}

func TestCancel_TerminalAndNeverRetried(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := New(fastSettings(), func(ctx context.Context, tk *task.Task) (pool.Result, error) {
		close(started)
		select {
		case <-release:
			return pool.Result{}, nil
		case <-ctx.Done():
			return pool.Result{}, ctx.Err()
		}
	}, nil)
	require.NoError(t, err)
	defer s.Close()
	defer close(release)

	tk := newTestTask("hanging", task.TypeAnalysis, task.PriorityHigh)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, []*task.Task{tk})
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Cancel(planID))
	require.NoError(t, s.Wait(ctx, planID))

	assert.Equal(t, task.StatusCancelled, tk.Status)
	assert.Equal(t, 0, tk.RetryCount)
	assert.Equal(t, int64(1), s.Metrics().TasksCancelled.Load())
}

func TestCancel_WaitDrainsBeforeReadingTasks(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	s, err := New(fastSettings(), func(ctx context.Context, tk *task.Task) (pool.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return pool.Result{}, ctx.Err()
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tasks := []*task.Task{
		newTestTask("a", task.TypeAnalysis, task.PriorityHigh),
		newTestTask("b", task.TypeImplementation, task.PriorityMedium, "a"),
		newTestTask("c", task.TypeDocumentation, task.PriorityLow),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, tasks)
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Cancel(planID))
	require.NoError(t, s.Wait(ctx, planID))

	// After Wait returns the plan's goroutines are done: every task must
	// hold a stable terminal status.
	done, err := s.Tasks(planID)
	require.NoError(t, err)
	for _, tk := range done {
		assert.True(t, tk.Status.Terminal(), "task %s status = %s after cancel+wait", tk.ID, tk.Status)
	}
}

func TestPriorityContext_SpareCapacityPerSignature(t *testing.T) {
	s, err := New(fastSettings(), func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	// Saturate only the standard tier; analysis headroom is untouched.
	for _, a := range s.pool.Agents() {
		if a.Tier == task.TierStandard {
			for a.Acquire() {
			}
		}
	}

	ctx := s.priorityContext(nil)
	require.Contains(t, ctx.SpareCapacity, string(planner.SigCPUIntensive))
	require.Contains(t, ctx.SpareCapacity, string(planner.SigBalanced))
	assert.Greater(t,
		ctx.SpareCapacity[string(planner.SigCPUIntensive)],
		ctx.SpareCapacity[string(planner.SigBalanced)],
		"busy implementation agents must not look like spare analysis capacity")
}

func TestBatchStatus_Lifecycle(t *testing.T) {
	s, err := New(fastSettings(), func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	tk := newTestTask("only", task.TypeDocumentation, task.PriorityLow)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	planID, err := s.Submit(ctx, []*task.Task{tk})
	require.NoError(t, err)
	require.NoError(t, s.Wait(ctx, planID))

	done, err := s.Tasks(planID)
	require.NoError(t, err)
	require.Len(t, done, 1)

	s.mu.Lock()
	run := s.plans[planID]
	s.mu.Unlock()
	require.Len(t, run.plan.Batches, 1)

	st, err := s.BatchStatus(planID, run.plan.Batches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, planner.BatchCompleted, st)
}

func TestWait_UnknownPlan(t *testing.T) {
	s, err := New(fastSettings(), func(context.Context, *task.Task) (pool.Result, error) {
		return pool.Result{}, nil
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Wait(context.Background(), "plan-nope")
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}
