// Package scheduler drives execution plans: it releases batches as their
// dependencies complete, hands tasks to the distributor, enforces the
// retry and circuit-breaker policy, and aggregates metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/taskmesh/internal/alerts"
	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/distributor"
	"github.com/joss/taskmesh/internal/events"
	"github.com/joss/taskmesh/internal/history"
	"github.com/joss/taskmesh/internal/logging"
	"github.com/joss/taskmesh/internal/metrics"
	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/planstore"
	"github.com/joss/taskmesh/internal/pool"
	"github.com/joss/taskmesh/internal/priority"
	"github.com/joss/taskmesh/internal/task"
)

// dispatchPoll is how often a queued task re-checks for a free agent while
// all capable agents are saturated.
const dispatchPoll = 50 * time.Millisecond

// ErrPlanNotFound is returned for operations on an unknown plan id.
var ErrPlanNotFound = errors.New("plan not found")

// Scheduler coordinates the whole engine. All shared state lives in the
// registry handle; the scheduler owns it.
type Scheduler struct {
	settings   config.Settings
	registry   *task.Registry
	planner    *planner.Planner
	priorities *priority.Manager
	dist       *distributor.Distributor
	pool       *pool.Pool
	store      history.Store
	metrics    *metrics.Metrics
	bus        *events.Bus
	breaker    *breaker
	log        *logging.Logger

	// Optional collaborators.
	alertMgr  *alerts.Manager
	planStore *planstore.Store

	mu    sync.Mutex
	plans map[string]*planRun

	queued      atomic.Int64
	metricsStop context.CancelFunc
}

type planRun struct {
	plan   *planner.ExecutionPlan
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status map[string]planner.BatchStatus
	tasks  map[string]*task.Task
}

// Option configures optional collaborators.
type Option func(*Scheduler)

// WithAlerts installs a file-backed alert manager.
func WithAlerts(m *alerts.Manager) Option {
	return func(s *Scheduler) { s.alertMgr = m }
}

// WithPlanStore installs graph persistence for plans.
func WithPlanStore(ps *planstore.Store) Option {
	return func(s *Scheduler) { s.planStore = ps }
}

// WithPredictor installs the learned priority adjustment.
func WithPredictor(p priority.Predictor) Option {
	return func(s *Scheduler) {
		s.priorities = priority.NewManager(s.settings, priority.WithPredictor(p))
	}
}

// New wires the engine together around the given executor.
func New(settings config.Settings, executor pool.Executor, store history.Store, opts ...Option) (*Scheduler, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if store == nil {
		store = history.NewMemoryStore()
	}

	registry := task.NewRegistry()
	m := metrics.New()
	s := &Scheduler{
		settings:   settings,
		registry:   registry,
		planner:    planner.New(settings, planner.WithDurations(store)),
		priorities: priority.NewManager(settings),
		dist:       distributor.New(distributor.Algorithm(settings.Algorithm), store),
		pool:       pool.New(settings, registry, executor, m),
		store:      store,
		metrics:    m,
		bus:        events.NewBus(),
		breaker:    newBreaker(settings, m),
		log:        logging.New("scheduler"),
		plans:      make(map[string]*planRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Events returns a subscription to the engine's event stream.
func (s *Scheduler) Events() <-chan events.Event { return s.bus.Subscribe() }

// Metrics returns the live metrics set.
func (s *Scheduler) Metrics() *metrics.Metrics { return s.metrics }

// Pool returns the worker pool for introspection.
func (s *Scheduler) Pool() *pool.Pool { return s.pool }

// Submit plans the tasks and starts executing them asynchronously. It
// returns the plan id immediately; planning errors (including circular
// dependencies) abort the whole submission, while execution failures
// surface through events and metrics. The caller bounds the overall plan
// through ctx.
func (s *Scheduler) Submit(ctx context.Context, tasks []*task.Task) (string, error) {
	for _, t := range tasks {
		if !t.Type.Valid() {
			return "", fmt.Errorf("task %s: unknown type %q", t.ID, t.Type)
		}
		if !t.Priority.Valid() {
			return "", fmt.Errorf("task %s: unknown priority %q", t.ID, t.Priority)
		}
	}

	plan, err := s.planner.Plan(tasks)
	if err != nil {
		return "", err
	}

	for _, t := range tasks {
		if err := s.registry.AddTask(t); err != nil {
			return "", err
		}
	}
	s.metrics.TasksSubmitted.Add(int64(len(tasks)))

	if s.planStore != nil {
		if err := s.planStore.SavePlan(ctx, plan, tasks); err != nil {
			s.log.Warn("plan_persist_failed", map[string]interface{}{"plan": plan.ID}, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &planRun{
		plan:   plan,
		cancel: cancel,
		done:   make(chan struct{}),
		status: make(map[string]planner.BatchStatus, len(plan.Batches)),
		tasks:  make(map[string]*task.Task, len(tasks)),
	}
	for _, b := range plan.Batches {
		run.status[b.ID] = planner.BatchPending
	}
	for _, t := range tasks {
		run.tasks[t.ID] = t
	}

	s.mu.Lock()
	s.plans[plan.ID] = run
	s.mu.Unlock()

	go s.run(runCtx, run)
	return plan.ID, nil
}

// Cancel aborts an in-flight plan. Pending and running tasks become
// cancelled, a terminal state distinct from failure; cancelled tasks are
// never retried.
func (s *Scheduler) Cancel(planID string) error {
	s.mu.Lock()
	run, ok := s.plans[planID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	run.cancel()
	return nil
}

// Wait blocks until the plan finishes or ctx expires.
func (s *Scheduler) Wait(ctx context.Context, planID string) error {
	s.mu.Lock()
	run, ok := s.plans[planID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
		return nil
	}
}

// Tasks returns the tasks of a plan in registry order.
func (s *Scheduler) Tasks(planID string) ([]*task.Task, error) {
	s.mu.Lock()
	run, ok := s.plans[planID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	out := make([]*task.Task, 0, len(run.tasks))
	for _, b := range run.plan.Batches {
		for _, id := range b.TaskIDs {
			out = append(out, run.tasks[id])
		}
	}
	return out, nil
}

// BatchStatus returns the live status of a batch.
func (s *Scheduler) BatchStatus(planID, batchID string) (planner.BatchStatus, error) {
	s.mu.Lock()
	run, ok := s.plans[planID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	st, ok := run.status[batchID]
	if !ok {
		return "", fmt.Errorf("unknown batch %s", batchID)
	}
	return st, nil
}

// run executes every batch of the plan, gating each on its dependency
// batches. Failed batches cascade an explicit skip to their transitive
// dependents only; unrelated branches keep running.
func (s *Scheduler) run(ctx context.Context, run *planRun) {
	defer close(run.done)
	defer run.cancel()

	log := s.log.WithPlan(run.plan.ID)
	start := time.Now()

	gates := make(map[string]chan struct{}, len(run.plan.Batches))
	for _, b := range run.plan.Batches {
		gates[b.ID] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, b := range run.plan.Batches {
		wg.Add(1)
		go func(b *planner.Batch) {
			defer wg.Done()
			defer close(gates[b.ID])
			s.runBatch(ctx, run, b, gates)
		}(b)
	}
	wg.Wait()

	log.TimedEvent("plan_finished", start, map[string]interface{}{
		"batches": len(run.plan.Batches),
	})
}

func (run *planRun) setStatus(batchID string, st planner.BatchStatus) {
	run.mu.Lock()
	run.status[batchID] = st
	run.mu.Unlock()
}

func (run *planRun) getStatus(batchID string) planner.BatchStatus {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.status[batchID]
}

func (s *Scheduler) runBatch(ctx context.Context, run *planRun, b *planner.Batch, gates map[string]chan struct{}) {
	log := s.log.WithPlan(run.plan.ID)

	// Gate on every dependency batch reaching a terminal state.
	for _, dep := range b.DependsOn {
		select {
		case <-ctx.Done():
		case <-gates[dep]:
		}
	}

	if ctx.Err() != nil {
		run.setStatus(b.ID, planner.BatchCancelled)
		s.cancelMembers(run, b)
		return
	}

	for _, dep := range b.DependsOn {
		if st := run.getStatus(dep); st != planner.BatchCompleted {
			run.setStatus(b.ID, planner.BatchSkipped)
			s.metrics.BatchesSkipped.Add(1)
			log.Warn("batch_skipped", map[string]interface{}{
				"batch": b.ID, "dependency": dep, "dependency_status": string(st),
			}, nil)
			s.skipMembers(run, b, dep)
			s.persistBatch(ctx, run.plan.ID, b.ID, planner.BatchSkipped)
			return
		}
	}

	run.setStatus(b.ID, planner.BatchInProgress)
	s.metrics.BatchesStarted.Add(1)
	s.bus.Publish(events.Event{Type: events.BatchStarted, PlanID: run.plan.ID, BatchID: b.ID})
	s.persistBatch(ctx, run.plan.ID, b.ID, planner.BatchInProgress)

	members := make([]*task.Task, 0, len(b.TaskIDs))
	for _, id := range b.TaskIDs {
		members = append(members, run.tasks[id])
	}
	ordered := s.priorities.Prioritize(members, s.priorityContext(members))

	// Member tasks run concurrently up to the batch's computed parallelism;
	// pool saturation further bounds them through the distributor.
	sem := make(chan struct{}, b.Parallelism)
	var failed atomic.Int64
	var wg sync.WaitGroup
	for _, t := range ordered {
		wg.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if !s.runTask(ctx, run, b, t) {
				failed.Add(1)
			}
		}(t)
	}
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		run.setStatus(b.ID, planner.BatchCancelled)
	case failed.Load() > 0:
		run.setStatus(b.ID, planner.BatchFailed)
		s.bus.Publish(events.Event{
			Type: events.BatchCompleted, PlanID: run.plan.ID, BatchID: b.ID,
			Error: fmt.Sprintf("%d of %d tasks failed", failed.Load(), len(b.TaskIDs)),
		})
	default:
		run.setStatus(b.ID, planner.BatchCompleted)
		s.metrics.BatchesCompleted.Add(1)
		s.bus.Publish(events.Event{Type: events.BatchCompleted, PlanID: run.plan.ID, BatchID: b.ID})
	}
	s.persistBatch(ctx, run.plan.ID, b.ID, run.getStatus(b.ID))
}

// runTask executes one task with retries. Returns true on completion.
func (s *Scheduler) runTask(ctx context.Context, run *planRun, b *planner.Batch, t *task.Task) bool {
	log := s.log.WithPlan(run.plan.ID).WithTask(t.ID)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			s.cancelTask(run, t)
			return false
		}

		if err := s.breaker.Allow(b.Signature); err != nil {
			// Resource class suspended: wait out the recovery window
			// rather than burning the retry budget.
			log.Warn("circuit_open", map[string]interface{}{"signature": string(b.Signature)}, err)
			select {
			case <-ctx.Done():
				s.cancelTask(run, t)
				return false
			case <-time.After(s.settings.BreakerRecovery):
			}
			continue
		}

		agent := s.acquireAgent(ctx, t)
		if agent == nil {
			s.cancelTask(run, t)
			return false
		}

		if err := t.AdvanceTo(task.StatusInProgress); err != nil {
			agent.Release(false)
			log.Error("advance_failed", nil, err)
			return false
		}

		start := time.Now()
		res, err := s.pool.Execute(ctx, t, agent)
		elapsed := time.Since(start)

		s.breaker.Record(b.Signature, err == nil)
		s.recordHistory(t, agent.ID, elapsed, err == nil)

		if err == nil {
			t.Result = res.Output
			t.AdvanceTo(task.StatusCompleted)
			s.metrics.RecordCompletion(true, elapsed)
			s.priorities.Forget(t.ID)
			s.bus.Publish(events.Event{
				Type: events.TaskCompleted, PlanID: run.plan.ID, BatchID: b.ID,
				TaskID: t.ID, AgentID: agent.ID, Result: res.Output,
			})
			s.persistTask(ctx, run.plan.ID, t)
			return true
		}

		if errors.Is(err, pool.ErrTaskTimeout) {
			s.metrics.TaskTimeouts.Add(1)
		}

		if ctx.Err() != nil {
			s.cancelTask(run, t)
			return false
		}

		if attempt >= s.settings.MaxRetries {
			t.Error = err.Error()
			t.AdvanceTo(task.StatusFailed)
			s.metrics.RecordCompletion(false, elapsed)
			s.priorities.Forget(t.ID)
			log.Error("task_failed", map[string]interface{}{"attempts": attempt + 1}, err)
			s.bus.Publish(events.Event{
				Type: events.TaskFailed, PlanID: run.plan.ID, BatchID: b.ID,
				TaskID: t.ID, AgentID: agent.ID, Error: err.Error(),
			})
			s.persistTask(ctx, run.plan.ID, t)
			return false
		}

		// Re-queue after a delay that is never below the base delay.
		if rerr := t.ResetForRetry(); rerr != nil {
			log.Error("retry_reset_failed", nil, rerr)
			return false
		}
		s.metrics.TaskRetries.Add(1)
		delay := retryDelay(s.settings, attempt+1)
		log.Warn("task_retry", map[string]interface{}{
			"attempt": attempt + 1, "delay": delay.String(),
		}, err)
		select {
		case <-ctx.Done():
			s.cancelTask(run, t)
			return false
		case <-time.After(delay):
		}
	}
}

// acquireAgent blocks until the distributor finds an unsaturated agent and
// its slot is won, or ctx expires. This is the engine's backpressure point:
// a task with no capable free agent stays queued.
func (s *Scheduler) acquireAgent(ctx context.Context, t *task.Task) *task.Agent {
	s.queued.Add(1)
	defer s.queued.Add(-1)

	for {
		if agent := s.dist.Distribute(t, s.pool.Agents()); agent != nil {
			if agent.Acquire() {
				return agent
			}
			// Lost the race for the last slot; look again.
			continue
		}
		s.pool.Observe(int(s.queued.Load()))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(dispatchPoll):
		}
	}
}

func (s *Scheduler) cancelTask(run *planRun, t *task.Task) {
	if t.Status.Terminal() {
		return
	}
	t.AdvanceTo(task.StatusCancelled)
	s.metrics.TasksCancelled.Add(1)
	s.priorities.Forget(t.ID)
}

func (s *Scheduler) cancelMembers(run *planRun, b *planner.Batch) {
	for _, id := range b.TaskIDs {
		s.cancelTask(run, run.tasks[id])
	}
}

// skipMembers fails the member tasks of a skipped batch with an explicit
// upstream reason, so the skip is visible rather than a silent no-op.
func (s *Scheduler) skipMembers(run *planRun, b *planner.Batch, failedDep string) {
	for _, id := range b.TaskIDs {
		t := run.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		t.Error = fmt.Sprintf("skipped: dependency batch %s did not complete", failedDep)
		t.AdvanceTo(task.StatusFailed)
		s.metrics.RecordCompletion(false, 0)
		s.bus.Publish(events.Event{
			Type: events.TaskFailed, PlanID: run.plan.ID, BatchID: b.ID,
			TaskID: t.ID, Error: t.Error,
		})
	}
}

func (s *Scheduler) recordHistory(t *task.Task, agentID string, elapsed time.Duration, success bool) {
	rec := task.HistoryRecord{
		TaskID:     t.ID,
		AgentID:    agentID,
		Type:       t.Type,
		Priority:   t.Priority,
		Duration:   elapsed,
		Success:    success,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.store.Record(rec); err != nil {
		s.log.Warn("history_record_failed", map[string]interface{}{"task": t.ID}, err)
	}
}

// priorityContext assembles the injected measurements scoring rules read.
func (s *Scheduler) priorityContext(queuedTasks []*task.Task) priority.Context {
	positions := make(map[string]int, len(queuedTasks))
	for i, t := range queuedTasks {
		positions[t.ID] = i
	}
	// Spare capacity is measured per resource class: only the agents able
	// to serve a signature's task types count toward its headroom.
	spare := make(map[string]float64)
	for _, typ := range []task.Type{
		task.TypeAnalysis, task.TypeImplementation, task.TypeTesting, task.TypeDocumentation,
	} {
		sig := planner.SignatureFor(typ)
		spare[string(sig)] = 1 - s.pool.UtilizationFor(task.RequiredCapabilities(typ))
	}
	return priority.Context{
		SystemLoad:    s.pool.Utilization(),
		ErrorRate:     s.metrics.ErrorRate(),
		QueueDepth:    int(s.queued.Load()),
		QueuePosition: positions,
		SpareCapacity: spare,
		SuccessRate:   s.store.SuccessRates(),
		Now:           time.Now().UTC(),
	}
}

func (s *Scheduler) persistBatch(ctx context.Context, planID, batchID string, st planner.BatchStatus) {
	if s.planStore == nil {
		return
	}
	if err := s.planStore.UpdateBatchStatus(ctx, batchID, st); err != nil {
		s.log.Warn("batch_persist_failed", map[string]interface{}{"batch": batchID}, err)
	}
}

func (s *Scheduler) persistTask(ctx context.Context, planID string, t *task.Task) {
	if s.planStore == nil {
		return
	}
	if err := s.planStore.UpdateTask(ctx, t); err != nil {
		s.log.Warn("task_persist_failed", map[string]interface{}{"task": t.ID}, err)
	}
}

// Close stops the metrics loop and the event bus.
func (s *Scheduler) Close() {
	if s.metricsStop != nil {
		s.metricsStop()
	}
	s.bus.Close()
}
