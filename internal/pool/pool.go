// Package pool manages the capacity-bounded agents that execute tasks.
// It owns adaptive scaling between MinWorkers and MaxWorkers and enforces
// per-task resource ceilings and timeouts around the opaque executor.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/logging"
	"github.com/joss/taskmesh/internal/metrics"
	"github.com/joss/taskmesh/internal/task"
)

// ErrTaskTimeout marks a task that exceeded its execution-time ceiling.
// It is recoverable and routes through the normal retry path.
var ErrTaskTimeout = errors.New("task execution timed out")

// ErrResourceExceeded marks a task whose reported usage broke a ceiling.
var ErrResourceExceeded = errors.New("task exceeded resource ceiling")

// Result is what an executor returns for a completed task: an opaque
// payload plus an optional resource-usage sample.
type Result struct {
	Output     string
	MemoryMB   float64
	CPUPercent float64
}

// Executor is the opaque execution boundary. Performing the actual work a
// task represents (a model-completion call, a build step) lives behind this
// contract; the engine only awaits success or failure within a bounded time.
type Executor func(ctx context.Context, t *task.Task) (Result, error)

// Pool owns the agent set and its scaling.
type Pool struct {
	settings config.Settings
	registry *task.Registry
	executor Executor
	metrics  *metrics.Metrics
	log      *logging.Logger

	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time

	tierRotation int
}

// New creates a pool and seeds it with MinWorkers agents spread across the
// capability tiers. Scaling decisions are counted on the shared metrics set.
func New(settings config.Settings, registry *task.Registry, executor Executor, m *metrics.Metrics) *Pool {
	if m == nil {
		m = metrics.New()
	}
	p := &Pool{
		settings: settings,
		registry: registry,
		executor: executor,
		metrics:  m,
		log:      logging.New("pool"),
	}
	for i := 0; i < settings.MinWorkers; i++ {
		p.addAgent()
	}
	return p
}

var tierOrder = []task.Tier{task.TierStandard, task.TierAdvanced, task.TierQuick}

// agentCapabilities gives each tier the capabilities its workload needs.
func agentCapabilities(tier task.Tier) []string {
	switch tier {
	case task.TierAdvanced:
		return []string{"analyze", "code", "test", "write"}
	case task.TierStandard:
		return []string{"code", "test", "write"}
	default:
		return []string{"write", "analyze"}
	}
}

func tierParallelism(tier task.Tier) int {
	switch tier {
	case task.TierAdvanced:
		return 2
	case task.TierStandard:
		return 3
	default:
		return 4
	}
}

func (p *Pool) addAgent() *task.Agent {
	tier := tierOrder[p.tierRotation%len(tierOrder)]
	p.tierRotation++
	a := task.NewAgent(tier, tierParallelism(tier), agentCapabilities(tier)...)
	p.registry.AddAgent(a)
	p.log.Info("agent_added", map[string]interface{}{"agent": a.ID, "tier": string(tier)})
	return a
}

// Size returns the current number of agents.
func (p *Pool) Size() int {
	return p.registry.AgentCount()
}

// Agents returns the current agent set.
func (p *Pool) Agents() []*task.Agent {
	return p.registry.Agents()
}

// Observe feeds the current queue depth into the scaling logic. Scale-up
// and scale-down are separately cooldown-gated to avoid oscillation, and
// the pool never leaves the [MinWorkers, MaxWorkers] band.
func (p *Pool) Observe(queueDepth int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()

	if queueDepth > p.settings.ScaleUpThreshold &&
		p.Size() < p.settings.MaxWorkers &&
		now.Sub(p.lastScaleUp) >= p.settings.ScaleUpCooldown {
		a := p.addAgent()
		p.lastScaleUp = now
		p.metrics.PoolScaleUps.Add(1)
		p.log.Info("scale_up", map[string]interface{}{
			"queue_depth": queueDepth, "pool_size": p.Size(), "agent": a.ID,
		})
		return
	}

	if queueDepth < p.settings.ScaleDownThreshold &&
		p.Size() > p.settings.MinWorkers &&
		now.Sub(p.lastScaleDown) >= p.settings.ScaleDownCooldown {
		if removed := p.removeIdleAgent(); removed != "" {
			p.lastScaleDown = now
			p.metrics.PoolScaleDowns.Add(1)
			p.log.Info("scale_down", map[string]interface{}{
				"queue_depth": queueDepth, "pool_size": p.Size(), "agent": removed,
			})
		}
	}
}

// removeIdleAgent removes one agent with no active assignments. Agents with
// bound executors are never interrupted; when everyone is busy the
// scale-down is simply skipped until the next observation.
func (p *Pool) removeIdleAgent() string {
	for _, a := range p.registry.Agents() {
		if a.Active() == 0 {
			p.registry.RemoveAgent(a.ID)
			return a.ID
		}
	}
	return ""
}

// Execute runs one task on the given agent under the configured ceilings.
// The agent's slot must already be acquired by the caller; Execute releases
// it when the task reaches a terminal outcome for this attempt.
func (p *Pool) Execute(ctx context.Context, t *task.Task, agent *task.Agent) (res Result, err error) {
	defer func() { agent.Release(err == nil) }()

	timeout := p.settings.MaxExecutionTime
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err = p.executor(execCtx, t)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil) {
			return res, fmt.Errorf("%w after %s (limit %s)", ErrTaskTimeout, elapsed.Round(time.Millisecond), timeout)
		}
		return res, fmt.Errorf("executor: %w", err)
	}

	if p.settings.MaxMemoryMB > 0 && res.MemoryMB > p.settings.MaxMemoryMB {
		return res, fmt.Errorf("%w: memory %.0fMB > %.0fMB", ErrResourceExceeded, res.MemoryMB, p.settings.MaxMemoryMB)
	}
	if p.settings.MaxCPUPercent > 0 && res.CPUPercent > p.settings.MaxCPUPercent {
		return res, fmt.Errorf("%w: cpu %.0f%% > %.0f%%", ErrResourceExceeded, res.CPUPercent, p.settings.MaxCPUPercent)
	}

	p.log.TimedEvent("task_executed", start, map[string]interface{}{
		"task": t.ID, "agent": agent.ID,
	})
	return res, nil
}

// Utilization returns the fraction of total parallelism currently in use.
func (p *Pool) Utilization() float64 {
	return utilization(p.registry.Agents())
}

// UtilizationFor returns the in-use fraction of the parallelism held by
// agents carrying all the required capabilities, so callers can see how
// busy one resource class is independent of the rest of the pool.
func (p *Pool) UtilizationFor(required []string) float64 {
	var capable []*task.Agent
	for _, a := range p.registry.Agents() {
		if a.HasCapabilities(required) {
			capable = append(capable, a)
		}
	}
	return utilization(capable)
}

func utilization(agents []*task.Agent) float64 {
	capacity, active := 0, 0
	for _, a := range agents {
		capacity += a.ParallelLimit
		active += a.Active()
	}
	if capacity == 0 {
		return 0
	}
	return float64(active) / float64(capacity)
}
