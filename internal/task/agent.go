package task

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Tier represents the capability tier of an agent.
type Tier string

const (
	// TierQuick handles lightweight, low-priority work.
	TierQuick Tier = "quick"
	// TierStandard handles routine work.
	TierStandard Tier = "standard"
	// TierAdvanced handles complex, high-priority work.
	TierAdvanced Tier = "advanced"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierQuick, TierStandard, TierAdvanced:
		return true
	default:
		return false
	}
}

// TierFor maps a task priority to the tier that should serve it.
func TierFor(p Priority) Tier {
	switch p {
	case PriorityHigh:
		return TierAdvanced
	case PriorityMedium:
		return TierStandard
	default:
		return TierQuick
	}
}

// Agent is a capacity-bounded executor slot. The active counter is the only
// mutable shared state; it is updated atomically around assignment and
// completion events so a task is never double-counted.
type Agent struct {
	ID            string   `json:"id"`
	Tier          Tier     `json:"tier"`
	Capabilities  []string `json:"capabilities"`
	ParallelLimit int      `json:"parallel_limit"`

	active    atomic.Int64
	completed atomic.Int64
}

// NewAgent creates an agent with a fresh UUID.
func NewAgent(tier Tier, parallelLimit int, capabilities ...string) *Agent {
	if parallelLimit < 1 {
		parallelLimit = 1
	}
	return &Agent{
		ID:            uuid.New().String(),
		Tier:          tier,
		Capabilities:  capabilities,
		ParallelLimit: parallelLimit,
	}
}

// Active returns the current number of assigned tasks.
func (a *Agent) Active() int {
	return int(a.active.Load())
}

// Completed returns the historical completed-assignment count.
func (a *Agent) Completed() int {
	return int(a.completed.Load())
}

// Saturated reports whether the agent is at its parallelism limit.
func (a *Agent) Saturated() bool {
	return a.Active() >= a.ParallelLimit
}

// IdleFraction returns the normalized spare capacity in [0,1].
func (a *Agent) IdleFraction() float64 {
	if a.ParallelLimit == 0 {
		return 0
	}
	free := a.ParallelLimit - a.Active()
	if free < 0 {
		free = 0
	}
	return float64(free) / float64(a.ParallelLimit)
}

// Acquire reserves an assignment slot. It returns false without reserving
// when the agent is saturated.
func (a *Agent) Acquire() bool {
	for {
		cur := a.active.Load()
		if cur >= int64(a.ParallelLimit) {
			return false
		}
		if a.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees an assignment slot after an attempt reaches a terminal
// outcome. Only successful attempts count toward the completed total; a
// failed or timed-out attempt frees the slot without inflating it.
func (a *Agent) Release(success bool) {
	if a.active.Add(-1) < 0 {
		a.active.Store(0)
	}
	if success {
		a.completed.Add(1)
	}
}

// HasCapabilities reports whether the agent's capability set is a superset
// of required.
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// RequiredCapabilities returns the capability set a task type needs.
func RequiredCapabilities(typ Type) []string {
	switch typ {
	case TypeAnalysis:
		return []string{"analyze"}
	case TypeImplementation:
		return []string{"code"}
	case TypeTesting:
		return []string{"code", "test"}
	case TypeDocumentation:
		return []string{"write"}
	default:
		return nil
	}
}
