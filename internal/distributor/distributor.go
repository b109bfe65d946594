// Package distributor assigns tasks to agents using pluggable algorithms.
// Every algorithm obeys the saturation rule: an agent already at its
// parallelism limit is never returned; when all capable agents are
// saturated the distributor returns nil and the task stays queued.
package distributor

import (
	"fmt"

	"github.com/joss/taskmesh/internal/history"
	"github.com/joss/taskmesh/internal/logging"
	"github.com/joss/taskmesh/internal/task"
)

// Algorithm selects an assignment strategy.
type Algorithm string

const (
	CapabilityBased Algorithm = "capability_based"
	LoadBalanced    Algorithm = "load_balanced"
	PriorityFirst   Algorithm = "priority_first"
	RoundRobin      Algorithm = "round_robin"
	// Smart is the default: weighted capability match, idle capacity, and
	// historical performance.
	Smart Algorithm = "smart"
)

// Valid returns true if the algorithm is a known value.
func (a Algorithm) Valid() bool {
	switch a {
	case CapabilityBased, LoadBalanced, PriorityFirst, RoundRobin, Smart:
		return true
	default:
		return false
	}
}

// Distributor picks an agent for each task.
type Distributor struct {
	algorithm Algorithm
	store     history.Store
	log       *logging.Logger
}

// New creates a distributor. An unknown algorithm falls back to Smart.
func New(algorithm Algorithm, store history.Store) *Distributor {
	if !algorithm.Valid() {
		algorithm = Smart
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	return &Distributor{
		algorithm: algorithm,
		store:     store,
		log:       logging.New("distributor"),
	}
}

// Algorithm returns the active strategy.
func (d *Distributor) Algorithm() Algorithm { return d.algorithm }

// Distribute selects an agent for the task, or nil when every candidate is
// saturated (the engine's backpressure point).
func (d *Distributor) Distribute(t *task.Task, agents []*task.Agent) *task.Agent {
	available := unsaturated(agents)
	if len(available) == 0 {
		return nil
	}

	var chosen *task.Agent
	switch d.algorithm {
	case CapabilityBased:
		chosen = d.capabilityBased(t, available)
	case LoadBalanced:
		chosen = leastActive(available)
	case PriorityFirst:
		chosen = d.priorityFirst(t, available)
	case RoundRobin:
		chosen = fewestCompleted(available)
	default:
		chosen = d.smart(t, available)
	}

	if chosen != nil {
		d.log.Debug("assigned", map[string]interface{}{
			"task": t.ID, "agent": chosen.ID, "algorithm": string(d.algorithm),
		})
	}
	return chosen
}

func unsaturated(agents []*task.Agent) []*task.Agent {
	out := make([]*task.Agent, 0, len(agents))
	for _, a := range agents {
		if !a.Saturated() {
			out = append(out, a)
		}
	}
	return out
}

// capabilityBased filters to agents whose capabilities cover the task type,
// then picks the best historical composite. Agents with no history score a
// neutral 0.5 so new agents are not starved. With no qualifying agent it
// falls back to any available one rather than failing.
func (d *Distributor) capabilityBased(t *task.Task, agents []*task.Agent) *task.Agent {
	required := task.RequiredCapabilities(t.Type)
	var qualified []*task.Agent
	for _, a := range agents {
		if a.HasCapabilities(required) {
			qualified = append(qualified, a)
		}
	}
	if len(qualified) == 0 {
		return leastActive(agents)
	}

	best := qualified[0]
	bestScore := d.performance(best.ID, t.Type)
	for _, a := range qualified[1:] {
		if s := d.performance(a.ID, t.Type); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best
}

// priorityFirst routes by task priority to the matching capability tier,
// widening to any agent when the tier is empty or saturated.
func (d *Distributor) priorityFirst(t *task.Task, agents []*task.Agent) *task.Agent {
	tier := task.TierFor(t.Priority)
	var inTier []*task.Agent
	for _, a := range agents {
		if a.Tier == tier {
			inTier = append(inTier, a)
		}
	}
	if len(inTier) > 0 {
		return leastActive(inTier)
	}
	return leastActive(agents)
}

// smart scores every agent on capability match, normalized idle capacity,
// and history performance, highest wins.
func (d *Distributor) smart(t *task.Task, agents []*task.Agent) *task.Agent {
	required := task.RequiredCapabilities(t.Type)

	var best *task.Agent
	bestScore := -1.0
	for _, a := range agents {
		score := 0.4*matchFraction(a, required) +
			0.3*a.IdleFraction() +
			0.3*d.performance(a.ID, t.Type)
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func (d *Distributor) performance(agentID string, typ task.Type) float64 {
	if s, ok := d.store.AgentScore(agentID, typ); ok {
		return s
	}
	return 0.5
}

func matchFraction(a *task.Agent, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	matched := 0
	for _, r := range required {
		if have[r] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func leastActive(agents []*task.Agent) *task.Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Active() < best.Active() {
			best = a
		}
	}
	return best
}

func fewestCompleted(agents []*task.Agent) *task.Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Completed() < best.Completed() {
			best = a
		}
	}
	return best
}

// String implements fmt.Stringer for log output.
func (d *Distributor) String() string {
	return fmt.Sprintf("distributor(%s)", d.algorithm)
}
