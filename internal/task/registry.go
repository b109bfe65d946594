package task

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the scheduler-owned state object holding tasks and agents.
// Components receive it by handle; there are no package-level singletons.
// Parent/child links resolve through the id-indexed task map.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	agents map[string]*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		agents: make(map[string]*Agent),
	}
}

// AddTask registers a task. Duplicate ids are rejected.
func (r *Registry) AddTask(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("duplicate task id %s", t.ID)
	}
	r.tasks[t.ID] = t
	if t.ParentID != "" {
		if parent, ok := r.tasks[t.ParentID]; ok {
			parent.Children = append(parent.Children, t.ID)
		}
	}
	return nil
}

// Task returns the task with the given id.
func (r *Registry) Task(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Tasks returns all tasks sorted by id for deterministic iteration.
func (r *Registry) Tasks() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddAgent registers an agent.
func (r *Registry) AddAgent(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// RemoveAgent deregisters an agent, used by pool scale-down.
func (r *Registry) RemoveAgent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Agent returns the agent with the given id.
func (r *Registry) Agent(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Agents returns all agents sorted by id.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentsByTier returns agents of the given tier sorted by id.
func (r *Registry) AgentsByTier(tier Tier) []*Agent {
	all := r.Agents()
	out := all[:0:0]
	for _, a := range all {
		if a.Tier == tier {
			out = append(out, a)
		}
	}
	return out
}

// AgentCount returns the number of registered agents.
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
