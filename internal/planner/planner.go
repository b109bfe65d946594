// Package planner turns a set of interdependent tasks into an execution
// plan: topological levels, resource-compatible batches, and a critical
// path over the batch DAG.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/logging"
	"github.com/joss/taskmesh/internal/task"
)

// ErrCircularDependency aborts planning when the dependency graph has a
// cycle. Cycles are never silently dropped.
var ErrCircularDependency = errors.New("circular dependency detected")

// DurationSource supplies measured mean durations by task type. The history
// store satisfies it; planners without one fall back to static baselines.
type DurationSource interface {
	AvgDuration(typ task.Type) (time.Duration, bool)
}

// Planner builds execution plans.
type Planner struct {
	settings  config.Settings
	durations DurationSource
	log       *logging.Logger
}

// Option configures optional planner collaborators.
type Option func(*Planner)

// WithDurations bases batch estimates on measured durations where available.
func WithDurations(src DurationSource) Option {
	return func(p *Planner) { p.durations = src }
}

// New creates a planner.
func New(settings config.Settings, opts ...Option) *Planner {
	p := &Planner{
		settings: settings,
		log:      logging.New("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds a deterministic execution plan for the given tasks. The input
// is never mutated. Dependency ids that are absent from the submitted set
// are treated as already satisfied and logged.
func (p *Planner) Plan(tasks []*task.Task) (*ExecutionPlan, error) {
	planID := "plan-" + ulid.Make().String()

	if len(tasks) == 0 {
		return &ExecutionPlan{
			ID:         planID,
			Allocation: map[Signature]int{},
			CreatedAt:  time.Now().UTC(),
		}, nil
	}

	levels, err := p.level(tasks)
	if err != nil {
		return nil, err
	}

	batches := p.batch(planID, levels)
	p.linkDependencies(batches, tasks)
	path, total := criticalPath(batches)

	plan := &ExecutionPlan{
		ID:              planID,
		Batches:         batches,
		ParallelStreams: parallelStreams(batches),
		TotalEstimated:  total,
		CriticalPath:    path,
		Allocation:      allocation(batches),
		CreatedAt:       time.Now().UTC(),
	}

	p.log.Info("plan_built", map[string]interface{}{
		"plan":    planID,
		"tasks":   len(tasks),
		"batches": len(batches),
		"levels":  len(levels),
	})
	return plan, nil
}

// level runs Kahn's algorithm, extracting zero-in-degree tasks level by
// level. A pass that extracts nothing while tasks remain is a cycle.
func (p *Planner) level(tasks []*task.Task) ([][]*task.Task, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		indegree[t.ID] = 0
		for _, dep := range t.DependsOn {
			if !known[dep] {
				// Vacuously satisfied: the dependency was completed in a
				// prior submission or pruned by the caller.
				p.log.Warn("unknown_dependency", map[string]interface{}{
					"task": t.ID, "dependency": dep,
				}, nil)
				continue
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	byID := make(map[string]*task.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		order = append(order, t.ID)
	}

	var levels [][]*task.Task
	remaining := len(tasks)
	done := make(map[string]bool, len(tasks))

	for remaining > 0 {
		var level []*task.Task
		// Walk in submission order so planning is deterministic.
		for _, id := range order {
			if !done[id] && indegree[id] == 0 {
				level = append(level, byID[id])
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(unresolved(order, done), ", "))
		}
		for _, t := range level {
			done[t.ID] = true
			remaining--
			for _, dep := range dependents[t.ID] {
				indegree[dep]--
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func unresolved(order []string, done map[string]bool) []string {
	var out []string
	for _, id := range order {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out
}

// batch groups each level by resource signature, then splits groups into
// size-capped batches and computes per-batch attributes.
func (p *Planner) batch(planID string, levels [][]*task.Task) []*Batch {
	var batches []*Batch
	seq := 0
	for levelIdx, level := range levels {
		groups := make(map[Signature][]*task.Task)
		var sigOrder []Signature
		for _, t := range level {
			sig := SignatureFor(t.Type)
			if _, ok := groups[sig]; !ok {
				sigOrder = append(sigOrder, sig)
			}
			groups[sig] = append(groups[sig], t)
		}
		sort.Slice(sigOrder, func(i, j int) bool { return sigOrder[i] < sigOrder[j] })

		for _, sig := range sigOrder {
			group := groups[sig]
			for start := 0; start < len(group); start += p.settings.BatchSize {
				end := start + p.settings.BatchSize
				if end > len(group) {
					end = len(group)
				}
				seq++
				batches = append(batches, p.makeBatch(planID, seq, levelIdx, sig, group[start:end]))
			}
		}
	}
	return batches
}

func (p *Planner) makeBatch(planID string, seq, level int, sig Signature, members []*task.Task) *Batch {
	ids := make([]string, len(members))
	weightSum := 0
	var durSum time.Duration
	hint := typeParallelismHint(members[0].Type)
	for i, t := range members {
		ids[i] = t.ID
		weightSum += t.Priority.Weight()
		durSum += p.estimate(t.Type)
		if h := typeParallelismHint(t.Type); h < hint {
			hint = h
		}
	}

	parallelism := hint
	if len(members) < parallelism {
		parallelism = len(members)
	}
	if p.settings.MaxParallelism > 0 && parallelism > p.settings.MaxParallelism {
		parallelism = p.settings.MaxParallelism
	}

	return &Batch{
		ID:          fmt.Sprintf("%s-b%03d", planID, seq),
		Level:       level,
		Signature:   sig,
		TaskIDs:     ids,
		Parallelism: parallelism,
		Class:       classify(float64(weightSum) / float64(len(members))),
		Estimated:   durSum / time.Duration(len(members)),
		Status:      BatchPending,
	}
}

// estimate returns the expected duration for a task type: the measured mean
// when the duration source has one, the static baseline otherwise.
func (p *Planner) estimate(typ task.Type) time.Duration {
	if p.durations != nil {
		if d, ok := p.durations.AvgDuration(typ); ok && d > 0 {
			return d
		}
	}
	return typeBaseline(typ)
}

// classify discretizes a mean priority weight into a batch class.
func classify(mean float64) Class {
	switch {
	case mean >= 2.5:
		return ClassUrgent
	case mean >= 2:
		return ClassHigh
	case mean >= 1.5:
		return ClassMedium
	default:
		return ClassLow
	}
}

// linkDependencies derives batch-level dependencies: a batch depends on any
// earlier batch containing a dependency of one of its members.
func (p *Planner) linkDependencies(batches []*Batch, tasks []*task.Task) {
	owner := make(map[string]string, len(tasks))
	for _, b := range batches {
		for _, id := range b.TaskIDs {
			owner[id] = b.ID
		}
	}
	deps := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t
	}

	for _, b := range batches {
		seen := make(map[string]bool)
		for _, id := range b.TaskIDs {
			for _, dep := range deps[id].DependsOn {
				depBatch, ok := owner[dep]
				if !ok || depBatch == b.ID || seen[depBatch] {
					continue
				}
				seen[depBatch] = true
				b.DependsOn = append(b.DependsOn, depBatch)
			}
		}
		sort.Strings(b.DependsOn)
	}
}

// criticalPath finds the longest-duration chain over the batch DAG starting
// from dependency-free batches. Total plan time is the chain's duration sum.
func criticalPath(batches []*Batch) ([]string, time.Duration) {
	if len(batches) == 0 {
		return nil, 0
	}
	byID := make(map[string]*Batch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	type memoEntry struct {
		dur  time.Duration
		path []string
	}
	memo := make(map[string]memoEntry, len(batches))

	var longest func(id string) memoEntry
	longest = func(id string) memoEntry {
		if e, ok := memo[id]; ok {
			return e
		}
		b := byID[id]
		best := memoEntry{}
		for _, dep := range b.DependsOn {
			if e := longest(dep); e.dur > best.dur {
				best = e
			}
		}
		e := memoEntry{
			dur:  best.dur + b.Estimated,
			path: append(append([]string{}, best.path...), id),
		}
		memo[id] = e
		return e
	}

	best := memoEntry{}
	for _, b := range batches {
		if e := longest(b.ID); e.dur > best.dur {
			best = e
		}
	}
	return best.path, best.dur
}

// parallelStreams is the widest level of the plan: how many batches can run
// at once when every dependency is satisfied.
func parallelStreams(batches []*Batch) int {
	width := make(map[int]int)
	max := 0
	for _, b := range batches {
		width[b.Level]++
		if width[b.Level] > max {
			max = width[b.Level]
		}
	}
	return max
}

// allocation counts tasks per resource signature.
func allocation(batches []*Batch) map[Signature]int {
	out := make(map[Signature]int)
	for _, b := range batches {
		out[b.Signature] += len(b.TaskIDs)
	}
	return out
}
