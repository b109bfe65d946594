// Package priority computes dynamic task priorities: rule-based multi-factor
// scoring with decay, a periodic rebalance pass, and an optional learned
// adjustment hook.
package priority

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/logging"
	"github.com/joss/taskmesh/internal/task"
)

// Context carries the injected measurements scoring rules read. Values come
// from real observations supplied by the scheduler, never generated here.
type Context struct {
	SystemLoad    float64               // normalized [0,1]
	ErrorRate     float64               // recent failure fraction [0,1]
	QueueDepth    int                   // total queued tasks
	QueuePosition map[string]int        // task id -> position from queue head
	SpareCapacity map[string]float64    // resource signature -> idle fraction [0,1]
	SuccessRate   map[task.Type]float64 // historical success by type
	Now           time.Time
}

// Adjustment records one rule's contribution for explainability.
type Adjustment struct {
	RuleID string  `json:"rule_id"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

// Score is the computed priority of a task at a point in time.
type Score struct {
	TaskID      string       `json:"task_id"`
	Base        float64      `json:"base"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
	Final       float64      `json:"final"`
	Urgency     float64      `json:"urgency"`
	Impact      float64      `json:"impact"`
	Complexity  float64      `json:"complexity"`
	ComputedAt  time.Time    `json:"computed_at"`
}

// Features is the input to the optional learned predictor.
type Features struct {
	Type       task.Type
	Priority   task.Priority
	AgeHours   float64
	QueueDepth int
	ErrorRate  float64
	SystemLoad float64
}

// Predictor is a pure learned-adjustment hook. Its output is clamped to
// [-30, 30]. A nil predictor contributes zero.
type Predictor func(Features) float64

const predictorBound = 30

// Manager scores and orders tasks.
type Manager struct {
	settings  config.Settings
	rules     []Rule
	predictor Predictor
	log       *logging.Logger

	mu     sync.Mutex
	scores map[string]Score
}

// Option configures a Manager.
type Option func(*Manager)

// WithPredictor installs a learned-adjustment hook.
func WithPredictor(p Predictor) Option {
	return func(m *Manager) { m.predictor = p }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(m *Manager) { m.rules = rules }
}

// NewManager creates a priority manager with the default rules.
func NewManager(settings config.Settings, opts ...Option) *Manager {
	m := &Manager{
		settings: settings,
		rules:    DefaultRules(),
		log:      logging.New("priority"),
		scores:   make(map[string]Score),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// basePriority maps declared priority to its base score.
func basePriority(p task.Priority) float64 {
	switch p {
	case task.PriorityHigh:
		return 100
	case task.PriorityMedium:
		return 50
	default:
		return 25
	}
}

// ScoreTask computes the clamped multi-factor score for one task.
func (m *Manager) ScoreTask(t *task.Task, ctx Context) Score {
	if ctx.Now.IsZero() {
		ctx.Now = time.Now().UTC()
	}
	base := basePriority(t.Priority)

	var adjustments []Adjustment
	total := 0.0
	for _, r := range m.rules {
		if !r.Enabled {
			continue
		}
		fired, reason := r.Condition(t, ctx)
		if !fired {
			continue
		}
		delta := r.Boost * r.Weight
		adjustments = append(adjustments, Adjustment{RuleID: r.ID, Delta: delta, Reason: reason})
		total += delta
	}

	if m.predictor != nil {
		delta := m.predict(t, ctx)
		if delta != 0 {
			adjustments = append(adjustments, Adjustment{
				RuleID: "learned", Delta: delta, Reason: "learned adjustment from task history",
			})
			total += delta
		}
	}

	// Clamp the total adjustment so the final score stays within
	// [floor, base+maxBoost] for any rule combination.
	floor := m.settings.MinPriorityFloor
	if total > m.settings.MaxPriorityBoost {
		total = m.settings.MaxPriorityBoost
	}
	if total < floor-base {
		total = floor - base
	}

	final := base + total
	if m.settings.DecayEnabled {
		final = m.decay(final, t.Age(ctx.Now))
	}
	if final < floor {
		final = floor
	}

	s := Score{
		TaskID:      t.ID,
		Base:        base,
		Adjustments: adjustments,
		Final:       final,
		Urgency:     m.urgency(t, ctx),
		Impact:      base / 100,
		Complexity:  complexity(t.Type),
		ComputedAt:  ctx.Now,
	}

	m.mu.Lock()
	m.scores[t.ID] = s
	m.mu.Unlock()
	return s
}

// predict runs the learned hook, recovering from panics so a broken
// predictor degrades to a zero contribution instead of failing scoring.
func (m *Manager) predict(t *task.Task, ctx Context) (delta float64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("predictor_panic", map[string]interface{}{"task": t.ID, "panic": r}, nil)
			delta = 0
		}
	}()
	delta = m.predictor(Features{
		Type:       t.Type,
		Priority:   t.Priority,
		AgeHours:   t.Age(ctx.Now).Hours(),
		QueueDepth: ctx.QueueDepth,
		ErrorRate:  ctx.ErrorRate,
		SystemLoad: ctx.SystemLoad,
	})
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0
	}
	if delta > predictorBound {
		delta = predictorBound
	}
	if delta < -predictorBound {
		delta = -predictorBound
	}
	return delta
}

// decay applies geometric age decay, never dropping below the floor.
func (m *Manager) decay(score float64, age time.Duration) float64 {
	if age <= 0 || m.settings.DecayRate <= 0 {
		return score
	}
	decayed := score * math.Pow(1-m.settings.DecayRate, age.Hours())
	if decayed < m.settings.MinPriorityFloor {
		return m.settings.MinPriorityFloor
	}
	return decayed
}

func (m *Manager) urgency(t *task.Task, ctx Context) float64 {
	u := float64(t.Priority.Weight()) / 3
	if t.Deadline != nil {
		remaining := t.Deadline.Sub(ctx.Now)
		if remaining <= 2*time.Hour {
			u = 1
		}
	}
	return u
}

func complexity(typ task.Type) float64 {
	switch typ {
	case task.TypeImplementation:
		return 0.9
	case task.TypeAnalysis:
		return 0.7
	case task.TypeTesting:
		return 0.5
	default:
		return 0.3
	}
}

// Prioritize returns the tasks ordered by descending final score. The sort
// is stable: equal scores keep submission order.
func (m *Manager) Prioritize(tasks []*task.Task, ctx Context) []*task.Task {
	type scored struct {
		t     *task.Task
		score float64
	}
	out := make([]scored, len(tasks))
	for i, t := range tasks {
		out[i] = scored{t: t, score: m.ScoreTask(t, ctx).Final}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	ordered := make([]*task.Task, len(out))
	for i, s := range out {
		ordered[i] = s.t
	}
	return ordered
}

// LastScore returns the most recent score computed for a task.
func (m *Manager) LastScore(taskID string) (Score, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[taskID]
	return s, ok
}

// Rebalance returns the ids of tasks whose scores are stale or were
// computed under a context that has since shifted materially, flagging
// them for recomputation.
func (m *Manager) Rebalance(ctx Context) []string {
	if ctx.Now.IsZero() {
		ctx.Now = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	for id, s := range m.scores {
		if ctx.Now.Sub(s.ComputedAt) > m.settings.RebalanceAfter {
			stale = append(stale, id)
			continue
		}
		// Context shift: a high-load or high-error regime invalidates
		// scores computed under calm conditions.
		if ctx.SystemLoad > 0.8 || ctx.ErrorRate > m.settings.AlertErrorRate {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 {
		m.log.Debug("rebalance_flagged", map[string]interface{}{"count": len(stale)})
	}
	return stale
}

// Forget drops the cached score for a terminal task.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	delete(m.scores, taskID)
	m.mu.Unlock()
}
