// Package task defines the task and agent model shared by the scheduling
// engine: tasks with dependency sets, capability-tiered agents, and the
// history records that feed priority scoring and distribution.
package task

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type classifies the kind of work a task represents.
type Type string

const (
	TypeAnalysis       Type = "analysis"
	TypeImplementation Type = "implementation"
	TypeTesting        Type = "testing"
	TypeDocumentation  Type = "documentation"
)

// Valid returns true if the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeAnalysis, TypeImplementation, TypeTesting, TypeDocumentation:
		return true
	default:
		return false
	}
}

// Priority is the caller-declared base priority of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Weight returns the numeric rank used for batch priority-class averaging
// (high=3, medium=2, low=1).
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Status represents the state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a task never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// rank orders statuses along the forward-only lifecycle.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// Task represents a unit of work assignable to an agent.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        Type       `json:"type"`
	Priority    Priority   `json:"priority"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      Status     `json:"status"`
	ParentID    string     `json:"parent_id,omitempty"`
	Children    []string   `json:"children,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Interactive bool       `json:"interactive,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count,omitempty"`
}

// New creates a pending task with a fresh ULID.
func New(title string, typ Type, priority Priority, dependsOn ...string) *Task {
	return &Task{
		ID:        ulid.Make().String(),
		Title:     title,
		Type:      typ,
		Priority:  priority,
		DependsOn: dependsOn,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// AdvanceTo moves the task to a new status. The lifecycle only moves
// forward: pending -> in_progress -> terminal. Retries reset a failed
// attempt back through markPending before the task becomes terminal.
func (t *Task) AdvanceTo(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("unknown status %q", s)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is terminal (%s), cannot move to %s", t.ID, t.Status, s)
	}
	if s.rank() < t.Status.rank() {
		return fmt.Errorf("task %s: status cannot regress from %s to %s", t.ID, t.Status, s)
	}
	now := time.Now().UTC()
	switch s {
	case StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = &now
	}
	t.Status = s
	return nil
}

// ResetForRetry returns a failed-attempt task to pending without touching
// its terminal guard. Only non-terminal in_progress tasks can be reset.
func (t *Task) ResetForRetry() error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is terminal (%s), cannot retry", t.ID, t.Status)
	}
	t.Status = StatusPending
	t.RetryCount++
	return nil
}

// Duration returns the wall time between start and completion, zero until
// the task is terminal.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Age returns how long ago the task was created.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// HistoryRecord is the terminal fold of a task, feeding priority rules and
// distributor performance scoring.
type HistoryRecord struct {
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id,omitempty"`
	Type       Type          `json:"type"`
	Priority   Priority      `json:"priority"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	MemoryMB   float64       `json:"memory_mb,omitempty"`
	CPUPercent float64       `json:"cpu_percent,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Fold converts a terminal task into a history record.
func Fold(t *Task, agentID string) HistoryRecord {
	return HistoryRecord{
		TaskID:     t.ID,
		AgentID:    agentID,
		Type:       t.Type,
		Priority:   t.Priority,
		Duration:   t.Duration(),
		Success:    t.Status == StatusCompleted,
		RecordedAt: time.Now().UTC(),
	}
}
