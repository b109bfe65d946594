package planner

import (
	"time"

	"github.com/joss/taskmesh/internal/task"
)

// Signature is the coarse resource profile used for batch grouping.
type Signature string

const (
	SigCPUIntensive Signature = "cpu-intensive"
	SigBalanced     Signature = "balanced"
	SigIOIntensive  Signature = "io-intensive"
	SigLowResource  Signature = "low-resource"
)

// SignatureFor maps a task type to its resource signature so batches never
// mix incompatible profiles.
func SignatureFor(typ task.Type) Signature {
	switch typ {
	case task.TypeAnalysis:
		return SigCPUIntensive
	case task.TypeImplementation:
		return SigBalanced
	case task.TypeTesting:
		return SigIOIntensive
	case task.TypeDocumentation:
		return SigLowResource
	default:
		return SigBalanced
	}
}

// Class is the discretized priority of a batch.
type Class string

const (
	ClassUrgent Class = "urgent"
	ClassHigh   Class = "high"
	ClassMedium Class = "medium"
	ClassLow    Class = "low"
)

// BatchStatus represents the state of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchSkipped    BatchStatus = "skipped"
	BatchCancelled  BatchStatus = "cancelled"
)

// Batch is a group of mutually parallelizable tasks scheduled as one unit.
type Batch struct {
	ID          string        `json:"id"`
	Level       int           `json:"level"`
	Signature   Signature     `json:"signature"`
	TaskIDs     []string      `json:"task_ids"`
	Parallelism int           `json:"parallelism"`
	Class       Class         `json:"class"`
	Estimated   time.Duration `json:"estimated"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Status      BatchStatus   `json:"status"`
}

// ExecutionPlan is the derived schedule for one submission. Plans are
// recomputed per submission and never mutated by execution; the scheduler
// tracks live batch status separately.
type ExecutionPlan struct {
	ID              string            `json:"id"`
	Batches         []*Batch          `json:"batches"`
	ParallelStreams int               `json:"parallel_streams"`
	TotalEstimated  time.Duration     `json:"total_estimated"`
	CriticalPath    []string          `json:"critical_path"`
	Allocation      map[Signature]int `json:"allocation"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Batch lookups used by the scheduler.

// BatchByID returns the batch with the given id.
func (p *ExecutionPlan) BatchByID(id string) *Batch {
	for _, b := range p.Batches {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Dependents returns the ids of batches that depend on the given batch.
func (p *ExecutionPlan) Dependents(id string) []string {
	var out []string
	for _, b := range p.Batches {
		for _, dep := range b.DependsOn {
			if dep == id {
				out = append(out, b.ID)
				break
			}
		}
	}
	return out
}

// typeBaseline is the per-type estimated duration used for batch estimates.
// Batches run their members in parallel, so a batch estimate is the mean of
// member baselines, not the sum.
func typeBaseline(typ task.Type) time.Duration {
	switch typ {
	case task.TypeAnalysis:
		return 3 * time.Minute
	case task.TypeImplementation:
		return 8 * time.Minute
	case task.TypeTesting:
		return 5 * time.Minute
	case task.TypeDocumentation:
		return 2 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// typeParallelismHint caps in-batch concurrency per task type.
func typeParallelismHint(typ task.Type) int {
	switch typ {
	case task.TypeAnalysis:
		return 2
	case task.TypeImplementation:
		return 3
	case task.TypeTesting:
		return 4
	case task.TypeDocumentation:
		return 4
	default:
		return 2
	}
}
