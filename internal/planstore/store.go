package planstore

import (
	"context"
	"fmt"
	"time"

	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/task"
)

// Store persists plans, batches, and tasks as graph nodes.
type Store struct {
	db Driver
}

// NewStore creates a plan store over the given driver.
func NewStore(db Driver) *Store {
	return &Store{db: db}
}

// SavePlan writes the plan topology: plan -> batches -> tasks, plus
// batch-level DEPENDS_ON edges.
func (s *Store) SavePlan(ctx context.Context, plan *planner.ExecutionPlan, tasks []*task.Task) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := s.db.ExecuteWrite(ctx, `
		CREATE (p:Plan {
			plan_id: $plan_id,
			parallel_streams: $streams,
			total_estimated_ms: $total_ms,
			created_at: $now
		})`, map[string]any{
		"plan_id":  plan.ID,
		"streams":  plan.ParallelStreams,
		"total_ms": plan.TotalEstimated.Milliseconds(),
		"now":      now,
	})
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, b := range plan.Batches {
		err := s.db.ExecuteWrite(ctx, `
			MATCH (p:Plan {plan_id: $plan_id})
			CREATE (b:Batch {
				batch_id: $batch_id,
				level: $level,
				signature: $signature,
				class: $class,
				parallelism: $parallelism,
				estimated_ms: $estimated_ms,
				status: $status
			})
			CREATE (p)-[:HAS_BATCH]->(b)`, map[string]any{
			"plan_id":      plan.ID,
			"batch_id":     b.ID,
			"level":        b.Level,
			"signature":    string(b.Signature),
			"class":        string(b.Class),
			"parallelism":  b.Parallelism,
			"estimated_ms": b.Estimated.Milliseconds(),
			"status":       string(b.Status),
		})
		if err != nil {
			return fmt.Errorf("save batch %s: %w", b.ID, err)
		}

		for _, id := range b.TaskIDs {
			t := byID[id]
			err := s.db.ExecuteWrite(ctx, `
				MATCH (b:Batch {batch_id: $batch_id})
				CREATE (t:Task {
					task_id: $task_id,
					title: $title,
					type: $type,
					priority: $priority,
					status: $status,
					created_at: $created_at
				})
				CREATE (b)-[:CONTAINS]->(t)`, map[string]any{
				"batch_id":   b.ID,
				"task_id":    t.ID,
				"title":      t.Title,
				"type":       string(t.Type),
				"priority":   string(t.Priority),
				"status":     string(t.Status),
				"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return fmt.Errorf("save task %s: %w", t.ID, err)
			}
		}
	}

	for _, b := range plan.Batches {
		for _, dep := range b.DependsOn {
			err := s.db.ExecuteWrite(ctx, `
				MATCH (b:Batch {batch_id: $batch_id})
				MATCH (d:Batch {batch_id: $dep_id})
				CREATE (b)-[:DEPENDS_ON]->(d)`, map[string]any{
				"batch_id": b.ID,
				"dep_id":   dep,
			})
			if err != nil {
				return fmt.Errorf("link batch %s -> %s: %w", b.ID, dep, err)
			}
		}
	}
	return nil
}

// UpdateBatchStatus mirrors a live batch transition into the graph.
func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, st planner.BatchStatus) error {
	return s.db.ExecuteWrite(ctx, `
		MATCH (b:Batch {batch_id: $batch_id})
		SET b.status = $status, b.updated_at = $now`, map[string]any{
		"batch_id": batchID,
		"status":   string(st),
		"now":      time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateTask mirrors a terminal task into the graph.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	return s.db.ExecuteWrite(ctx, `
		MATCH (t:Task {task_id: $task_id})
		SET t.status = $status,
		    t.error = $error,
		    t.retry_count = $retries,
		    t.completed_at = $now`, map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
		"error":   t.Error,
		"retries": t.RetryCount,
		"now":     time.Now().UTC().Format(time.RFC3339),
	})
}

// PlanSummary is a stored plan overview.
type PlanSummary struct {
	PlanID    string
	Batches   int
	Completed int
	Failed    int
	CreatedAt string
}

// GetPlanSummary reads back a stored plan's batch completion counts.
func (s *Store) GetPlanSummary(ctx context.Context, planID string) (*PlanSummary, error) {
	records, err := s.db.Execute(ctx, `
		MATCH (p:Plan {plan_id: $plan_id})
		OPTIONAL MATCH (p)-[:HAS_BATCH]->(b:Batch)
		RETURN p.plan_id AS plan_id,
		       p.created_at AS created_at,
		       count(b) AS batches,
		       sum(CASE WHEN b.status = 'completed' THEN 1 ELSE 0 END) AS completed,
		       sum(CASE WHEN b.status = 'failed' THEN 1 ELSE 0 END) AS failed`,
		map[string]any{"plan_id": planID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("plan not found: %s", planID)
	}

	r := records[0]
	return &PlanSummary{
		PlanID:    getString(r, "plan_id"),
		CreatedAt: getString(r, "created_at"),
		Batches:   getInt(r, "batches"),
		Completed: getInt(r, "completed"),
		Failed:    getInt(r, "failed"),
	}, nil
}

func getString(r Record, key string) string {
	if v, ok := r[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(r Record, key string) int {
	if v, ok := r[key]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 0
}
