// Package render provides terminal output formatting for plans, tasks, and
// metrics snapshots.
package render

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/joss/taskmesh/internal/events"
	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/task"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a renderer. Pretty output is disabled automatically when
// stdout is not a terminal.
func New(pretty bool) *Renderer {
	if pretty && !term.IsTerminal(int(os.Stdout.Fd())) {
		pretty = false
		color.NoColor = true
	}
	return &Renderer{pretty: pretty}
}

// Plan formats an execution plan overview: batches per level, the critical
// path, and the resource allocation.
func (r *Renderer) Plan(plan *planner.ExecutionPlan) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Execution Plan %s\n", plan.ID))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	} else {
		fmt.Fprintf(&sb, "Execution Plan %s\n", plan.ID)
	}

	fmt.Fprintf(&sb, "Batches: %d  Parallel streams: %d  Estimated: %s\n\n",
		len(plan.Batches), plan.ParallelStreams, plan.TotalEstimated.Round(time.Second))

	level := -1
	for _, b := range plan.Batches {
		if b.Level != level {
			level = b.Level
			fmt.Fprintf(&sb, "Level %d\n", level)
		}
		class := string(b.Class)
		if r.pretty {
			switch b.Class {
			case planner.ClassUrgent:
				class = color.RedString(class)
			case planner.ClassHigh:
				class = color.YellowString(class)
			}
		}
		fmt.Fprintf(&sb, "  %s  [%s/%s]  %d tasks, parallelism %d, ~%s\n",
			b.ID, b.Signature, class, len(b.TaskIDs), b.Parallelism, b.Estimated.Round(time.Second))
		if len(b.DependsOn) > 0 {
			fmt.Fprintf(&sb, "    depends on: %s\n", strings.Join(b.DependsOn, ", "))
		}
	}

	if len(plan.CriticalPath) > 0 {
		sb.WriteString("\nCritical path: " + strings.Join(plan.CriticalPath, " → ") + "\n")
	}
	if len(plan.Allocation) > 0 {
		sb.WriteString("Allocation:")
		for _, sig := range []planner.Signature{
			planner.SigCPUIntensive, planner.SigBalanced, planner.SigIOIntensive, planner.SigLowResource,
		} {
			if n, ok := plan.Allocation[sig]; ok {
				fmt.Fprintf(&sb, " %s=%d", sig, n)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Tasks formats terminal task results. Subtasks render indented under
// their parent, in the parent's child-link order.
func (r *Renderer) Tasks(tasks []*task.Task) string {
	var sb strings.Builder
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var write func(t *task.Task, indent string)
	write = func(t *task.Task, indent string) {
		status := string(t.Status)
		if r.pretty {
			switch t.Status {
			case task.StatusCompleted:
				status = color.GreenString("✓ %s", t.Status)
			case task.StatusFailed:
				status = color.RedString("✗ %s", t.Status)
			case task.StatusCancelled:
				status = color.YellowString("- %s", t.Status)
			}
		}
		durStr := ""
		if d := t.Duration(); d > 0 {
			durStr = fmt.Sprintf(" (%s)", d.Round(time.Millisecond))
		}
		fmt.Fprintf(&sb, "%-14s %s%s  %s%s\n", status, indent, t.ID, t.Title, durStr)
		if t.Error != "" {
			fmt.Fprintf(&sb, "               %s%s\n", indent, t.Error)
		}
		for _, cid := range t.Children {
			if c, ok := byID[cid]; ok {
				write(c, indent+"  ")
			}
		}
	}

	for _, t := range tasks {
		if t.ParentID != "" && byID[t.ParentID] != nil {
			continue
		}
		write(t, "")
	}
	return sb.String()
}

// Agents formats the current worker pool.
func (r *Renderer) Agents(agents []*task.Agent) string {
	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Worker Pool\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, a := range agents {
		fmt.Fprintf(&sb, "%s  tier=%-8s  active=%d/%d  caps=%s\n",
			a.ID, a.Tier, a.Active(), a.ParallelLimit, strings.Join(a.Capabilities, ","))
	}
	return sb.String()
}

// Snapshot formats a metrics snapshot on one line.
func (r *Renderer) Snapshot(s events.Snapshot) string {
	return fmt.Sprintf("throughput=%.1f/min latency=%s errors=%.1f%% queue=%d util=%.0f%%",
		s.Throughput, s.MeanLatency.Round(time.Millisecond), s.ErrorRate*100, s.QueueDepth, s.Utilization*100)
}
