package render

import (
	"strings"
	"testing"
	"time"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/events"
	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/task"
)

func TestPlan_PlainOutput(t *testing.T) {
	a := task.New("analyze module", task.TypeAnalysis, task.PriorityHigh)
	a.ID = "a"
	b := task.New("implement fix", task.TypeImplementation, task.PriorityMedium, "a")
	b.ID = "b"

	plan, err := planner.New(config.Default()).Plan([]*task.Task{a, b})
	if err != nil {
		t.Fatal(err)
	}

	out := New(false).Plan(plan)
	for _, want := range []string{
		"Execution Plan " + plan.ID,
		"Level 0",
		"Level 1",
		"depends on:",
		"Critical path:",
		"cpu-intensive=1",
		"balanced=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q\n%s", want, out)
		}
	}
}

func TestTasks_ShowsErrorsAndDurations(t *testing.T) {
	done := task.New("good task", task.TypeTesting, task.PriorityLow)
	done.AdvanceTo(task.StatusInProgress)
	time.Sleep(2 * time.Millisecond)
	done.AdvanceTo(task.StatusCompleted)

	bad := task.New("bad task", task.TypeTesting, task.PriorityLow)
	bad.Error = "executor: boom"
	bad.AdvanceTo(task.StatusFailed)

	out := New(false).Tasks([]*task.Task{done, bad})
	if !strings.Contains(out, "good task") || !strings.Contains(out, "completed") {
		t.Errorf("missing completed task line:\n%s", out)
	}
	if !strings.Contains(out, "executor: boom") {
		t.Errorf("missing error detail:\n%s", out)
	}
}

func TestTasks_NestsSubtasksUnderParent(t *testing.T) {
	parent := task.New("epic", task.TypeImplementation, task.PriorityMedium)
	child := task.New("subtask", task.TypeTesting, task.PriorityLow)
	child.ParentID = parent.ID
	parent.Children = []string{child.ID}

	out := New(false).Tasks([]*task.Task{parent, child})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "epic") {
		t.Errorf("parent not first:\n%s", out)
	}
	if !strings.Contains(lines[1], "  "+child.ID) {
		t.Errorf("subtask not indented under parent:\n%s", out)
	}
}

func TestAgents(t *testing.T) {
	a := task.NewAgent(task.TierAdvanced, 2, "code", "test")
	out := New(false).Agents([]*task.Agent{a})
	if !strings.Contains(out, "tier=advanced") || !strings.Contains(out, "caps=code,test") {
		t.Errorf("agents output malformed:\n%s", out)
	}
}

func TestSnapshot(t *testing.T) {
	out := New(false).Snapshot(events.Snapshot{
		Throughput:  12.5,
		MeanLatency: 150 * time.Millisecond,
		ErrorRate:   0.25,
		QueueDepth:  4,
		Utilization: 0.8,
	})
	for _, want := range []string{"12.5/min", "150ms", "25.0%", "queue=4", "util=80%"} {
		if !strings.Contains(out, want) {
			t.Errorf("snapshot missing %q: %s", want, out)
		}
	}
}
