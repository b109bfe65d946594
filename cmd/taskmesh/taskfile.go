package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joss/taskmesh/internal/task"
)

// taskSpec is one entry in a JSON task file.
type taskSpec struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Priority    string   `json:"priority"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Deadline    string   `json:"deadline,omitempty"`
	Interactive bool     `json:"interactive,omitempty"`
}

// loadTaskFile reads a JSON array of task specs and converts them to
// tasks. Explicit ids are honored so depends_on can reference them;
// tasks without one get a generated id.
func loadTaskFile(path string) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var specs []taskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("task file %s contains no tasks", path)
	}

	tasks := make([]*task.Task, 0, len(specs))
	for i, s := range specs {
		if s.Title == "" {
			return nil, fmt.Errorf("task %d: missing title", i)
		}
		t := task.New(s.Title, task.Type(s.Type), task.Priority(s.Priority), s.DependsOn...)
		if s.ID != "" {
			t.ID = s.ID
		}
		t.Description = s.Description
		t.ParentID = s.Parent
		t.Interactive = s.Interactive
		if s.Deadline != "" {
			dl, err := time.Parse(time.RFC3339, s.Deadline)
			if err != nil {
				return nil, fmt.Errorf("task %s: bad deadline: %w", t.ID, err)
			}
			t.Deadline = &dl
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
