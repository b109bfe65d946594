package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joss/taskmesh/internal/alerts"
	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/history"
	"github.com/joss/taskmesh/internal/planstore"
	"github.com/joss/taskmesh/internal/pool"
	"github.com/joss/taskmesh/internal/scheduler"
	"github.com/joss/taskmesh/internal/task"
)

// shellExecutor runs a task's description as a shell command. Tasks with
// an empty description complete immediately, which makes dry task files
// usable for exercising the planner and pool.
func shellExecutor(ctx context.Context, t *task.Task) (pool.Result, error) {
	cmdText := strings.TrimSpace(t.Description)
	if cmdText == "" {
		return pool.Result{Output: "no command"}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdText)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return pool.Result{Output: string(out)}, fmt.Errorf("command failed: %w", err)
	}
	return pool.Result{Output: string(out)}, nil
}

// buildScheduler wires a scheduler from settings: history backend,
// optional graph persistence, and the file-backed alert manager.
func buildScheduler(cfg config.Settings) (*scheduler.Scheduler, func(), error) {
	var store history.Store
	var closers []func()

	if cfg.HistoryDir != "" {
		sqlStore, err := history.NewSQLiteStore(cfg.HistoryDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening history store: %w", err)
		}
		store = sqlStore
	} else {
		store = history.NewMemoryStore()
	}

	opts := []scheduler.Option{}
	if cfg.HistoryDir != "" {
		opts = append(opts, scheduler.WithAlerts(alerts.NewManager(cfg.HistoryDir)))
	}

	if cfg.GraphURI != "" {
		driver, err := planstore.NewBolt(planstore.Config{
			URI:      cfg.GraphURI,
			Username: cfg.GraphUser,
			Password: cfg.GraphPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting plan store: %w", err)
		}
		closers = append(closers, func() { driver.Close() })
		opts = append(opts, scheduler.WithPlanStore(planstore.NewStore(driver)))
	}

	sched, err := scheduler.New(cfg, shellExecutor, store, opts...)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}

	cleanup := func() {
		sched.Close()
		store.Close()
		for _, c := range closers {
			c()
		}
	}
	return sched, cleanup, nil
}
