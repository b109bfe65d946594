package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/joss/taskmesh/internal/monitor"
	"github.com/joss/taskmesh/internal/render"
	"github.com/joss/taskmesh/internal/task"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor <taskfile.json>",
		Short: "Execute a task file with a live dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := loadTaskFile(args[0])
			if err != nil {
				return err
			}

			sched, cleanup, err := buildScheduler(settings)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sched.StartMetricsLoop()
			stream := sched.Events()

			planID, err := sched.Submit(ctx, tasks)
			if err != nil {
				return fmt.Errorf("submitting plan: %w", err)
			}

			done := make(chan error, 1)
			go func() { done <- sched.Wait(ctx, planID) }()

			model := monitor.New(planID, len(tasks), stream, done, func() []*task.Agent {
				return sched.Pool().Agents()
			})
			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}

			// Quitting the dashboard abandons a still-running plan. The
			// plan's goroutines keep writing task state until they observe
			// the cancellation, so drain them before reading the results.
			sched.Cancel(planID)
			waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer waitCancel()
			if err := sched.Wait(waitCtx, planID); err != nil {
				return fmt.Errorf("draining plan: %w", err)
			}

			finished, err := sched.Tasks(planID)
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Tasks(finished))
			return nil
		},
	}
}
