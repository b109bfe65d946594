package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joss/taskmesh/internal/metrics"
	"github.com/joss/taskmesh/internal/render"
)

func runCmd() *cobra.Command {
	var serveMetrics bool

	cmd := &cobra.Command{
		Use:   "run <taskfile.json>",
		Short: "Execute a task file",
		Long: `Plan and execute the tasks in a JSON task file.

Each task's description is run as a shell command on the agent it is
assigned to. The command waits for the whole plan to finish and prints
a per-task result summary.`,
		Args: cobra.ExactArgs(1),
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched.StartMetricsLoop()
			if serveMetrics {
				srv := metrics.NewServer(sched.Metrics(), settings.MetricsPort)
				go srv.Start()
				defer srv.Stop(context.Background())
			}

			planID, err := sched.Submit(ctx, tasks)
			if err != nil {
				return fmt.Errorf("submitting plan: %w", err)
			}
			fmt.Println("Plan", planID, "submitted with", len(tasks), "tasks")

			if err := sched.Wait(ctx, planID); err != nil {
				sched.Cancel(planID)
				return err
			}

			done, err := sched.Tasks(planID)
			if err != nil {
				return err
			}

			r := render.New(pretty)
			fmt.Print(r.Tasks(done))
			fmt.Println(r.Snapshot(sched.Metrics().Snapshot()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&serveMetrics, "serve-metrics", false, "expose /metrics over HTTP while running")
	return cmd
}
