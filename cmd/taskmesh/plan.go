package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/taskmesh/internal/planner"
	"github.com/joss/taskmesh/internal/render"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <taskfile.json>",
		Short: "Show the execution plan for a task file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := loadTaskFile(args[0])
			if err != nil {
				return err
			}

			plan, err := planner.New(settings).Plan(tasks)
			if err != nil {
				return err
			}

			r := render.New(pretty)
			fmt.Print(r.Plan(plan))
			return nil
		},
	}
}
