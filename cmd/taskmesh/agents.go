package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/taskmesh/internal/render"
)

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Show the worker pool as configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := buildScheduler(settings)
			if err != nil {
				return err
			}
			defer cleanup()

			r := render.New(pretty)
			fmt.Print(r.Agents(sched.Pool().Agents()))
			return nil
		},
	}
}
