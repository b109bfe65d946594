// Package main provides the taskmesh CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/taskmesh/internal/config"
)

var (
	version  = "0.1.0"
	settings config.Settings
	pretty   = true
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskmesh",
		Short: "Dependency-aware task scheduling and distribution engine",
		Long: `taskmesh plans, prioritizes, and executes interdependent tasks across
a pool of capacity-bounded worker agents.

Tasks are submitted as a JSON file, batched by dependency level and
resource profile, scored by the priority rules, and dispatched to agents
with adaptive pool scaling, retries, and metrics.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings = config.FromEnv()
			return settings.Validate()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "colored output")

	rootCmd.AddCommand(
		runCmd(),
		planCmd(),
		agentsCmd(),
		monitorCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("taskmesh", version)
		},
	}
}
