package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Down Command
// =============================================================================

var flagDownTimeout time.Duration

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop all service instances in reverse dependency order",
	Long: `Stop every running instance of the project, dependents before their
dependencies. Every instance is attempted even when an earlier stop
fails. Built images and definition files stay on disk.`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
	downCmd.Flags().DurationVar(&flagDownTimeout, "timeout", 0, "graceful stop window per instance")
}

func runDown(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(p, func(opts *orchestrator.Options) {
		if flagDownTimeout > 0 {
			opts.StopTimeout = flagDownTimeout
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return orch.Down(ctx, p.Doc, p.Graph)
}
