package main

import (
	"fmt"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Run Command
// =============================================================================

var (
	flagRunEntrypoint    string
	flagRunWritableTmpfs bool
)

var runCmd = &cobra.Command{
	Use:   "run SERVICE [COMMAND...]",
	Short: "Run a one-off command in a service's image",
	Long: `Run a single foreground command in a service's image with the
service's volumes and environment wired, without starting an instance.
The image is built first when the service declares a build context and
no image exists yet. Without a command the service's configured command
runs through the image run script.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().SetInterspersed(false)
	runCmd.Flags().StringVar(&flagRunEntrypoint, "entrypoint", "", "bypass the image run script with this command")
	runCmd.Flags().BoolVar(&flagRunWritableTmpfs, "writable-tmpfs", false, "overlay a writable tmpfs")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	var entrypoint []string
	if flagRunEntrypoint != "" {
		entrypoint, err = shellwords.Parse(flagRunEntrypoint)
		if err != nil {
			return fmt.Errorf("parse entrypoint: %w", err)
		}
	}

	orch, err := newOrchestrator(p, func(opts *orchestrator.Options) {
		if flagRunWritableTmpfs {
			opts.WritableTmpfs = true
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return orch.RunOneOff(ctx, p.Doc, p.Graph, orchestrator.RunOptions{
		Service:    args[0],
		Command:    args[1:],
		Entrypoint: entrypoint,
	})
}
