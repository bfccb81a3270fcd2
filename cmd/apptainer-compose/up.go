package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Up Command
// =============================================================================

var (
	flagUpWritableTmpfs bool
	flagUpFakeroot      bool
	flagUpAbort         bool
	flagUpParallel      int
	flagUpTimeout       time.Duration
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Build images and start all services in dependency order",
	Long: `Build every service that declares a build context, then start all
services as named instances, each one waiting for its dependencies to be
running first. Failed services abandon their dependents; unrelated
services keep starting unless --abort-on-failure is set.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().BoolVar(&flagUpWritableTmpfs, "writable-tmpfs", false, "overlay a writable tmpfs on every instance")
	upCmd.Flags().BoolVar(&flagUpFakeroot, "fakeroot", false, "build images in a fakeroot namespace")
	upCmd.Flags().BoolVar(&flagUpAbort, "abort-on-failure", false, "tear everything down when any service fails")
	upCmd.Flags().IntVar(&flagUpParallel, "parallel", 0, "start up to N independent services concurrently")
	upCmd.Flags().DurationVar(&flagUpTimeout, "timeout", 0, "per-service start timeout")
}

func runUp(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(p, func(opts *orchestrator.Options) {
		if flagUpWritableTmpfs {
			opts.WritableTmpfs = true
		}
		if flagUpFakeroot {
			opts.Fakeroot = true
		}
		if flagUpAbort {
			opts.AbortOnFailure = true
		}
		if flagUpParallel > 0 {
			opts.Parallel = flagUpParallel
		}
		if flagUpTimeout > 0 {
			opts.StartTimeout = flagUpTimeout
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	states, upErr := orch.Up(ctx, p.Doc, p.Graph)
	if len(states) > 0 {
		renderStateTable(os.Stdout, states)
	}
	return upErr
}
