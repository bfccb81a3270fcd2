package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Build Command
// =============================================================================

var flagBuildFakeroot bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Translate Dockerfiles and build service images without starting anything",
	Long: `Translate the Dockerfile of every service that declares a build
context into an Apptainer definition file and build the image. Services
referencing an existing image are skipped. Nothing is started.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVar(&flagBuildFakeroot, "fakeroot", false, "build images in a fakeroot namespace")
}

func runBuild(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(p, func(opts *orchestrator.Options) {
		if flagBuildFakeroot {
			opts.Fakeroot = true
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	results, err := orch.Build(ctx, p.Doc)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("nothing to build")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tDEFINITION\tIMAGE")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Service, r.DefFile, r.ImageFile)
	}
	w.Flush()
	return nil
}
