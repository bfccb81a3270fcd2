package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Ps Command
// =============================================================================

var flagPsFormat string

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List service instances and their states",
	Args:  cobra.NoArgs,
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().StringVar(&flagPsFormat, "format", "table", "output format: table, json, yaml")
}

func runPs(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(p, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	states, err := orch.Ps(ctx, p.Doc)
	if err != nil {
		return err
	}

	switch flagPsFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(states)
	case "table":
		renderStateTable(os.Stdout, states)
		return nil
	default:
		return fmt.Errorf("unknown format %q, want table, json or yaml", flagPsFormat)
	}
}

// renderStateTable prints the aligned state report shared by ps and up.
func renderStateTable(out io.Writer, states []orchestrator.ServiceState) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tINSTANCE\tIMAGE\tSTATE\tPID")
	for _, s := range states {
		pid := "-"
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		image := s.Image
		if image == "" {
			image = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Service, s.Instance, image, s.Status, pid)
	}
	w.Flush()
}
