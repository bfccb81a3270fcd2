package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
)

// =============================================================================
// Logs Command
// =============================================================================

var flagLogsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs [SERVICE...]",
	Short: "Show instance log output",
	Long: `Print the stdout and stderr log files the runtime keeps for each
running instance, every line prefixed with its service name. With no
arguments all services are shown.`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVar(&flagLogsFollow, "follow", false, "keep streaming appended log output")
}

func runLogs(cmd *cobra.Command, args []string) error {
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

	err = orch.Logs(ctx, p.Doc, orchestrator.LogOptions{
		Services: args,
		Follow:   flagLogsFollow,
		Out:      os.Stdout,
	})
	// Interrupting a follow is the normal way to leave it.
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
