package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// =============================================================================
// Root Command
// =============================================================================

var (
	flagConfig      string
	flagFile        string
	flagProjectName string
	flagEnvFile     string
	flagLogLevel    string
	flagLogFormat   string
)

// cfg and logger are established by the root PersistentPreRunE before any
// subcommand runs.
var (
	cfg    *Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "apptainer-compose",
	Short: "Run docker-compose style multi-service stacks on Apptainer",
	Long: `apptainer-compose reads a compose file, translates Dockerfile build
instructions into Apptainer definition files, and drives the apptainer
binary to build, start, stop and inspect the resulting service instances
in dependency order.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default is ./apptainer-compose.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagFile, "file", "f", "", "compose file (default is ./compose.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagProjectName, "project-name", "p", "", "project name (default is the project directory name)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "env file for variable interpolation (default is ./.env)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text, json")
}

// initRoot loads configuration and builds the logger shared by every
// subcommand. A per-invocation run ID ties log lines of one invocation
// together.
func initRoot(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = LoadConfig(flagConfig)
	if err != nil {
		return err
	}

	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}

	logger = SetupLogger(cfg).With("run", uuid.New().String())
	return nil
}

// signalContext returns a context canceled by SIGINT or SIGTERM, so a user
// interrupt triggers the orchestrator's reverse-order teardown.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
