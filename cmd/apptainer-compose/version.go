package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Version Command
// =============================================================================

var flagVersionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the apptainer-compose version and the container runtime version.`,
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&flagVersionShort, "short", "s", false, "show only the version number")
}

func runVersion(cmd *cobra.Command, args []string) error {
	if flagVersionShort {
		fmt.Println(Version)
		return nil
	}

	fmt.Printf("apptainer-compose %s (built %s)\n", Version, BuildTime)

	rt := newRuntime()
	if err := rt.Available(); err != nil {
		fmt.Printf("runtime: %s (not found on PATH)\n", rt.Binary())
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if v, err := rt.Version(ctx); err == nil {
		fmt.Printf("runtime: %s %s\n", rt.Binary(), v)
	}
	return nil
}
