package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the base command with every subcommand attached.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mallet",
		Short: "Live telemetry monitor for the TechPolo mallet",
		Long: `Terminal monitor for the TechPolo mallet BLE sensor:

- Scan for nearby peripherals and list them
- Connect to the mallet (by name, or by a peripheral you pick) and chart
  X/Y/Z acceleration and force in a rolling window
- Reconnect automatically with bounded backoff when the link drops
- Simulate the sensor with generated data when no hardware is around

Settings come from an optional YAML file (--config); flags override it.`,
		Version: formatVersion(version),
		// main() prints clean errors; silence Cobra's "Error:" prefix
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("mallet %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")

	root.AddCommand(newMonitorCmd(), newScanCmd(), newSimulateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
