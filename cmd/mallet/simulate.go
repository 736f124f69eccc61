package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/mallet/internal/display"
)

// newSimulateCmd builds the simulate command.
func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Chart generated telemetry without Bluetooth",
		Long: `Runs the dashboard on generated X/Y/Z samples. No adapter is opened, so it
works on machines without Bluetooth.`,
		Example: `  mallet simulate
  mallet simulate --interval 200ms --window 100
  mallet simulate --format json --duration 5s`,
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}

	cmd.Flags().Int("window", 0, "Points kept per chart")
	cmd.Flags().Duration("interval", 0, "Generated sample interval")
	cmd.Flags().Duration("refresh", 0, "Dashboard refresh interval")
	cmd.Flags().StringP("format", "f", "", "Output format (text, json)")
	cmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	cfg.Source = string(display.SourceFake)

	renderer, err := display.NewRenderer(cfg.OutputFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	opts, err := cfg.ViewOptions(logger)
	if err != nil {
		return err
	}
	opts.Renderer = renderer

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration, _ := cmd.Flags().GetDuration("duration"); duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	view := display.NewView(opts)
	if err := view.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return view.Stop()
}
