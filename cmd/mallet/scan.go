package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/display"
	"github.com/srg/mallet/internal/session"
)

// newScanCmd builds the scan command.
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby BLE peripherals",
		Long: `Scans for the given duration and lists every peripheral seen, sorted by
name. The IDs can be passed to 'mallet monitor --select'.`,
		Example: `  mallet scan
  mallet scan --duration 5s --format json`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (defaults to scan_duration from the config, 10s)")
	cmd.Flags().StringP("format", "f", "", "Output format (text, json)")
	cmd.Flags().Duration("connect-timeout", 0, "Connection attempt timeout")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		cfg.ScanDuration = d
	}
	if cfg.ScanDuration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", cfg.ScanDuration)
	}
	cmd.SilenceUsage = true

	opts, err := cfg.ViewOptions(logger)
	if err != nil {
		return err
	}
	opts.Source = display.SourceBLE
	opts.Session.Policy = session.PolicyManual
	opts.OpenAdapter = openAdapter(cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := display.NewView(opts)
	if err := view.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = view.Stop() }()

	if err := view.Connect(); err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for peripherals", "remaining", cfg.ScanDuration)
	progress.Start()
	wait(ctx, cfg.ScanDuration)
	progress.Stop()

	sess := view.Session()
	candidates := sess.Candidates()
	adapterState := sess.AdapterState()
	if err := view.Stop(); err != nil {
		logger.WithError(err).Debug("Adapter close failed")
	}

	if len(candidates) == 0 && adapterState != device.AdapterUnknown && !adapterState.Available() {
		return &device.AdapterError{State: adapterState}
	}

	if cfg.OutputFormat == "json" {
		return writeCandidatesJSON(cmd.OutOrStdout(), candidates)
	}
	return writeCandidatesTable(cmd.OutOrStdout(), candidates, time.Now())
}

// wait returns after d or when ctx ends, whichever comes first.
func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func writeCandidatesTable(out io.Writer, candidates []device.Candidate, now time.Time) error {
	if len(candidates) == 0 {
		_, err := fmt.Fprintln(out, "No peripherals found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tID\tRSSI\tLAST SEEN")
	for i, c := range candidates {
		name := c.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		lastSeen := now.Sub(c.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%d\t%s\t%s\t%d dBm\t%s ago\n", i, name, c.ID, c.RSSI, lastSeen)
	}
	return w.Flush()
}

func writeCandidatesJSON(out io.Writer, candidates []device.Candidate) error {
	if candidates == nil {
		candidates = []device.Candidate{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(candidates)
}
