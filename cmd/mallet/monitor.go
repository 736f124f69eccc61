package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mallet/internal/display"
	"github.com/srg/mallet/internal/session"
)

// newMonitorCmd builds the monitor command.
func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Connect to the mallet and chart its telemetry",
		Long: `Scans for the mallet, connects and charts X/Y/Z acceleration and force.

With the auto policy (default) the first peripheral advertising the target
name is connected. With --policy manual the discovered peripherals are listed
and you pick one by typing its index and pressing Enter, or pass --select.

--source fake charts generated data only, --source mixed charts generated
data and live values together.`,
		Example: `  mallet monitor
  mallet monitor --policy manual
  mallet monitor --select AA:BB:CC:DD:EE:FF --format json --duration 30s
  mallet monitor --source mixed --window 100`,
		Args: cobra.NoArgs,
		RunE: runMonitor,
	}

	cmd.Flags().String("target", "", "Advertised name to connect to automatically")
	cmd.Flags().String("policy", "", "Connection policy (auto, manual)")
	cmd.Flags().String("source", "", "Telemetry source (ble, fake, mixed)")
	cmd.Flags().Int("window", 0, "Points kept per chart")
	cmd.Flags().StringP("format", "f", "", "Output format (text, json)")
	cmd.Flags().Duration("refresh", 0, "Dashboard refresh interval")
	cmd.Flags().Duration("interval", 0, "Generated sample interval (fake and mixed sources)")
	cmd.Flags().Duration("connect-timeout", 0, "Connection attempt timeout")
	cmd.Flags().String("select", "", "Peripheral ID to connect to once discovered")
	cmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	return cmd
}

const selectPollInterval = 100 * time.Millisecond

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	renderer, err := display.NewRenderer(cfg.OutputFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	opts, err := cfg.ViewOptions(logger)
	if err != nil {
		return err
	}
	opts.Renderer = renderer
	if opts.Source != display.SourceFake {
		opts.OpenAdapter = openAdapter(cfg, logger)
	}

	selectID, _ := cmd.Flags().GetString("select")
	duration, _ := cmd.Flags().GetDuration("duration")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	view := display.NewView(opts)
	if err := view.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = view.Stop() }()

	if opts.Source == display.SourceFake {
		<-ctx.Done()
		return view.Stop()
	}
	if err := view.Connect(); err != nil {
		return err
	}

	switch {
	case selectID != "":
		go func() {
			if err := selectWhenDiscovered(ctx, view, selectID); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Selection failed")
			}
		}()
	case opts.Session.Policy == session.PolicyManual:
		go readSelections(ctx, cmd.InOrStdin(), view, logger)
	}

	<-ctx.Done()
	return view.Stop()
}

// selectWhenDiscovered connects to id once the adapter is powered on. With the
// manual policy it also waits for id to show up in the candidate list.
func selectWhenDiscovered(ctx context.Context, view *display.View, id string) error {
	ticker := time.NewTicker(selectPollInterval)
	defer ticker.Stop()

	for {
		if sess := view.Session(); sess != nil && sess.AdapterState().Available() {
			if sess.Policy() != session.PolicyManual {
				return view.Select(id)
			}
			for _, c := range sess.Candidates() {
				if strings.EqualFold(c.ID, id) {
					return view.Select(c.ID)
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// readSelections connects to the candidate whose index is typed on in.
// Blank lines restart the scan.
func readSelections(ctx context.Context, in io.Reader, view *display.View, logger *logrus.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if err := view.Connect(); err != nil {
				logger.WithError(err).Warn("Rescan failed")
			}
			continue
		}
		if err := selectIndex(view, line); err != nil {
			logger.WithError(err).Warn("Selection failed")
		}
	}
}

func selectIndex(view *display.View, input string) error {
	i, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("invalid selection %q: enter the peripheral index", input)
	}
	if err := view.SelectIndex(i); err != nil {
		if errors.Is(err, display.ErrViewStopped) {
			return nil
		}
		return err
	}
	return nil
}
