package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mallet/internal/device"
	goble "github.com/srg/mallet/internal/device/go-ble"
	"github.com/srg/mallet/internal/display"
	"github.com/srg/mallet/pkg/config"
)

// openAdapter builds the platform adapter for a view run (overridable in tests).
var openAdapter = func(cfg *config.Config, logger *logrus.Logger) display.AdapterOpener {
	return func(ctx context.Context) (device.Adapter, error) {
		return goble.Open(ctx, &goble.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         logger,
		}), nil
	}
}

// loadSettings reads --config, applies the flags the user set explicitly,
// validates the result and builds the logger.
func loadSettings(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := configureLogger(cmd, "verbose", cfg.Level())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	set := func(name string, apply func() error) {
		if err != nil || flags.Lookup(name) == nil || !flags.Changed(name) {
			return
		}
		if aerr := apply(); aerr != nil {
			err = fmt.Errorf("--%s: %w", name, aerr)
		}
	}

	set("target", func() (e error) { cfg.TargetName, e = flags.GetString("target"); return })
	set("policy", func() (e error) { cfg.Policy, e = flags.GetString("policy"); return })
	set("source", func() (e error) { cfg.Source, e = flags.GetString("source"); return })
	set("format", func() (e error) { cfg.OutputFormat, e = flags.GetString("format"); return })
	set("window", func() (e error) { cfg.Window, e = flags.GetInt("window"); return })
	set("interval", func() (e error) { cfg.GeneratorInterval, e = flags.GetDuration("interval"); return })
	set("refresh", func() (e error) { cfg.RefreshInterval, e = flags.GetDuration("refresh"); return })
	set("connect-timeout", func() (e error) { cfg.ConnectTimeout, e = flags.GetDuration("connect-timeout"); return })

	return err
}
