package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/display"
	"github.com/srg/mallet/internal/testutils"
	"github.com/srg/mallet/pkg/config"
)

// executeCommand runs a fresh root command with args and returns stdout and stderr separately.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// withMockAdapter makes commands open adapter instead of the platform radio.
// The adapter reports state first, as the platform adapter does on open.
func withMockAdapter(t *testing.T, adapter *testutils.MockAdapter, state device.AdapterState) {
	t.Helper()
	orig := openAdapter
	openAdapter = func(*config.Config, *logrus.Logger) display.AdapterOpener {
		return func(context.Context) (device.Adapter, error) {
			adapter.Emit(device.AdapterStateChanged{State: state})
			return adapter, nil
		}
	}
	t.Cleanup(func() { openAdapter = orig })
}
