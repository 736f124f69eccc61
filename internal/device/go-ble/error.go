package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/mallet/internal/device"
)

// NormalizeError maps go-ble, CoreBluetooth and HCI error strings onto the
// device error taxonomy. The original error stays wrapped.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}

	if state, ok := adapterStateFromError(err); ok {
		return &device.AdapterError{State: state, Err: err}
	}

	if containsIgnoreCase(err.Error(), "disconnected") {
		return fmt.Errorf("%w: %w", device.ErrNotConnected, err)
	}
	return device.NormalizeError(err)
}

// adapterStateFromError recognizes radio-level failures, typically returned by
// DeviceFactory or by Scan when the radio goes away.
func adapterStateFromError(err error) (device.AdapterState, bool) {
	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?",
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "have=4"),
		containsIgnoreCase(msg, "is bluetooth turned on"):
		return device.AdapterPoweredOff, true
	case containsIgnoreCase(msg, "have=3"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "operation not permitted"):
		return device.AdapterUnauthorized, true
	case containsIgnoreCase(msg, "have=2"),
		containsIgnoreCase(msg, "unsupported"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "can't init hci"):
		return device.AdapterUnsupported, true
	default:
		return "", false
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
