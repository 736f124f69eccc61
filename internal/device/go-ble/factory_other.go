//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/mallet/internal/device"
)

// DeviceFactory creates the platform ble.Device (overridable in tests).
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("%w: bluetooth on %s", device.ErrUnsupported, runtime.GOOS)
}
