//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates the platform ble.Device (overridable in tests).
// It opens the first HCI controller and needs CAP_NET_ADMIN.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}
