package main

import (
	"errors"
	"fmt"

	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/display"
)

// FormatUserError turns the error taxonomy into a message with a next step.
// Unknown errors are returned as-is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var adapterErr *device.AdapterError
	if errors.As(err, &adapterErr) {
		switch adapterErr.State {
		case device.AdapterPoweredOff:
			return "Bluetooth is turned off. Turn it on and run the command again."
		case device.AdapterUnauthorized:
			return "Bluetooth access was denied. Allow this terminal to use Bluetooth in the system settings."
		case device.AdapterUnsupported:
			return fmt.Sprintf("Bluetooth LE is not available on this machine (%v). Use 'mallet simulate' to run without hardware.", adapterErr)
		}
		return adapterErr.Error()
	}

	var notFound *device.NotFoundError
	if errors.As(err, &notFound) && notFound.Resource == "peripheral" {
		return fmt.Sprintf("%v. Run 'mallet scan' to list nearby peripherals.", notFound)
	}

	switch {
	case errors.Is(err, device.ErrReconnectExhausted):
		return "The mallet stayed out of reach and reconnecting gave up. Check that it is powered and nearby."
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("Timed out: %v", err)
	case errors.Is(err, display.ErrNoSession):
		return "This command needs a Bluetooth session; the fake source has none."
	}

	return err.Error()
}
