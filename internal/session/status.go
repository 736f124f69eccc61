package session

import (
	"time"

	"github.com/srg/mallet/internal/device"
)

// Status is a point-in-time projection of the session, published on every
// user-visible transition or reported error.
type Status struct {
	Session    string
	State      ConnState
	Adapter    device.AdapterState
	Peripheral device.Peripheral
	Message    string
	Err        error
	At         time.Time
}

// Connected is the boolean projection the display shows.
func (s Status) Connected() bool {
	return s.State == Connected
}

// Line renders the status as a one-line activity entry.
func (s Status) Line() string {
	line := s.Message
	if s.Err != nil {
		if line == "" {
			return s.Err.Error()
		}
		line += ": " + s.Err.Error()
	}
	return line
}
