package session

import (
	"fmt"
	"strings"
)

// ConnState is the connection sub-state machine.
type ConnState int

const (
	Idle ConnState = iota
	Scanning
	Connecting
	Connected
	// Reconnecting is "disconnected, reconnect pending or in flight".
	Reconnecting
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy selects how discovered peripherals are handled. A session uses exactly one.
type Policy string

const (
	// PolicyAuto connects to the first peripheral whose advertised name matches the target exactly.
	PolicyAuto Policy = "auto"
	// PolicyManual collects candidates, deduplicated by ID, until Connect selects one.
	PolicyManual Policy = "manual"
)

// ParsePolicy accepts "auto" and "manual" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyAuto:
		return PolicyAuto, nil
	case PolicyManual:
		return PolicyManual, nil
	default:
		return "", fmt.Errorf("invalid policy %q: use auto or manual", s)
	}
}
