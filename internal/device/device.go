package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected       ConnectionState = "not_connected"
	AlreadyConnected   ConnectionState = "already_connected"
	NotInitialized     ConnectionState = "not_initialized"
	ConnectFailedState ConnectionState = "connect_failed"
	ReconnectExhausted ConnectionState = "reconnect_exhausted"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected       = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected   = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized     = &ConnectionError{State: NotInitialized}
	ErrConnectFailed      = &ConnectionError{State: ConnectFailedState}
	ErrReconnectExhausted = &ConnectionError{State: ReconnectExhausted}
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// AdapterState is the power/authorization state reported by the platform radio.
type AdapterState string

const (
	AdapterUnknown      AdapterState = "unknown"
	AdapterPoweredOn    AdapterState = "powered_on"
	AdapterPoweredOff   AdapterState = "powered_off"
	AdapterUnauthorized AdapterState = "unauthorized"
	AdapterUnsupported  AdapterState = "unsupported"
)

// Available reports whether the adapter can scan and connect.
func (s AdapterState) Available() bool {
	return s == AdapterPoweredOn
}

// ErrAdapterUnavailable matches every AdapterError regardless of state.
var ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

// AdapterError reports that the radio is powered off, unauthorized or unsupported.
// It stays in effect until the adapter reports AdapterPoweredOn again.
type AdapterError struct {
	State AdapterState
	Err   error
}

func (e *AdapterError) Error() string {
	var msg string
	switch e.State {
	case AdapterPoweredOff:
		msg = "bluetooth is powered off"
	case AdapterUnauthorized:
		msg = "bluetooth access is unauthorized"
	case AdapterUnsupported:
		msg = "bluetooth low energy is unsupported on this device"
	default:
		msg = fmt.Sprintf("bluetooth adapter is in state %s", e.State)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is matches ErrAdapterUnavailable, ErrBluetoothOff for the powered-off state,
// and other AdapterError values with the same state.
func (e *AdapterError) Is(target error) bool {
	if target == ErrAdapterUnavailable {
		return true
	}
	if target == ErrBluetoothOff {
		return e.State == AdapterPoweredOff
	}
	t, ok := target.(*AdapterError)
	return ok && t.State == e.State
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ErrBluetoothOff is returned when the radio is switched off.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// DiscoveryError reports a failed service, characteristic or notification step.
// It aborts only that step; the connection stays open.
type DiscoveryError struct {
	Resource string // "service", "characteristic", "notification"
	UUIDs    []string
	Err      error
}

func (e *DiscoveryError) Error() string {
	target := e.Resource
	if len(e.UUIDs) > 0 {
		target = fmt.Sprintf("%s %s", e.Resource, strings.Join(e.UUIDs, ","))
	}
	if e.Err == nil {
		return fmt.Sprintf("%s discovery failed", target)
	}
	return fmt.Sprintf("%s discovery failed: %v", target, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// NormalizeError maps known error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %w", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Peripheral is the identity of a discovered remote device.
type Peripheral struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the advertised name, falling back to the identifier.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

func (p Peripheral) String() string {
	if p.Name == "" {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

// Candidate is a peripheral offered for manual selection.
type Candidate struct {
	Peripheral
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}
