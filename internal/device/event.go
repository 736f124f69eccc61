package device

// Adapter is the platform Bluetooth capability set consumed by the session.
//
// Every method is non-blocking: it either fails immediately (adapter not
// ready, unknown peripheral) or starts the operation and reports the outcome
// later on the Events channel. Events for one peripheral are delivered in the
// order the platform produced them.
type Adapter interface {
	// Events returns the stream of adapter, discovery, connection and value events.
	Events() <-chan Event

	// StartScan begins discovery. An empty filter means no service filter.
	StartScan(serviceFilter []string) error
	// StopScan halts discovery. Safe to call when not scanning.
	StopScan() error

	Connect(peripheralID string) error
	CancelConnection(peripheralID string) error

	// DiscoverServices discovers services; nil uuids means all services.
	DiscoverServices(peripheralID string, uuids []string) error
	// DiscoverCharacteristics discovers characteristics of a discovered service; nil uuids means all.
	DiscoverCharacteristics(peripheralID, serviceUUID string, uuids []string) error
	// Subscribe enables value-change notifications on a discovered characteristic.
	Subscribe(peripheralID, serviceUUID, charUUID string) error

	// Close releases the platform device. Events is closed afterwards.
	Close() error
}

// Event is a tagged union of everything an Adapter reports.
// Concrete types are the *Event structs below.
type Event interface {
	eventKind() string
}

// Kind returns a short name for logging.
func Kind(ev Event) string {
	if ev == nil {
		return "nil"
	}
	return ev.eventKind()
}

// AdapterStateChanged reports a radio power/authorization transition.
type AdapterStateChanged struct {
	State AdapterState
	Err   error
}

// PeripheralDiscovered reports an advertisement.
type PeripheralDiscovered struct {
	Peripheral  Peripheral
	RSSI        int
	Connectable bool
	Services    []string
}

// ScanStopped reports that the platform ended discovery on its own (error or timeout).
type ScanStopped struct {
	Err error
}

// Connected reports a successful connection.
type Connected struct {
	Peripheral Peripheral
}

// ConnectFailed reports a failed connection attempt.
type ConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// Disconnected reports the loss of an established connection.
// Err is nil for a clean disconnect.
type Disconnected struct {
	Peripheral Peripheral
	Err        error
}

// ServicesDiscovered carries the result of DiscoverServices.
type ServicesDiscovered struct {
	PeripheralID string
	Services     []string
	Err          error
}

// CharacteristicsDiscovered carries the result of DiscoverCharacteristics.
type CharacteristicsDiscovered struct {
	PeripheralID    string
	Service         string
	Characteristics []string
	Err             error
}

// NotificationStateChanged carries the result of Subscribe.
type NotificationStateChanged struct {
	PeripheralID   string
	Service        string
	Characteristic string
	Enabled        bool
	Err            error
}

// ValueUpdated carries a raw notification payload.
type ValueUpdated struct {
	PeripheralID   string
	Characteristic string
	Value          []byte
	Err            error
}

func (AdapterStateChanged) eventKind() string       { return "adapter_state" }
func (PeripheralDiscovered) eventKind() string      { return "discovered" }
func (ScanStopped) eventKind() string               { return "scan_stopped" }
func (Connected) eventKind() string                 { return "connected" }
func (ConnectFailed) eventKind() string             { return "connect_failed" }
func (Disconnected) eventKind() string              { return "disconnected" }
func (ServicesDiscovered) eventKind() string        { return "services" }
func (CharacteristicsDiscovered) eventKind() string { return "characteristics" }
func (NotificationStateChanged) eventKind() string  { return "notification_state" }
func (ValueUpdated) eventKind() string              { return "value" }
