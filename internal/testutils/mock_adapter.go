package testutils

import (
	"sync"

	"github.com/srg/mallet/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify mock of device.Adapter with a scriptable event stream.
//
// Expectations are registered as usual; AllowAll registers permissive ones:
//
//	a := testutils.NewMockAdapter().AllowAll()
//	a.Emit(device.AdapterStateChanged{State: device.AdapterPoweredOn})
//	a.AssertNumberOfCalls(t, "Connect", 1)
type MockAdapter struct {
	mock.Mock

	events    chan device.Event
	closeOnce sync.Once
}

// NewMockAdapter creates a mock whose event channel buffers 256 events.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{events: make(chan device.Event, 256)}
}

// AllowAll accepts any call to any method and returns nil.
func (m *MockAdapter) AllowAll() *MockAdapter {
	m.On("StartScan", mock.Anything).Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything).Return(nil).Maybe()
	m.On("CancelConnection", mock.Anything).Return(nil).Maybe()
	m.On("DiscoverServices", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

// Emit queues an event for Events readers.
func (m *MockAdapter) Emit(ev device.Event) {
	m.events <- ev
}

// CloseEvents closes the event stream. Idempotent.
func (m *MockAdapter) CloseEvents() {
	m.closeOnce.Do(func() { close(m.events) })
}

// CallsTo returns the recorded calls of one method, in order.
func (m *MockAdapter) CallsTo(method string) []mock.Call {
	var out []mock.Call
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockAdapter) Events() <-chan device.Event {
	return m.events
}

func (m *MockAdapter) StartScan(serviceFilter []string) error {
	return m.Called(serviceFilter).Error(0)
}

func (m *MockAdapter) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockAdapter) Connect(peripheralID string) error {
	return m.Called(peripheralID).Error(0)
}

func (m *MockAdapter) CancelConnection(peripheralID string) error {
	return m.Called(peripheralID).Error(0)
}

func (m *MockAdapter) DiscoverServices(peripheralID string, uuids []string) error {
	return m.Called(peripheralID, uuids).Error(0)
}

func (m *MockAdapter) DiscoverCharacteristics(peripheralID, serviceUUID string, uuids []string) error {
	return m.Called(peripheralID, serviceUUID, uuids).Error(0)
}

func (m *MockAdapter) Subscribe(peripheralID, serviceUUID, charUUID string) error {
	return m.Called(peripheralID, serviceUUID, charUUID).Error(0)
}

func (m *MockAdapter) Close() error {
	err := m.Called().Error(0)
	m.CloseEvents()
	return err
}

var _ device.Adapter = (*MockAdapter)(nil)
