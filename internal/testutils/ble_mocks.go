package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockBLEDevice is a testify mock of ble.Device covering the calls the
// go-ble adapter makes. Unused ble.Device methods panic.
type MockBLEDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockBLEDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockBLEDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockBLEDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// ScanUntilCancelled makes Scan replay advs to the handler and then block
// until the scan context ends, like a real radio.
func (m *MockBLEDevice) ScanUntilCancelled(advs ...ble.Advertisement) *mock.Call {
	return m.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		h := args.Get(2).(ble.AdvHandler)
		for _, adv := range advs {
			h(adv)
		}
		<-ctx.Done()
	}).Return(context.Canceled)
}

// MockBLEClient is a testify mock of ble.Client. Disconnected is backed by a
// channel closed through Drop.
type MockBLEClient struct {
	ble.Client
	mock.Mock

	once sync.Once
	lost chan struct{}

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
}

func NewMockBLEClient() *MockBLEClient {
	return &MockBLEClient{
		lost:     make(chan struct{}),
		handlers: make(map[string]ble.NotificationHandler),
	}
}

func (m *MockBLEClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *MockBLEClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockBLEClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	ds, _ := args.Get(0).([]*ble.Descriptor)
	return ds, args.Error(1)
}

// Subscribe records the handler so tests can push notifications with Notify.
func (m *MockBLEClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[c.UUID.String()] = h
	m.mu.Unlock()
	return nil
}

func (m *MockBLEClient) CancelConnection() error {
	args := m.Called()
	m.Drop()
	return args.Error(0)
}

func (m *MockBLEClient) Disconnected() <-chan struct{} {
	return m.lost
}

// Drop simulates link loss. Idempotent.
func (m *MockBLEClient) Drop() {
	m.once.Do(func() { close(m.lost) })
}

// Notify invokes the subscribed handler for the characteristic and reports
// whether one was registered.
func (m *MockBLEClient) Notify(char ble.UUID, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[char.String()]
	m.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// FakeAdvertisement is a fixed ble.Advertisement.
type FakeAdvertisement struct {
	ble.Advertisement

	Name          string
	Address       string
	Signal        int
	IsConnectable bool
	ServiceUUIDs  []ble.UUID
}

func (a *FakeAdvertisement) LocalName() string    { return a.Name }
func (a *FakeAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.Address) }
func (a *FakeAdvertisement) RSSI() int            { return a.Signal }
func (a *FakeAdvertisement) Connectable() bool    { return a.IsConnectable }
func (a *FakeAdvertisement) Services() []ble.UUID { return a.ServiceUUIDs }
