package goble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAddr    = "aa:bb:cc:dd:ee:ff"
	testService = "19b10000-0000-0000-0000-000000000001"
	testForce   = "19b10000-0000-0000-0000-000000000005"
)

// withDevice swaps DeviceFactory for the duration of the test.
func withDevice(t *testing.T, dev ble.Device, err error) {
	t.Helper()
	orig := DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return dev, err }
	t.Cleanup(func() { DeviceFactory = orig })
}

func openAdapter(t *testing.T) *Adapter {
	t.Helper()
	h := testutils.NewTestHelper(t)
	a := Open(context.Background(), &Options{ConnectTimeout: time.Second, Logger: h.Logger})
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func nextEvent[T device.Event](t *testing.T, a *Adapter) T {
	t.Helper()
	select {
	case ev, ok := <-a.Events():
		require.True(t, ok, "event stream closed")
		typed, ok := ev.(T)
		require.Truef(t, ok, "unexpected event %s: %#v", device.Kind(ev), ev)
		return typed
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %s", device.Kind(zero))
		return zero
	}
}

func newDevice() *testutils.MockBLEDevice {
	dev := &testutils.MockBLEDevice{}
	dev.On("Stop").Return(nil).Maybe()
	return dev
}

func TestOpen_FactoryFailureReportsAdapterState(t *testing.T) {
	withDevice(t, nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	a := openAdapter(t)

	ev := nextEvent[device.AdapterStateChanged](t, a)
	assert.Equal(t, device.AdapterPoweredOff, ev.State)
	require.Error(t, ev.Err)

	err := a.StartScan(nil)
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable)
	assert.ErrorIs(t, a.Connect(testAddr), device.ErrAdapterUnavailable)
	assert.NoError(t, a.StopScan())
}

func TestOpen_ReportsPoweredOn(t *testing.T) {
	withDevice(t, newDevice(), nil)
	a := openAdapter(t)

	ev := nextEvent[device.AdapterStateChanged](t, a)
	assert.Equal(t, device.AdapterPoweredOn, ev.State)
	assert.NoError(t, ev.Err)
}

func TestScan_FiltersByServiceAndStopsQuietly(t *testing.T) {
	dev := newDevice()
	dev.ScanUntilCancelled(
		&testutils.FakeAdvertisement{Name: "Other", Address: "11:22:33:44:55:66", Signal: -80,
			ServiceUUIDs: []ble.UUID{ble.UUID16(0x180f)}},
		&testutils.FakeAdvertisement{Name: "TechPolo_Mallet", Address: testAddr, Signal: -42, IsConnectable: true,
			ServiceUUIDs: []ble.UUID{ble.MustParse(testService)}},
	)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.StartScan([]string{testService}))

	found := nextEvent[device.PeripheralDiscovered](t, a)
	assert.Equal(t, testAddr, found.Peripheral.ID)
	assert.Equal(t, "TechPolo_Mallet", found.Peripheral.Name)
	assert.Equal(t, -42, found.RSSI)
	assert.True(t, found.Connectable)
	assert.Equal(t, []string{device.NormalizeUUID(testService)}, found.Services)

	require.NoError(t, a.StopScan())
	require.NoError(t, a.StopScan())

	select {
	case ev := <-a.Events():
		t.Fatalf("no event expected after a requested stop, got %s", device.Kind(ev))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScan_RestartReplacesRunningScan(t *testing.T) {
	dev := newDevice()
	dev.ScanUntilCancelled()
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.StartScan(nil))
	require.NoError(t, a.StartScan(nil))
	require.NoError(t, a.StopScan())

	dev.AssertNumberOfCalls(t, "Scan", 2)
}

func TestScan_UnexpectedEndReportsScanStopped(t *testing.T) {
	dev := newDevice()
	dev.On("Scan", mock.Anything, true, mock.Anything).Return(errors.New("hci: bluetooth is turned off"))
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.StartScan(nil))

	ev := nextEvent[device.ScanStopped](t, a)
	var aerr *device.AdapterError
	require.ErrorAs(t, ev.Err, &aerr)
	assert.Equal(t, device.AdapterPoweredOff, aerr.State)
}

func TestConnect_FullNotificationFlow(t *testing.T) {
	svc := &ble.Service{UUID: ble.MustParse(testService)}
	force := &ble.Characteristic{UUID: ble.MustParse(testForce), Property: ble.CharNotify}

	client := testutils.NewMockBLEClient()
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{force}, nil)
	client.On("DiscoverDescriptors", mock.Anything, force).Return(nil, nil)
	client.On("Subscribe", force, false, mock.Anything).Return(nil)
	client.On("CancelConnection").Return(nil).Maybe()

	dev := newDevice()
	dev.On("Dial", mock.Anything, ble.NewAddr(testAddr)).Return(client, nil)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.Connect(testAddr))
	connected := nextEvent[device.Connected](t, a)
	assert.Equal(t, testAddr, connected.Peripheral.ID)
	assert.ErrorIs(t, a.Connect(testAddr), device.ErrAlreadyConnected)

	require.NoError(t, a.DiscoverServices(testAddr, []string{testService}))
	services := nextEvent[device.ServicesDiscovered](t, a)
	require.NoError(t, services.Err)
	assert.Equal(t, []string{device.NormalizeUUID(testService)}, services.Services)

	require.NoError(t, a.DiscoverCharacteristics(testAddr, testService, nil))
	chars := nextEvent[device.CharacteristicsDiscovered](t, a)
	require.NoError(t, chars.Err)
	assert.Equal(t, []string{device.NormalizeUUID(testForce)}, chars.Characteristics)

	require.NoError(t, a.Subscribe(testAddr, testService, testForce))
	state := nextEvent[device.NotificationStateChanged](t, a)
	assert.True(t, state.Enabled)
	assert.NoError(t, state.Err)

	payload := []byte{0x00, 0x00, 0xbc, 0x41}
	require.True(t, client.Notify(force.UUID, payload))
	payload[0] = 0xff // the adapter must have copied the buffer

	value := nextEvent[device.ValueUpdated](t, a)
	assert.Equal(t, testAddr, value.PeripheralID)
	assert.Equal(t, device.NormalizeUUID(testForce), value.Characteristic)
	assert.Equal(t, []byte{0x00, 0x00, 0xbc, 0x41}, value.Value)

	client.Drop()
	lost := nextEvent[device.Disconnected](t, a)
	assert.Equal(t, testAddr, lost.Peripheral.ID)
	assert.ErrorIs(t, a.Subscribe(testAddr, testService, testForce), device.ErrNotConnected)
}

func TestConnect_DialFailureReportsConnectFailed(t *testing.T) {
	dev := newDevice()
	dev.On("Dial", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.Connect(testAddr))
	failed := nextEvent[device.ConnectFailed](t, a)
	assert.Equal(t, testAddr, failed.Peripheral.ID)
	assert.ErrorIs(t, failed.Err, device.ErrTimeout)

	// a failed dial leaves nothing behind
	assert.ErrorIs(t, a.CancelConnection(testAddr), device.ErrNotConnected)
}

func TestCancelConnection_AbortsDial(t *testing.T) {
	dev := newDevice()
	dev.On("Dial", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.Connect(testAddr))
	require.Eventually(t, func() bool {
		return a.CancelConnection(testAddr) == nil
	}, time.Second, 5*time.Millisecond)

	failed := nextEvent[device.ConnectFailed](t, a)
	assert.ErrorIs(t, failed.Err, context.Canceled)
}

func TestCancelConnection_DisconnectsPeer(t *testing.T) {
	client := testutils.NewMockBLEClient()
	client.On("CancelConnection").Return(nil)

	dev := newDevice()
	dev.On("Dial", mock.Anything, mock.Anything).Return(client, nil)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	require.NoError(t, a.Connect(testAddr))
	nextEvent[device.Connected](t, a)

	require.NoError(t, a.CancelConnection(testAddr))
	lost := nextEvent[device.Disconnected](t, a)
	assert.NoError(t, lost.Err)

	// exactly one Disconnected per connection
	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected %s", device.Kind(ev))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOperations_RequireKnownPeerAndObjects(t *testing.T) {
	client := testutils.NewMockBLEClient()
	client.On("CancelConnection").Return(nil).Maybe()

	dev := newDevice()
	dev.On("Dial", mock.Anything, mock.Anything).Return(client, nil)
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)

	assert.ErrorIs(t, a.DiscoverServices(testAddr, nil), device.ErrNotConnected)

	require.NoError(t, a.Connect(testAddr))
	nextEvent[device.Connected](t, a)

	var nf *device.NotFoundError
	require.ErrorAs(t, a.DiscoverCharacteristics(testAddr, testService, nil), &nf)
	assert.Equal(t, "service", nf.Resource)

	require.ErrorAs(t, a.Subscribe(testAddr, testService, testForce), &nf)
	assert.Equal(t, "characteristic", nf.Resource)

	assert.Error(t, a.DiscoverServices(testAddr, []string{"not-a-uuid"}))
}

func TestClose_ClosesEventsAndIsIdempotent(t *testing.T) {
	dev := newDevice()
	dev.ScanUntilCancelled()
	withDevice(t, dev, nil)
	a := openAdapter(t)
	nextEvent[device.AdapterStateChanged](t, a)
	require.NoError(t, a.StartScan(nil))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, ok := <-a.Events()
	assert.False(t, ok)
	dev.AssertNumberOfCalls(t, "Stop", 1)
	assert.ErrorIs(t, a.StartScan(nil), device.ErrNotInitialized)
}

func TestClose_LogsDroppedEvents(t *testing.T) {
	dev := newDevice()
	dev.ScanUntilCancelled(
		&testutils.FakeAdvertisement{Name: "A", Address: "11:22:33:44:55:01", Signal: -40},
		&testutils.FakeAdvertisement{Name: "B", Address: "11:22:33:44:55:02", Signal: -50},
	)
	withDevice(t, dev, nil)

	var logs bytes.Buffer
	// the initial AdapterStateChanged fills the single slot
	a := Open(context.Background(), &Options{EventBuffer: 1, Logger: testutils.CaptureLogger(&logs, logrus.WarnLevel)})
	require.NoError(t, a.StartScan(nil))
	require.Eventually(t, func() bool { return a.droppedEvents() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, a.Close())
	assert.Contains(t, logs.String(), "Events were dropped while the buffer was full")
	assert.Contains(t, logs.String(), "dropped=2")
}
