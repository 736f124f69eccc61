// Package goble implements device.Adapter on top of github.com/go-ble/ble.
//
// go-ble operations block; every Adapter method starts the operation on a
// named goroutine and reports the outcome on the Events channel, so callers
// never block on the radio.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/groutine"
)

const (
	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 256

	// DefaultConnectTimeout bounds a single Dial.
	DefaultConnectTimeout = 30 * time.Second
)

// Options configures an Adapter.
type Options struct {
	ConnectTimeout time.Duration
	EventBuffer    int
	Logger         *logrus.Logger
}

// Adapter is a device.Adapter backed by a go-ble device.
type Adapter struct {
	dev            ble.Device
	unavailable    *device.AdapterError
	logger         *logrus.Logger
	connectTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sendMu guards events against send-after-close
	sendMu sync.RWMutex
	events    chan device.Event
	closed    bool
	closeOnce sync.Once

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	dialing    map[string]context.CancelFunc
	peers      map[string]*peer

	dropped int64
}

// peer is a live connection and the GATT objects discovered on it.
type peer struct {
	id       string
	client   ble.Client
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic // key: service/char, normalized
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

func charKey(service, char string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(char)
}

// Open creates the platform device through DeviceFactory and reports the
// resulting adapter state as the first event. A factory failure does not fail
// Open: the adapter reports the matching unavailable state and every operation
// returns an AdapterError.
func Open(ctx context.Context, opts *Options) *Adapter {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	actx, cancel := context.WithCancel(ctx)
	a := &Adapter{
		logger:         logger,
		connectTimeout: timeout,
		ctx:            actx,
		cancel:         cancel,
		events:         make(chan device.Event, buffer),
		dialing:        make(map[string]context.CancelFunc),
		peers:          make(map[string]*peer),
	}

	dev, err := DeviceFactory()
	if err != nil {
		state, ok := adapterStateFromError(err)
		if !ok {
			state = device.AdapterUnsupported
		}
		logger.WithError(err).WithField("state", state).Error("Failed to create BLE device")
		a.unavailable = &device.AdapterError{State: state, Err: err}
		a.emit(device.AdapterStateChanged{State: state, Err: err})
		return a
	}

	a.dev = dev
	logger.Debug("BLE device created")
	a.emit(device.AdapterStateChanged{State: device.AdapterPoweredOn})
	return a
}

func (a *Adapter) Events() <-chan device.Event {
	return a.events
}

// droppedEvents returns the number of notifications and advertisements
// discarded because the event buffer was full.
func (a *Adapter) droppedEvents() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// emit delivers a lifecycle event, waiting for buffer space until the adapter closes.
func (a *Adapter) emit(ev device.Event) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// tryEmit delivers a high-rate event (advertisement, notification) or drops it.
func (a *Adapter) tryEmit(ev device.Event) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		a.logger.WithField("event", device.Kind(ev)).Debug("Event buffer full, dropping")
	}
}

func (a *Adapter) goTracked(name string, fn func(ctx context.Context)) <-chan struct{} {
	a.wg.Add(1)
	return groutine.GoDone(a.ctx, name, func(ctx context.Context) {
		defer a.wg.Done()
		fn(ctx)
	})
}

func (a *Adapter) ready() error {
	if a.ctx.Err() != nil {
		return fmt.Errorf("%w: adapter closed", device.ErrNotInitialized)
	}
	if a.unavailable != nil {
		return a.unavailable
	}
	return nil
}

// StartScan starts discovery, restarting any scan already running.
func (a *Adapter) StartScan(serviceFilter []string) error {
	if err := a.ready(); err != nil {
		return err
	}
	filter := make(map[string]bool, len(serviceFilter))
	for _, u := range serviceFilter {
		filter[device.NormalizeUUID(u)] = true
	}

	a.stopScan()

	a.mu.Lock()
	defer a.mu.Unlock()

	scanCtx, cancel := context.WithCancel(a.ctx)
	a.scanCancel = cancel

	handler := func(adv ble.Advertisement) {
		services := make([]string, 0, len(adv.Services()))
		matched := len(filter) == 0
		for _, u := range adv.Services() {
			n := device.NormalizeUUID(u.String())
			services = append(services, n)
			matched = matched || filter[n]
		}
		if !matched {
			return
		}
		a.tryEmit(device.PeripheralDiscovered{
			Peripheral:  device.Peripheral{ID: adv.Addr().String(), Name: adv.LocalName()},
			RSSI:        adv.RSSI(),
			Connectable: adv.Connectable(),
			Services:    services,
		})
	}

	a.logger.WithField("filter", serviceFilter).Info("Starting BLE scan...")
	a.scanDone = a.goTracked("ble-scan", func(context.Context) {
		err := a.dev.Scan(scanCtx, true, handler)
		if scanCtx.Err() != nil {
			// stopped on request
			return
		}
		if err != nil {
			err = NormalizeError(err)
			a.logger.WithError(err).Warn("BLE scan ended")
		}
		a.tryEmit(device.ScanStopped{Err: err})
	})
	return nil
}

// StopScan halts discovery and waits for the scan goroutine. Safe when not scanning.
func (a *Adapter) StopScan() error {
	a.stopScan()
	return nil
}

func (a *Adapter) stopScan() {
	a.mu.Lock()
	cancel, done := a.scanCancel, a.scanDone
	a.scanCancel, a.scanDone = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Debug("BLE scan stopped")
}

// Connect dials the peripheral; the outcome arrives as Connected or ConnectFailed.
func (a *Adapter) Connect(peripheralID string) error {
	if err := a.ready(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.peers[peripheralID]; ok {
		return device.ErrAlreadyConnected
	}
	if _, ok := a.dialing[peripheralID]; ok {
		return fmt.Errorf("%w: connection in progress", device.ErrAlreadyConnected)
	}

	dialCtx, cancel := context.WithTimeout(a.ctx, a.connectTimeout)
	a.dialing[peripheralID] = cancel
	target := device.Peripheral{ID: peripheralID}

	a.logger.WithFields(logrus.Fields{
		"address": peripheralID,
		"timeout": a.connectTimeout,
	}).Info("Connecting to BLE device...")

	a.goTracked("ble-dial", func(context.Context) {
		defer cancel()
		client, err := a.dev.Dial(dialCtx, ble.NewAddr(peripheralID))

		a.mu.Lock()
		delete(a.dialing, peripheralID)
		if err != nil {
			a.mu.Unlock()
			err = NormalizeError(err)
			a.logger.WithError(err).WithField("address", peripheralID).Warn("Failed to dial BLE device")
			a.emit(device.ConnectFailed{Peripheral: target, Err: err})
			return
		}

		pctx, pcancel := context.WithCancel(a.ctx)
		p := &peer{
			id:       peripheralID,
			client:   client,
			services: make(map[string]*ble.Service),
			chars:    make(map[string]*ble.Characteristic),
			ctx:      pctx,
			cancel:   pcancel,
		}
		a.peers[peripheralID] = p
		a.mu.Unlock()

		a.logger.WithField("address", peripheralID).Info("BLE device connected")
		a.emit(device.Connected{Peripheral: target})
		a.monitor(p)
	})
	return nil
}

// monitor reports the end of a connection exactly once.
func (a *Adapter) monitor(p *peer) {
	var lost <-chan struct{}
	if dc, ok := p.client.(interface{ Disconnected() <-chan struct{} }); ok {
		lost = dc.Disconnected()
	} else {
		a.logger.Debug("Client does not expose Disconnected(), link loss is not detected")
	}

	a.goTracked("ble-connection-monitor", func(context.Context) {
		select {
		case <-lost:
			a.logger.WithField("address", p.id).Warn("BLE device reported disconnection")
		case <-p.ctx.Done():
		}
		a.dropPeer(p, nil)
	})
}

func (a *Adapter) dropPeer(p *peer, err error) {
	p.once.Do(func() {
		a.mu.Lock()
		if a.peers[p.id] == p {
			delete(a.peers, p.id)
		}
		a.mu.Unlock()
		p.cancel()
		a.emit(device.Disconnected{Peripheral: device.Peripheral{ID: p.id}, Err: err})
	})
}

// CancelConnection aborts a dial in progress or disconnects a live peer.
func (a *Adapter) CancelConnection(peripheralID string) error {
	a.mu.Lock()
	if cancel, ok := a.dialing[peripheralID]; ok {
		a.mu.Unlock()
		cancel()
		return nil
	}
	p, ok := a.peers[peripheralID]
	a.mu.Unlock()
	if !ok {
		return device.ErrNotConnected
	}

	a.goTracked("ble-cancel-connection", func(context.Context) {
		if err := p.client.CancelConnection(); err != nil {
			a.logger.WithError(err).WithField("address", p.id).Debug("CancelConnection returned an error")
		}
		a.dropPeer(p, nil)
	})
	return nil
}

func (a *Adapter) peer(id string) (*peer, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNotConnected, id)
	}
	return p, nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if uuids == nil {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(device.NormalizeUUID(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func (a *Adapter) DiscoverServices(peripheralID string, uuids []string) error {
	p, err := a.peer(peripheralID)
	if err != nil {
		return err
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}

	a.goTracked("ble-discover-services", func(context.Context) {
		svcs, err := p.client.DiscoverServices(filter)
		ev := device.ServicesDiscovered{PeripheralID: p.id, Err: NormalizeError(err)}
		if err == nil {
			a.mu.Lock()
			for _, s := range svcs {
				u := device.NormalizeUUID(s.UUID.String())
				p.services[u] = s
				ev.Services = append(ev.Services, u)
			}
			a.mu.Unlock()
		}
		a.logger.WithFields(logrus.Fields{
			"address":  p.id,
			"services": len(ev.Services),
		}).Debug("Services discovered")
		a.emit(ev)
	})
	return nil
}

func (a *Adapter) DiscoverCharacteristics(peripheralID, serviceUUID string, uuids []string) error {
	p, err := a.peer(peripheralID)
	if err != nil {
		return err
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}
	svcKey := device.NormalizeUUID(serviceUUID)

	a.mu.Lock()
	svc, ok := p.services[svcKey]
	a.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}

	a.goTracked("ble-discover-characteristics", func(context.Context) {
		chars, err := p.client.DiscoverCharacteristics(filter, svc)
		ev := device.CharacteristicsDiscovered{PeripheralID: p.id, Service: svcKey, Err: NormalizeError(err)}
		for _, c := range chars {
			if err != nil {
				break
			}
			// Linux needs the CCCD handle before Subscribe
			if _, derr := p.client.DiscoverDescriptors(nil, c); derr != nil {
				a.logger.WithError(derr).WithField("char_uuid", c.UUID.String()).Debug("Descriptor discovery failed")
			}
			u := device.NormalizeUUID(c.UUID.String())
			a.mu.Lock()
			p.chars[charKey(svcKey, u)] = c
			a.mu.Unlock()
			ev.Characteristics = append(ev.Characteristics, u)
		}
		a.emit(ev)
	})
	return nil
}

func (a *Adapter) Subscribe(peripheralID, serviceUUID, charUUID string) error {
	p, err := a.peer(peripheralID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	c, ok := p.chars[charKey(serviceUUID, charUUID)]
	a.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}

	svcKey, chKey := device.NormalizeUUID(serviceUUID), device.NormalizeUUID(charUUID)
	a.goTracked("ble-subscribe", func(context.Context) {
		err := p.client.Subscribe(c, false, func(data []byte) {
			value := make([]byte, len(data))
			copy(value, data)
			a.tryEmit(device.ValueUpdated{PeripheralID: p.id, Characteristic: chKey, Value: value})
		})
		if err != nil {
			err = &device.DiscoveryError{Resource: "notification", UUIDs: []string{svcKey, chKey}, Err: NormalizeError(err)}
		}
		a.emit(device.NotificationStateChanged{
			PeripheralID:   p.id,
			Service:        svcKey,
			Characteristic: chKey,
			Enabled:        err == nil,
			Err:            err,
		})
	})
	return nil
}

// Close stops scanning, disconnects every peer, waits for in-flight operations
// and closes Events. Idempotent.
func (a *Adapter) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		peers := make([]*peer, 0, len(a.peers))
		for _, p := range a.peers {
			peers = append(peers, p)
		}
		a.mu.Unlock()

		// pending emits give up once the adapter context is done
		a.cancel()
		a.stopScan()

		for _, p := range peers {
			if err := p.client.CancelConnection(); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", p.id, err))
			}
		}
		a.wg.Wait()

		a.sendMu.Lock()
		a.closed = true
		close(a.events)
		a.sendMu.Unlock()

		if a.dev != nil {
			if err := a.dev.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop device: %w", err))
			}
		}
		if n := a.droppedEvents(); n > 0 {
			a.logger.WithField("dropped", n).Warn("Events were dropped while the buffer was full")
		}
		a.logger.Debug("BLE adapter closed")
	})
	return errors.Join(errs...)
}

var _ device.Adapter = (*Adapter)(nil)
