// Package session drives one BLE central session: adapter power state,
// discovery policy, connection lifecycle with bounded reconnect, GATT
// discovery and subscription, and decoding notifications into the
// telemetry buffer.
//
// All adapter events are consumed by Handle, which is the only place the
// state machine transitions. Run pumps an adapter's event channel into
// Handle on a single goroutine; tests call Handle directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/profile"
	"github.com/srg/mallet/internal/ringchan"
	"github.com/srg/mallet/internal/telemetry"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// DefaultStatusCapacity is the number of undelivered status updates kept.
const DefaultStatusCapacity = 64

// Options configures a Session.
type Options struct {
	Policy Policy
	// RouteSamples pushes decoded values into the buffer. When false they are only logged.
	RouteSamples   bool
	Backoff        Backoff
	Profile        *profile.Profile
	StatusCapacity int
	Logger         *logrus.Logger
}

// DefaultOptions returns auto-connect to the default profile with routing on.
func DefaultOptions() *Options {
	return &Options{
		Policy:         PolicyAuto,
		RouteSamples:   true,
		Backoff:        DefaultBackoff(),
		Profile:        profile.Default(),
		StatusCapacity: DefaultStatusCapacity,
	}
}

// Session owns the connection state for one peripheral identity.
type Session struct {
	id      string
	adapter device.Adapter
	buffer  *telemetry.Buffer
	profile *profile.Profile
	policy  Policy
	route   bool
	backoff Backoff
	logger  *logrus.Logger
	status  *ringchan.RingChannel[Status]

	candidates *candidateSet

	mu           sync.Mutex
	closed       bool
	adapterState device.AdapterState
	state        ConnState
	scanning     bool
	scanPending  bool // StartScanning called before the adapter reported its state
	current      *device.Peripheral
	attempts     int
	heldForPower bool // reconnect due while the adapter was unavailable
	timer        *time.Timer
	generation   uint64
	subscribed   map[string]bool
}

// New creates an idle session. A nil opts selects DefaultOptions.
func New(adapter device.Adapter, buf *telemetry.Buffer, opts *Options) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	prof := opts.Profile
	if prof == nil {
		prof = profile.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyAuto
	}
	capacity := opts.StatusCapacity
	if capacity <= 0 {
		capacity = DefaultStatusCapacity
	}

	return &Session{
		id:           uuid.NewString(),
		adapter:      adapter,
		buffer:       buf,
		profile:      prof,
		policy:       policy,
		route:        opts.RouteSamples,
		backoff:      opts.Backoff,
		logger:       logger,
		status:       ringchan.New[Status](capacity),
		candidates:   newCandidateSet(),
		adapterState: device.AdapterUnknown,
		state:        Idle,
		subscribed:   make(map[string]bool),
	}
}

// ID returns the session identifier used in logs and status updates.
func (s *Session) ID() string { return s.id }

// Policy returns the discovery policy.
func (s *Session) Policy() Policy { return s.policy }

// Updates delivers status updates. Slow readers lose the oldest entries.
// The channel is closed by Close.
func (s *Session) Updates() <-chan Status { return s.status.C() }

// DroppedUpdates returns how many status updates were discarded because the
// Updates reader fell behind.
func (s *Session) DroppedUpdates() int64 { return s.status.GetMetrics().Overwritten }

func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) AdapterState() device.AdapterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapterState
}

// Connected is the boolean projection shown by the display.
func (s *Session) Connected() bool {
	return s.State() == Connected
}

// Scanning reports whether a scan is running or waiting for the adapter.
func (s *Session) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning || s.scanPending
}

// Peripheral returns the current (connecting, connected or reconnecting) peripheral.
func (s *Session) Peripheral() (device.Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return device.Peripheral{}, false
	}
	return *s.current, true
}

// Candidates returns the manual-select list sorted by name, then ID.
func (s *Session) Candidates() []device.Candidate {
	return s.candidates.list()
}

// Snapshot returns the current status without publishing it.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked("", nil)
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("session", s.id)
}

// StartScanning clears the candidates and starts discovery with no service
// filter. Calling it while scanning restarts the scan. If the adapter has not
// reported its state yet the scan starts once it reports powered on.
func (s *Session) StartScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	switch {
	case s.adapterState == device.AdapterUnknown:
		s.scanPending = true
		s.candidates.reset()
		s.log().Info("Adapter state unknown, scan deferred until powered on")
		s.publishLocked("Waiting for Bluetooth to power on", nil)
		return nil
	case !s.adapterState.Available():
		err := &device.AdapterError{State: s.adapterState}
		s.publishLocked("Cannot scan", err)
		return err
	}

	return s.startScanLocked()
}

func (s *Session) startScanLocked() error {
	s.scanPending = false
	s.candidates.reset()

	if err := s.adapter.StartScan(nil); err != nil {
		s.scanning = false
		err = fmt.Errorf("start scan: %w", err)
		s.publishLocked("Scan failed", err)
		return err
	}

	s.scanning = true
	if s.current == nil {
		s.setStateLocked(Scanning)
	}

	s.log().WithField("policy", s.policy).Info("Scanning for peripherals...")
	s.publishLocked("Scanning for peripherals", nil)
	return nil
}

// StopScanning halts discovery. Idempotent.
func (s *Session) StopScanning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopScanLocked()
}

func (s *Session) stopScanLocked() {
	if !s.scanning && !s.scanPending {
		return
	}
	wasScanning := s.scanning
	s.scanning = false
	s.scanPending = false

	if wasScanning {
		if err := s.adapter.StopScan(); err != nil {
			s.log().WithError(err).Warn("Failed to stop scan")
		}
	}
	if s.state == Scanning {
		s.setStateLocked(Idle)
	}
	s.log().Debug("Scan stopped")
}

// Connect selects a peripheral explicitly. With the manual policy the ID must
// be a current candidate. It stops scanning and starts the connection; the
// outcome arrives as a Connected or ConnectFailed event.
func (s *Session) Connect(peripheralID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.adapterState.Available() {
		return &device.AdapterError{State: s.adapterState}
	}

	if s.current != nil && s.state == Reconnecting && s.current.ID == peripheralID {
		return s.resumeReconnectLocked()
	}

	target := device.Peripheral{ID: peripheralID}
	if cand, ok := s.candidates.get(peripheralID); ok {
		target = cand.Peripheral
	} else if s.policy == PolicyManual {
		return &device.NotFoundError{Resource: "peripheral", UUIDs: []string{peripheralID}}
	}

	if s.current != nil {
		switch s.state {
		case Connecting, Connected:
			return fmt.Errorf("%w: %s", device.ErrAlreadyConnected, s.current)
		case Reconnecting:
			// a fresh selection supersedes the pending reconnect
			s.cancelReconnectLocked()
		}
	}

	s.stopScanLocked()
	s.current = &target
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	p := *s.current
	s.attempts = 0
	s.setStateLocked(Connecting)

	s.log().WithFields(logrus.Fields{
		"peripheral": p.DisplayName(),
		"address":    p.ID,
	}).Info("Connecting to peripheral...")
	s.publishLocked("Connecting to "+p.DisplayName(), nil)

	if err := s.adapter.Connect(p.ID); err != nil {
		s.failConnectLocked(p, err)
		return err
	}
	return nil
}

// resumeReconnectLocked turns a pending reconnect to the current peripheral
// into an immediate connection attempt. A dial the adapter already has in
// flight is kept; its Connected or ConnectFailed event completes the selection.
func (s *Session) resumeReconnectLocked() error {
	s.stopTimerLocked()
	s.generation++
	s.heldForPower = false
	s.stopScanLocked()

	p := *s.current
	s.attempts = 0
	s.setStateLocked(Connecting)
	s.log().WithField("peripheral", p.DisplayName()).Info("Reconnect superseded by selection of the same peripheral")
	s.publishLocked("Connecting to "+p.DisplayName(), nil)

	err := s.adapter.Connect(p.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrAlreadyConnected):
		s.log().WithError(err).Debug("Keeping connection attempt in flight")
		return nil
	default:
		s.failConnectLocked(p, err)
		return err
	}
}

func (s *Session) failConnectLocked(p device.Peripheral, cause error) {
	s.current = nil
	s.setStateLocked(Disconnected)
	err := &device.ConnectionError{State: device.ConnectFailedState, Msg: fmt.Sprintf("%s: %v", p, cause)}
	s.log().WithError(cause).WithField("peripheral", p.DisplayName()).Error("Connection failed")
	s.publishLocked("Failed to connect", err)
}

// Handle applies one adapter event. It is the only state-transition entry
// point for adapter-originated changes. Events arriving after Close are ignored.
func (s *Session) Handle(ev device.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log().WithField("event", device.Kind(ev)).Debug("Ignoring event on closed session")
		return
	}

	switch e := ev.(type) {
	case device.AdapterStateChanged:
		s.onAdapterState(e)
	case device.PeripheralDiscovered:
		s.onDiscovered(e)
	case device.ScanStopped:
		s.onScanStopped(e)
	case device.Connected:
		s.onConnected(e)
	case device.ConnectFailed:
		s.onConnectFailed(e)
	case device.Disconnected:
		s.onDisconnected(e)
	case device.ServicesDiscovered:
		s.onServices(e)
	case device.CharacteristicsDiscovered:
		s.onCharacteristics(e)
	case device.NotificationStateChanged:
		s.onNotificationState(e)
	case device.ValueUpdated:
		s.onValue(e)
	default:
		s.log().WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled adapter event")
	}
}

// Run feeds adapter events into Handle until ctx is done or the event
// channel is closed.
func (s *Session) Run(ctx context.Context) error {
	events := s.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ev)
		}
	}
}

func (s *Session) onAdapterState(e device.AdapterStateChanged) {
	prev := s.adapterState
	s.adapterState = e.State
	s.log().WithFields(logrus.Fields{
		"state":    e.State,
		"previous": prev,
	}).Info("Bluetooth adapter state changed")

	switch {
	case e.State.Available():
		s.publishLocked("Bluetooth is powered on", nil)
		if s.scanPending {
			_ = s.startScanLocked()
		}
		if s.heldForPower {
			s.heldForPower = false
			s.scheduleReconnectLocked()
		}
	case e.State == device.AdapterUnknown:
		s.publishLocked("Bluetooth state is unknown", nil)
	default:
		s.scanning = false
		s.scanPending = false
		if s.state == Scanning {
			s.setStateLocked(Idle)
		}
		s.publishLocked("Bluetooth unavailable", &device.AdapterError{State: e.State, Err: e.Err})
	}
}

func (s *Session) onDiscovered(e device.PeripheralDiscovered) {
	if !s.scanning {
		return
	}
	p := e.Peripheral

	switch s.policy {
	case PolicyManual:
		if s.candidates.upsert(p, e.RSSI, time.Now()) {
			s.log().WithFields(logrus.Fields{
				"peripheral": p.DisplayName(),
				"address":    p.ID,
				"rssi":       e.RSSI,
			}).Info("Discovered peripheral")
			s.publishLocked("Discovered "+p.DisplayName(), nil)
		}
	default:
		if s.current != nil || !s.profile.MatchesName(p.Name) {
			return
		}
		s.log().WithFields(logrus.Fields{
			"peripheral": p.Name,
			"address":    p.ID,
			"rssi":       e.RSSI,
		}).Info("Found target peripheral")
		s.publishLocked("Found "+p.Name, nil)

		s.stopScanLocked()
		s.current = &p
		_ = s.connectLocked()
	}
}

func (s *Session) onScanStopped(e device.ScanStopped) {
	if !s.scanning {
		return
	}
	s.scanning = false
	if s.state == Scanning {
		s.setStateLocked(Idle)
	}
	if e.Err != nil {
		s.log().WithError(e.Err).Warn("Scan stopped by adapter")
		s.publishLocked("Scan stopped", e.Err)
		return
	}
	s.publishLocked("Scan stopped", nil)
}

// isCurrent reports whether id names the peripheral this session is tracking.
func (s *Session) isCurrent(id string) bool {
	return s.current != nil && s.current.ID == id
}

func (s *Session) onConnected(e device.Connected) {
	if !s.isCurrent(e.Peripheral.ID) {
		s.log().WithField("address", e.Peripheral.ID).Warn("Connected event for unexpected peripheral, ignoring")
		return
	}
	if e.Peripheral.Name != "" {
		s.current.Name = e.Peripheral.Name
	}
	p := *s.current

	s.stopTimerLocked()
	s.attempts = 0
	s.heldForPower = false
	s.subscribed = make(map[string]bool)
	s.setStateLocked(Connected)

	s.log().WithFields(logrus.Fields{
		"peripheral": p.DisplayName(),
		"address":    p.ID,
	}).Info("Connected, discovering services...")
	s.publishLocked("Connected to "+p.DisplayName(), nil)

	svc := s.profile.ServiceUUID
	if err := s.adapter.DiscoverServices(p.ID, []string{svc}); err != nil {
		s.reportLocked(&device.DiscoveryError{Resource: "service", UUIDs: []string{svc}, Err: err})
	}
}

func (s *Session) onConnectFailed(e device.ConnectFailed) {
	if !s.isCurrent(e.Peripheral.ID) {
		return
	}
	switch s.state {
	case Reconnecting:
		s.reconnectFailedLocked(e.Err)
	case Connecting:
		s.failConnectLocked(*s.current, e.Err)
	}
}

func (s *Session) onDisconnected(e device.Disconnected) {
	if !s.isCurrent(e.Peripheral.ID) {
		return
	}
	p := *s.current

	switch s.state {
	case Connecting:
		// dropped before the connection completed
		s.failConnectLocked(p, disconnectCause(e.Err))
		return
	case Reconnecting:
		s.reconnectFailedLocked(disconnectCause(e.Err))
		return
	}

	entry := s.log().WithFields(logrus.Fields{
		"peripheral": p.DisplayName(),
		"address":    p.ID,
	})
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	entry.Warn("Peripheral disconnected")

	if !s.backoff.Enabled() {
		s.current = nil
		s.setStateLocked(Disconnected)
		s.publishLocked("Disconnected from "+p.DisplayName(), e.Err)
		return
	}

	s.attempts = 0
	s.setStateLocked(Reconnecting)
	s.publishLocked("Disconnected from "+p.DisplayName(), e.Err)
	s.scheduleReconnectLocked()
}

func disconnectCause(err error) error {
	if err != nil {
		return err
	}
	return device.ErrNotConnected
}

// scheduleReconnectLocked arms the next reconnect attempt, or gives up when the
// attempt budget is spent.
func (s *Session) scheduleReconnectLocked() {
	if s.current == nil {
		return
	}
	if s.backoff.Exhausted(s.attempts) {
		s.giveUpLocked()
		return
	}

	delay := s.backoff.Delay(s.attempts)
	s.attempts++

	if delay <= 0 {
		s.reconnectNowLocked()
		return
	}

	gen := s.generation
	s.log().WithFields(logrus.Fields{
		"attempt": s.attempts,
		"delay":   delay,
	}).Info("Scheduling reconnect")
	s.publishLocked(fmt.Sprintf("Reconnecting in %s (attempt %d)", delay, s.attempts), nil)

	s.stopTimerLocked()
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.generation || s.state != Reconnecting {
			return
		}
		s.timer = nil
		s.reconnectNowLocked()
	})
}

func (s *Session) reconnectNowLocked() {
	p := *s.current
	if !s.adapterState.Available() {
		// the attempt is not spent; it resumes on power-on
		s.attempts--
		s.heldForPower = true
		s.log().WithField("adapter", s.adapterState).Info("Reconnect held until adapter is powered on")
		return
	}

	s.log().WithFields(logrus.Fields{
		"peripheral": p.DisplayName(),
		"address":    p.ID,
		"attempt":    s.attempts,
	}).Info("Reconnecting...")

	if err := s.adapter.Connect(p.ID); err != nil {
		s.reconnectFailedLocked(err)
	}
}

func (s *Session) reconnectFailedLocked(cause error) {
	p := *s.current
	s.log().WithError(cause).WithFields(logrus.Fields{
		"peripheral": p.DisplayName(),
		"attempt":    s.attempts,
	}).Warn("Reconnect attempt failed")

	if s.backoff.Unbounded() {
		s.failConnectLocked(p, cause)
		return
	}
	s.publishLocked(fmt.Sprintf("Reconnect attempt %d failed", s.attempts), cause)
	s.scheduleReconnectLocked()
}

func (s *Session) giveUpLocked() {
	p := *s.current
	s.current = nil
	s.stopTimerLocked()
	s.setStateLocked(Disconnected)

	err := &device.ConnectionError{
		State: device.ReconnectExhausted,
		Msg:   fmt.Sprintf("%s after %d attempts", p, s.attempts),
	}
	s.log().WithField("peripheral", p.DisplayName()).Error("Giving up reconnecting")
	s.publishLocked("Gave up reconnecting", err)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) cancelReconnectLocked() {
	s.stopTimerLocked()
	s.generation++
	s.heldForPower = false
	if s.current != nil {
		if err := s.adapter.CancelConnection(s.current.ID); err != nil {
			s.log().WithError(err).Debug("Cancel connection failed")
		}
	}
	s.current = nil
}

func (s *Session) onServices(e device.ServicesDiscovered) {
	if !s.isCurrent(e.PeripheralID) || s.state != Connected {
		return
	}
	svc := s.profile.ServiceUUID
	if e.Err != nil {
		s.reportLocked(&device.DiscoveryError{Resource: "service", UUIDs: []string{svc}, Err: e.Err})
		return
	}

	found := false
	for _, u := range e.Services {
		if !s.profile.MatchesService(u) {
			continue
		}
		found = true
		s.log().WithField("service", u).Info("Found telemetry service, discovering characteristics...")
		if err := s.adapter.DiscoverCharacteristics(e.PeripheralID, u, s.profile.CharacteristicUUIDs()); err != nil {
			s.reportLocked(&device.DiscoveryError{Resource: "characteristic", UUIDs: []string{u}, Err: err})
		}
	}
	if !found {
		s.reportLocked(&device.NotFoundError{Resource: "service", UUIDs: []string{svc}})
	}
}

func (s *Session) onCharacteristics(e device.CharacteristicsDiscovered) {
	if !s.isCurrent(e.PeripheralID) || s.state != Connected {
		return
	}
	if e.Err != nil {
		s.reportLocked(&device.DiscoveryError{Resource: "characteristic", UUIDs: []string{e.Service}, Err: e.Err})
		return
	}

	matched := 0
	for _, c := range e.Characteristics {
		ch, ok := s.profile.ChannelFor(c)
		if !ok {
			s.log().WithField("char_uuid", c).Debug("Ignoring unknown characteristic")
			continue
		}
		matched++
		s.log().WithFields(logrus.Fields{
			"char_uuid": c,
			"channel":   ch.String(),
		}).Debug("Subscribing to characteristic")
		if err := s.adapter.Subscribe(e.PeripheralID, e.Service, c); err != nil {
			s.reportLocked(&device.DiscoveryError{Resource: "notification", UUIDs: []string{e.Service, c}, Err: err})
		}
	}

	if want := len(s.profile.Characteristics); matched < want {
		s.log().WithFields(logrus.Fields{
			"found":    matched,
			"expected": want,
		}).Warn("Some telemetry characteristics are missing")
	}
}

func (s *Session) onNotificationState(e device.NotificationStateChanged) {
	if !s.isCurrent(e.PeripheralID) {
		return
	}
	if e.Err != nil {
		s.reportLocked(&device.DiscoveryError{Resource: "notification", UUIDs: []string{e.Service, e.Characteristic}, Err: e.Err})
		return
	}
	ch, ok := s.profile.ChannelFor(e.Characteristic)
	if !ok || !e.Enabled {
		return
	}
	s.subscribed[device.NormalizeUUID(e.Characteristic)] = true
	s.log().WithField("channel", ch.String()).Info("Subscribed to characteristic")
	s.publishLocked(fmt.Sprintf("Subscribed to %s (%d/%d)", ch.Label(), len(s.subscribed), len(s.profile.Characteristics)), nil)
}

func (s *Session) onValue(e device.ValueUpdated) {
	if !s.isCurrent(e.PeripheralID) {
		return
	}
	if e.Err != nil {
		s.reportLocked(fmt.Errorf("value update %s: %w", device.ShortenUUID(device.NormalizeUUID(e.Characteristic)), e.Err))
		return
	}

	ch, ok := s.profile.ChannelFor(e.Characteristic)
	if !ok {
		return
	}

	v, err := telemetry.DecodeFloat32(e.Value, s.profile.ByteOrder)
	if err != nil {
		var decErr *telemetry.DecodeError
		if errors.As(err, &decErr) {
			decErr.Characteristic = ch.String()
		}
		s.reportLocked(err)
		return
	}

	entry := s.log().WithFields(logrus.Fields{
		"channel": ch.String(),
		"value":   v,
	})
	if !s.route || s.buffer == nil {
		entry.Debug("Decoded value")
		return
	}
	if err := s.buffer.Push(ch, float64(v)); err != nil {
		s.reportLocked(err)
		return
	}
	entry.Trace("Decoded value")
}

// Close tears the session down: stops scanning, cancels any pending reconnect,
// drops the current connection and closes Updates. Later events and timer
// callbacks have no effect. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.stopScanLocked()
	s.stopTimerLocked()
	s.generation++
	s.heldForPower = false

	if s.current != nil {
		if err := s.adapter.CancelConnection(s.current.ID); err != nil {
			s.log().WithError(err).Debug("Cancel connection failed")
		}
		s.current = nil
	}
	s.setStateLocked(Idle)
	s.publishLocked("Session closed", nil)

	s.closed = true
	s.status.Close()
	s.log().Debug("Session closed")
}

func (s *Session) setStateLocked(next ConnState) {
	if s.state == next {
		return
	}
	s.log().WithFields(logrus.Fields{
		"from": s.state,
		"to":   next,
	}).Debug("Connection state changed")
	s.state = next
}

func (s *Session) reportLocked(err error) {
	s.log().WithError(err).Warn("Session error")
	s.publishLocked("", err)
}

func (s *Session) statusLocked(msg string, err error) Status {
	st := Status{
		Session: s.id,
		State:   s.state,
		Adapter: s.adapterState,
		Message: msg,
		Err:     err,
		At:      time.Now(),
	}
	if s.current != nil {
		st.Peripheral = *s.current
	}
	return st
}

func (s *Session) publishLocked(msg string, err error) {
	s.status.Send(s.statusLocked(msg, err))
}
