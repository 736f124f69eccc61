package display

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/groutine"
	"github.com/srg/mallet/internal/session"
	"github.com/srg/mallet/internal/telemetry"
)

// DefaultRefreshInterval is the render period.
const DefaultRefreshInterval = 250 * time.Millisecond

var (
	// ErrViewRunning is returned by Start on a started view.
	ErrViewRunning = errors.New("view already started")
	// ErrViewStopped is returned by actions on a view that is not running.
	ErrViewStopped = errors.New("view not started")
	// ErrNoSession is returned by BLE actions when the view runs without an adapter.
	ErrNoSession = errors.New("no BLE session: view runs on generated data only")
)

// AdapterOpener creates the platform adapter for one view run.
type AdapterOpener func(ctx context.Context) (device.Adapter, error)

// ViewOptions configures a View.
type ViewOptions struct {
	Source            Source
	Window            int
	GeneratorInterval time.Duration
	RefreshInterval   time.Duration
	ActivitySize      int

	// Session options; RouteSamples is derived from Source.
	Session *session.Options
	// OpenAdapter is required for SourceBLE. Nil with SourceFake runs the generator alone.
	OpenAdapter AdapterOpener
	// Renderer receives a frame every RefreshInterval. Nil disables the render loop.
	Renderer Renderer
	Logger   *logrus.Logger
	Rand     *rand.Rand
}

// View is the scoped owner of a telemetry buffer, generator, adapter and
// session. Start builds them; Stop releases all of them, so a stopped view
// holds no goroutines, timers or radio resources.
type View struct {
	opts   ViewOptions
	logger *logrus.Logger

	mu       sync.Mutex
	running  bool
	buffer   *telemetry.Buffer
	activity *ActivityLog
	res      resources
}

// resources is what one run owns and Stop releases.
type resources struct {
	cancel    context.CancelFunc
	generator *telemetry.Generator
	session   *session.Session
	adapter   device.Adapter
	done      []<-chan struct{}
}

// release tears down in order: render loop, generator, session, adapter.
// Must not be called with View.mu held; the render loop takes it.
func (r resources) release() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.generator != nil {
		r.generator.Stop()
	}
	if r.session != nil {
		r.session.Close()
	}

	var err error
	if r.adapter != nil {
		if cerr := r.adapter.Close(); cerr != nil {
			err = fmt.Errorf("close adapter: %w", cerr)
		}
	}
	for _, done := range r.done {
		<-done
	}
	return err
}

func NewView(opts ViewOptions) *View {
	if opts.Source == "" {
		opts.Source = SourceBLE
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &View{
		opts:     opts,
		logger:   logger,
		activity: NewActivityLog(opts.ActivitySize),
	}
}

// Start builds the buffer, starts the generator for fake or mixed sources,
// opens the adapter and runs the session, then starts the render loop.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return ErrViewRunning
	}
	if v.opts.Source == SourceBLE && v.opts.OpenAdapter == nil {
		return fmt.Errorf("source %s requires a BLE adapter", v.opts.Source)
	}

	ctx, cancel := context.WithCancel(ctx)
	v.res = resources{cancel: cancel}
	v.buffer = telemetry.NewBuffer(v.opts.Window)
	v.activity = NewActivityLog(v.opts.ActivitySize)

	if v.opts.Source.generated() {
		v.res.generator = telemetry.NewGenerator(v.buffer,
			telemetry.WithInterval(v.opts.GeneratorInterval),
			telemetry.WithRand(v.opts.Rand),
			telemetry.WithGeneratorLogger(v.logger),
		)
		v.res.generator.Start(ctx)
		v.activity.Add(time.Now(), "Generator started")
	}

	if v.opts.OpenAdapter != nil {
		if err := v.startSessionLocked(ctx); err != nil {
			// safe under v.mu: the render loop has not started
			_ = v.res.release()
			v.res = resources{}
			return err
		}
	}

	if v.opts.Renderer != nil {
		v.res.done = append(v.res.done, groutine.GoDone(ctx, "display-render", v.renderLoop))
	}

	v.running = true
	v.logger.WithFields(logrus.Fields{
		"source": v.opts.Source,
		"window": v.buffer.Capacity(),
	}).Info("View started")
	return nil
}

func (v *View) startSessionLocked(ctx context.Context) error {
	adapter, err := v.opts.OpenAdapter(ctx)
	if err != nil {
		return fmt.Errorf("open adapter: %w", err)
	}
	v.res.adapter = adapter

	opts := session.DefaultOptions()
	if v.opts.Session != nil {
		copied := *v.opts.Session
		opts = &copied
	}
	opts.RouteSamples = v.opts.Source != SourceFake
	if opts.Logger == nil {
		opts.Logger = v.logger
	}
	sess, activity := session.New(adapter, v.buffer, opts), v.activity
	v.res.session = sess
	v.res.done = append(v.res.done,
		groutine.GoDone(ctx, "session-events", func(ctx context.Context) {
			if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				v.logger.WithError(err).Warn("Session event loop ended")
			}
		}),
		groutine.GoDone(ctx, "session-status", func(context.Context) {
			for st := range sess.Updates() {
				if line := st.Line(); line != "" {
					activity.Add(st.At, line)
				}
			}
		}),
	)
	return nil
}

func (v *View) renderLoop(ctx context.Context) {
	ticker := time.NewTicker(v.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.opts.Renderer.Render(v.Frame()); err != nil {
				v.logger.WithError(err).Warn("Render failed")
			}
		}
	}
}

// Stop stops the render loop and the generator, closes the session (which
// stops scanning and cancels reconnects) and closes the adapter. Idempotent.
func (v *View) Stop() error {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return nil
	}
	v.running = false
	res := v.res
	v.res = resources{}
	v.mu.Unlock()

	err := res.release()
	v.logger.Info("View stopped")
	return err
}

// Connect starts scanning unless a scan is already running.
func (v *View) Connect() error {
	sess, err := v.currentSession()
	if err != nil {
		return err
	}
	if sess.Scanning() {
		return nil
	}
	return sess.StartScanning()
}

// Select connects to a discovered peripheral by ID.
func (v *View) Select(peripheralID string) error {
	sess, err := v.currentSession()
	if err != nil {
		return err
	}
	return sess.Connect(peripheralID)
}

// SelectIndex connects to the candidate at index i of the displayed list.
func (v *View) SelectIndex(i int) error {
	sess, err := v.currentSession()
	if err != nil {
		return err
	}
	cands := sess.Candidates()
	if i < 0 || i >= len(cands) {
		return &device.NotFoundError{Resource: "peripheral", UUIDs: []string{fmt.Sprintf("#%d", i)}}
	}
	return sess.Connect(cands[i].ID)
}

func (v *View) currentSession() (*session.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return nil, ErrViewStopped
	}
	if v.res.session == nil {
		return nil, ErrNoSession
	}
	return v.res.session, nil
}

// Session returns the running session, or nil.
func (v *View) Session() *session.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.res.session
}

// Buffer returns the buffer of the current (or last) run.
func (v *View) Buffer() *telemetry.Buffer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buffer
}

// Running reports whether the view is started.
func (v *View) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Frame assembles the current frame.
func (v *View) Frame() Frame {
	v.mu.Lock()
	buf, sess, activity := v.buffer, v.res.session, v.activity
	v.mu.Unlock()

	f := Frame{
		Source:  v.opts.Source,
		State:   session.Idle,
		Adapter: device.AdapterUnknown,
		At:      time.Now(),
	}
	if buf != nil {
		for _, ch := range buf.Channels() {
			points, _ := buf.Points(ch)
			f.Series = append(f.Series, SeriesFrame{Channel: ch, Label: ch.Label(), Points: points})
		}
	}
	if sess != nil {
		st := sess.Snapshot()
		f.Session = st.Session
		f.State = st.State
		f.Adapter = st.Adapter
		f.Connected = st.Connected()
		if st.Peripheral.ID != "" {
			p := st.Peripheral
			f.Peripheral = &p
		}
		f.Candidates = sess.Candidates()
		f.DroppedUpdates = sess.DroppedUpdates()
	}
	f.Activity = activity.Lines()
	f.ActivityTotal = activity.Added()
	return f
}
