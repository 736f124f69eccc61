package telemetry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/groutine"
)

// DefaultGeneratorInterval is the tick period of the fake data source.
const DefaultGeneratorInterval = time.Second

// GeneratorMax is the upper bound of generated values; the lower bound is 0.
const GeneratorMax = 100.0

// Generator produces synthetic samples for prototyping the display without a peripheral.
type Generator struct {
	buffer   *Buffer
	channels []Channel
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	rnd     *rand.Rand
	counter float64
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithInterval sets the tick period. Non-positive values are ignored.
func WithInterval(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithChannels overrides the driven channels (default X, Y, Z).
func WithChannels(channels ...Channel) GeneratorOption {
	return func(g *Generator) {
		if len(channels) > 0 {
			g.channels = channels
		}
	}
}

// WithRand injects the random source.
func WithRand(r *rand.Rand) GeneratorOption {
	return func(g *Generator) {
		if r != nil {
			g.rnd = r
		}
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *logrus.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator creates a stopped generator feeding buf.
func NewGenerator(buf *Buffer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		buffer:   buf,
		channels: AccelChannels,
		interval: DefaultGeneratorInterval,
		logger:   logrus.New(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Tick advances the tick counter by one and pushes one value in [0, GeneratorMax]
// to every driven channel. Samples take the series' sequence index as X, so
// generated and decoded samples share one x-axis.
func (g *Generator) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickLocked()
}

func (g *Generator) tickLocked() {
	g.counter++
	for _, ch := range g.channels {
		v := g.rnd.Float64() * GeneratorMax
		if err := g.buffer.Push(ch, v); err != nil {
			g.logger.WithError(err).WithField("channel", ch.String()).Warn("Generator push failed")
		}
	}
}

// Counter returns the number of ticks so far.
func (g *Generator) Counter() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Running reports whether the ticker goroutine is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Start begins ticking every interval until ctx is cancelled or Stop is called.
// Starting a running generator is a no-op.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.logger.WithFields(logrus.Fields{
		"interval": g.interval,
		"channels": len(g.channels),
	}).Debug("Generator started")

	g.done = groutine.GoDone(ctx, "telemetry-generator", func(ctx context.Context) {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.mu.Lock()
				// Stop may have won the race for the lock
				if ctx.Err() == nil {
					g.tickLocked()
				}
				g.mu.Unlock()
			}
		}
	})
}

// Stop halts ticking and waits for the ticker goroutine to exit. Idempotent.
func (g *Generator) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	if cancel != nil {
		cancel()
	}
	g.mu.Unlock()

	if done != nil {
		<-done
		g.logger.Debug("Generator stopped")
	}
}
