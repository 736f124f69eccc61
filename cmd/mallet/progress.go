package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with elapsed or remaining time.
//
//	p := NewCountdownProgressPrinter(os.Stderr, "Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use; Stop must be called to end its goroutine.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	phase    atomic.Value // string
	duration time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   time.Time
}

// NewProgressPrinter creates a printer that counts elapsed seconds.
func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	return NewCountdownProgressPrinter(out, prefix, phase, 0)
}

// NewCountdownProgressPrinter creates a printer that counts down from duration.
// A zero duration counts up.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	if out == nil {
		out = io.Discard
	}
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// SetPhase changes the label shown in parentheses. Safe from any goroutine.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start prints the first line and begins updating it.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.started = time.Now()
		p.print(0)
		go p.loop()
	})
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.print(p.seconds(time.Since(p.started)))
		}
	}
}

// seconds is the elapsed time when counting up, or the remaining time
// rounded to the nearest second when counting down (never below zero).
func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(seconds int) {
	phase, _ := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Stop ends the updates and clears the line. Idempotent; a no-op before Start.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		// consumes startOnce if Start never ran, so a later Start is a no-op
		p.startOnce.Do(func() {})
		if p.started.IsZero() {
			return
		}
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}
