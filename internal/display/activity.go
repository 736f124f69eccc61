package display

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultActivitySize is the number of activity lines kept for display.
const DefaultActivitySize = 8

// ActivityLog keeps the most recent status lines. Writers never block:
// Add goes through an overlapped ring that drops the oldest entry when full.
type ActivityLog struct {
	ring mpmc.RichOverlappedRingBuffer[string]
	size int

	mu     sync.Mutex
	recent []string

	added int64
}

// NewActivityLog keeps up to size lines; size <= 0 selects DefaultActivitySize.
func NewActivityLog(size int) *ActivityLog {
	if size <= 0 {
		size = DefaultActivitySize
	}
	return &ActivityLog{
		ring:   mpmc.NewOverlappedRingBuffer[string](uint32(size)),
		size:   size,
		recent: make([]string, 0, size),
	}
}

// Add records a line stamped with at (local wall clock, seconds resolution).
func (l *ActivityLog) Add(at time.Time, line string) {
	if _, err := l.ring.EnqueueM(at.Format("15:04:05") + " " + line); err != nil {
		return
	}
	atomic.AddInt64(&l.added, 1)
}

// Lines returns the retained lines, oldest first.
func (l *ActivityLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.ring.IsEmpty() {
		line, err := l.ring.Dequeue()
		if err != nil {
			break
		}
		l.recent = append(l.recent, line)
	}
	if n := len(l.recent); n > l.size {
		l.recent = append(l.recent[:0], l.recent[n-l.size:]...)
	}

	out := make([]string, len(l.recent))
	copy(out, l.recent)
	return out
}

// Added returns the number of lines recorded so far, including those no
// longer retained.
func (l *ActivityLog) Added() int64 {
	return atomic.LoadInt64(&l.added)
}
