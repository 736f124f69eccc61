package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultCapacity is the display window per channel.
const DefaultCapacity = 50

// ErrUnknownChannel is returned when pushing to or reading from a channel the buffer was not built with.
var ErrUnknownChannel = errors.New("unknown channel")

// Sample is one decoded value. X is the sequence index (or generator time counter).
type Sample struct {
	X     float64   `json:"x"`
	Value float64   `json:"y"`
	At    time.Time `json:"-"`
}

// Point is an (x, y) pair handed to chart renderers.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// series is a bounded FIFO of samples guarded by its own lock.
type series struct {
	mu      sync.RWMutex
	samples []Sample
	next    uint64 // next auto-assigned sequence index
}

// Buffer holds one bounded series per channel.
// The channel set is fixed at construction; all methods are safe for concurrent use.
type Buffer struct {
	capacity int
	channels *orderedmap.OrderedMap[Channel, *series]
}

// NewBuffer creates a buffer for the given channels. capacity <= 0 selects DefaultCapacity.
// No channels selects AllChannels.
func NewBuffer(capacity int, channels ...Channel) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(channels) == 0 {
		channels = AllChannels
	}

	om := orderedmap.New[Channel, *series]()
	for _, ch := range channels {
		if _, exists := om.Get(ch); !exists {
			om.Set(ch, &series{samples: make([]Sample, 0, capacity)})
		}
	}

	return &Buffer{
		capacity: capacity,
		channels: om,
	}
}

// Capacity returns the per-channel window size.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Channels returns the buffer's channels in construction order.
func (b *Buffer) Channels() []Channel {
	result := make([]Channel, 0, b.channels.Len())
	for pair := b.channels.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

func (b *Buffer) lookup(ch Channel) (*series, error) {
	s, ok := b.channels.Get(ch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	return s, nil
}

// Push appends a value with the next sequence index for that channel.
// The index is the only X source, so X is strictly increasing across writers.
func (b *Buffer) Push(ch Channel, value float64) error {
	s, err := b.lookup(ch)
	if err != nil {
		return err
	}
	if !Finite(value) {
		return fmt.Errorf("%w: %v on %s", ErrNonFinite, value, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b.appendLocked(s, Sample{X: float64(s.next), Value: value, At: time.Now()})
	return nil
}

// appendLocked appends and evicts the oldest entry once the window is exceeded.
// Caller must hold s.mu.
func (b *Buffer) appendLocked(s *series, sample Sample) {
	s.samples = append(s.samples, sample)
	if over := len(s.samples) - b.capacity; over > 0 {
		// shift in place so the backing array does not grow without bound
		copy(s.samples, s.samples[over:])
		s.samples = s.samples[:b.capacity]
	}
	s.next++
}

// Snapshot returns a copy of the channel's samples, oldest first.
func (b *Buffer) Snapshot(ch Channel) ([]Sample, error) {
	s, err := b.lookup(ch)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out, nil
}

// Points returns the channel's samples as chart points, oldest first.
func (b *Buffer) Points(ch Channel) ([]Point, error) {
	samples, err := b.Snapshot(ch)
	if err != nil {
		return nil, err
	}
	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = Point{X: s.X, Y: s.Value}
	}
	return points, nil
}

// Latest returns the most recent sample of a channel.
func (b *Buffer) Latest(ch Channel) (Sample, bool) {
	s, err := b.lookup(ch)
	if err != nil {
		return Sample{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Len returns the number of samples held for a channel (0 for unknown channels).
func (b *Buffer) Len(ch Channel) int {
	s, err := b.lookup(ch)
	if err != nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Reset empties every channel and restarts sequence numbering.
func (b *Buffer) Reset() {
	for pair := b.channels.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		s.mu.Lock()
		s.samples = s.samples[:0]
		s.next = 0
		s.mu.Unlock()
	}
}
