// Package display turns the telemetry buffer and session state into frames
// and hands them to a Renderer. View owns everything a running monitor needs
// and releases it on Stop.
package display

import (
	"fmt"
	"time"

	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/session"
	"github.com/srg/mallet/internal/telemetry"
)

// Renderer draws one frame. Implementations need not be safe for concurrent use;
// View calls Render from a single goroutine.
type Renderer interface {
	Render(f Frame) error
}

// SeriesFrame is one chart: a channel and its ordered points.
type SeriesFrame struct {
	Channel telemetry.Channel `json:"channel"`
	Label   string            `json:"label"`
	Points  []telemetry.Point `json:"points"`
}

// Latest returns the most recent Y value.
func (s SeriesFrame) Latest() (float64, bool) {
	if len(s.Points) == 0 {
		return 0, false
	}
	return s.Points[len(s.Points)-1].Y, true
}

// Frame is everything shown at one refresh. Activity holds the newest lines
// out of ActivityTotal; DroppedUpdates counts session status updates lost to
// a slow reader.
type Frame struct {
	Session        string              `json:"session,omitempty"`
	Source         Source              `json:"source"`
	Connected      bool                `json:"connected"`
	State          session.ConnState   `json:"state"`
	Adapter        device.AdapterState `json:"adapter"`
	Peripheral     *device.Peripheral  `json:"peripheral,omitempty"`
	Series         []SeriesFrame       `json:"series"`
	Candidates     []device.Candidate  `json:"candidates,omitempty"`
	Activity       []string            `json:"activity,omitempty"`
	ActivityTotal  int64               `json:"activity_total,omitempty"`
	DroppedUpdates int64               `json:"dropped_updates,omitempty"`
	At             time.Time           `json:"-"`
}

// Source selects what feeds the displayed series.
type Source string

const (
	// SourceBLE charts decoded notifications.
	SourceBLE Source = "ble"
	// SourceFake charts generator output; BLE values are only logged.
	SourceFake Source = "fake"
	// SourceMixed runs both; the generator drives X, Y and Z.
	SourceMixed Source = "mixed"
)

// ParseSource accepts "ble", "fake" or "mixed".
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceBLE, SourceFake, SourceMixed:
		return Source(s), nil
	case "":
		return SourceBLE, nil
	default:
		return "", &InvalidSourceError{Value: s}
	}
}

// InvalidSourceError reports an unknown source name.
type InvalidSourceError struct {
	Value string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source %q: use ble, fake, or mixed", e.Value)
}

func (s Source) generated() bool {
	return s == SourceFake || s == SourceMixed
}
