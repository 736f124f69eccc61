package telemetry

import (
	"fmt"
	"strings"
)

// Channel identifies one of the four signal streams.
type Channel int

const (
	ChannelX Channel = iota
	ChannelY
	ChannelZ
	ChannelForce
)

// AllChannels lists every channel in display order.
var AllChannels = []Channel{ChannelX, ChannelY, ChannelZ, ChannelForce}

// AccelChannels are the channels driven by the fake generator by default.
var AccelChannels = []Channel{ChannelX, ChannelY, ChannelZ}

func (c Channel) String() string {
	switch c {
	case ChannelX:
		return "x"
	case ChannelY:
		return "y"
	case ChannelZ:
		return "z"
	case ChannelForce:
		return "force"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Label is the human-readable chart title.
func (c Channel) Label() string {
	switch c {
	case ChannelX:
		return "X Acceleration"
	case ChannelY:
		return "Y Acceleration"
	case ChannelZ:
		return "Z Acceleration"
	case ChannelForce:
		return "Force"
	default:
		return c.String()
	}
}

// ParseChannel converts a channel name ("x", "y", "z", "force") to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return ChannelX, nil
	case "y":
		return ChannelY, nil
	case "z":
		return ChannelZ, nil
	case "force", "f":
		return ChannelForce, nil
	default:
		return 0, fmt.Errorf("invalid channel %q: use x, y, z, or force", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
