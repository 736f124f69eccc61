// Package profile describes the one peripheral the monitor talks to: its
// advertised name, the telemetry service and the characteristic-to-channel map.
package profile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/telemetry"
)

// Well-known identifiers of the mallet firmware.
const (
	DefaultTargetName   = "TechPolo_Mallet"
	DefaultServiceUUID  = "19b10000-0000-0000-0000-000000000001"
	DefaultXUUID        = "19b10000-0000-0000-0000-000000000002"
	DefaultYUUID        = "19b10000-0000-0000-0000-000000000003"
	DefaultZUUID        = "19b10000-0000-0000-0000-000000000004"
	DefaultForceUUID    = "19b10000-0000-0000-0000-000000000005"
	DefaultByteOrderStr = "little"
)

// Profile is static configuration; none of it is negotiated with the peripheral.
// UUIDs are held in normalized form (see device.NormalizeUUID).
type Profile struct {
	TargetName      string
	ServiceUUID     string
	Characteristics map[string]telemetry.Channel
	ByteOrder       binary.ByteOrder
}

// Default returns the mallet firmware profile.
func Default() *Profile {
	p, err := New(DefaultTargetName, DefaultServiceUUID, map[telemetry.Channel]string{
		telemetry.ChannelX:     DefaultXUUID,
		telemetry.ChannelY:     DefaultYUUID,
		telemetry.ChannelZ:     DefaultZUUID,
		telemetry.ChannelForce: DefaultForceUUID,
	}, binary.LittleEndian)
	if err != nil {
		panic(fmt.Sprintf("profile: invalid built-in default: %v", err))
	}
	return p
}

// New validates and normalizes the identifiers. Every channel must map to a
// distinct characteristic. A nil order means little-endian.
func New(targetName, serviceUUID string, chars map[telemetry.Channel]string, order binary.ByteOrder) (*Profile, error) {
	svc, err := device.ValidateUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("at least one characteristic is required")
	}
	if order == nil {
		order = binary.LittleEndian
	}

	mapped := make(map[string]telemetry.Channel, len(chars))
	for ch, raw := range chars {
		uuids, err := device.ValidateUUID(raw)
		if err != nil {
			return nil, fmt.Errorf("%s characteristic: %w", ch, err)
		}
		if other, dup := mapped[uuids[0]]; dup {
			return nil, fmt.Errorf("characteristic %s is mapped to both %s and %s", raw, other, ch)
		}
		mapped[uuids[0]] = ch
	}

	return &Profile{
		TargetName:      targetName,
		ServiceUUID:     svc[0],
		Characteristics: mapped,
		ByteOrder:       order,
	}, nil
}

// ChannelFor maps a characteristic UUID in any accepted form to its channel.
func (p *Profile) ChannelFor(charUUID string) (telemetry.Channel, bool) {
	ch, ok := p.Characteristics[device.NormalizeUUID(charUUID)]
	return ch, ok
}

// MatchesService reports whether uuid identifies the telemetry service.
func (p *Profile) MatchesService(uuid string) bool {
	return device.NormalizeUUID(uuid) == p.ServiceUUID
}

// MatchesName reports an exact advertised-name match.
func (p *Profile) MatchesName(name string) bool {
	return p.TargetName != "" && name == p.TargetName
}

// CharacteristicUUIDs returns the known characteristics in channel order.
func (p *Profile) CharacteristicUUIDs() []string {
	uuids := make([]string, 0, len(p.Characteristics))
	for u := range p.Characteristics {
		uuids = append(uuids, u)
	}
	sort.Slice(uuids, func(i, j int) bool {
		return p.Characteristics[uuids[i]] < p.Characteristics[uuids[j]]
	})
	return uuids
}

// Channels returns the mapped channels in channel order.
func (p *Profile) Channels() []telemetry.Channel {
	uuids := p.CharacteristicUUIDs()
	out := make([]telemetry.Channel, len(uuids))
	for i, u := range uuids {
		out[i] = p.Characteristics[u]
	}
	return out
}
