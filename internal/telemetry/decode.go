package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// SampleWidth is the payload size of one notification: an IEEE-754 float32.
const SampleWidth = 4

// ErrNonFinite is returned for NaN and infinite values; charts and JSON
// output cannot represent them.
var ErrNonFinite = errors.New("non-finite value")

// DecodeError reports a payload that is not exactly SampleWidth bytes, or one
// that decodes to a non-finite float (Err is then ErrNonFinite).
type DecodeError struct {
	Characteristic string
	Want           int
	Got            int
	Value          float32
	Err            error
}

func (e *DecodeError) Error() string {
	prefix := "decode"
	if e.Characteristic != "" {
		prefix += " " + e.Characteristic
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v %v", prefix, e.Err, e.Value)
	}
	return fmt.Sprintf("%s: payload is %d bytes, want %d", prefix, e.Got, e.Want)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeFloat32 reinterprets a 4-byte payload as a float32 in the given byte order.
// A nil order means little-endian. NaN and ±Inf are rejected with ErrNonFinite.
func DecodeFloat32(payload []byte, order binary.ByteOrder) (float32, error) {
	if len(payload) != SampleWidth {
		return 0, &DecodeError{Want: SampleWidth, Got: len(payload)}
	}
	if order == nil {
		order = binary.LittleEndian
	}
	v := math.Float32frombits(order.Uint32(payload))
	if !Finite(float64(v)) {
		return 0, &DecodeError{Want: SampleWidth, Got: SampleWidth, Value: v, Err: ErrNonFinite}
	}
	return v, nil
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EncodeFloat32 is the inverse of DecodeFloat32; used by simulators and tests.
func EncodeFloat32(v float32, order binary.ByteOrder) []byte {
	if order == nil {
		order = binary.LittleEndian
	}
	buf := make([]byte, SampleWidth)
	order.PutUint32(buf, math.Float32bits(v))
	return buf
}

// ParseByteOrder accepts "little"/"le" and "big"/"be".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("invalid byte order %q: use little or big", s)
	}
}
