package display

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/srg/mallet/internal/device"
	"github.com/srg/mallet/internal/session"
	"github.com/srg/mallet/internal/telemetry"
	"github.com/srg/mallet/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedFrame() Frame {
	mallet := device.Peripheral{ID: "aa:bb", Name: "TechPolo_Mallet"}
	return Frame{
		Session:    "s-1",
		Source:     SourceBLE,
		Connected:  true,
		State:      session.Connected,
		Adapter:    device.AdapterPoweredOn,
		Peripheral: &mallet,
		Series: []SeriesFrame{
			{Channel: telemetry.ChannelX, Label: "X Acceleration", Points: []telemetry.Point{{X: 1, Y: 0}, {X: 2, Y: 50}, {X: 3, Y: 100}}},
			{Channel: telemetry.ChannelForce, Label: "Force"},
		},
		Candidates: []device.Candidate{{Peripheral: mallet, RSSI: -42}},
		Activity:   []string{"12:00:00 Connected"},
	}
}

func TestTextRenderer_Render(t *testing.T) {
	var out bytes.Buffer
	r := NewTextRenderer(&out, WithWidth(80), WithColors(false))

	require.NoError(t, r.Render(connectedFrame()))

	expected := strings.Join([]string{
		"mallet  CONNECTED  TechPolo_Mallet (aa:bb)",
		"state=connected adapter=powered_on source=ble",
		"",
		"X Acceleration      100.00  ▁▅█",
		"Force" + strings.Repeat(" ", 20) + "-",
		"",
		"Peripherals",
		"  [0]  TechPolo_Mallet  aa:bb  -42 dBm",
		"",
		"Activity",
		"  12:00:00 Connected",
	}, "\n")
	testutils.NewTextAsserter(t).Assert(out.String(), expected)
}

func TestTextRenderer_DisconnectedWithoutExtras(t *testing.T) {
	var out bytes.Buffer
	r := NewTextRenderer(&out, WithColors(false))

	require.NoError(t, r.Render(Frame{Source: SourceFake, State: session.Idle, Adapter: device.AdapterUnknown}))

	expected := "mallet  DISCONNECTED\nstate=idle adapter=unknown source=fake"
	testutils.NewTextAsserter(t).Assert(out.String(), expected)
}

func TestTextRenderer_ColorsAndClearScreen(t *testing.T) {
	var out bytes.Buffer
	r := NewTextRenderer(&out, WithColors(true), WithClearScreen(true))

	require.NoError(t, r.Render(connectedFrame()))

	rendered := out.String()
	assert.True(t, strings.HasPrefix(rendered, "\033[2J\033[H"))
	assert.Contains(t, rendered, "\x1b[")
	assert.Contains(t, testutils.StripANSI(rendered), "mallet  CONNECTED")
}

func TestSparkline(t *testing.T) {
	pts := func(ys ...float64) []telemetry.Point {
		out := make([]telemetry.Point, len(ys))
		for i, y := range ys {
			out[i] = telemetry.Point{X: float64(i + 1), Y: y}
		}
		return out
	}

	tests := []struct {
		name   string
		points []telemetry.Point
		width  int
		want   string
	}{
		{name: "empty", points: nil, width: 10, want: ""},
		{name: "scaled", points: pts(0, 50, 100), width: 10, want: "▁▅█"},
		{name: "flat", points: pts(7, 7, 7), width: 10, want: "▅▅▅"},
		{name: "keeps newest", points: pts(100, 0, 100), width: 2, want: "▁█"},
		{name: "zero width", points: pts(1, 2), width: 0, want: ""},
		{name: "NaN drawn blank", points: pts(0, math.NaN(), 100), width: 10, want: "▁ █"},
		{name: "infinities drawn blank", points: pts(math.Inf(1), 0, 100, math.Inf(-1)), width: 10, want: " ▁█ "},
		{name: "only non-finite", points: pts(math.NaN(), math.Inf(-1)), width: 10, want: "  "},
		{name: "full float64 spread", points: pts(-math.MaxFloat64, 0, math.MaxFloat64), width: 10, want: "▁▅█"},
		{name: "single point", points: pts(-3), width: 10, want: "▅"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sparkline(tt.points, tt.width))
		})
	}
}

func TestJSONRenderer_Render(t *testing.T) {
	var out bytes.Buffer
	r := NewJSONRenderer(&out)

	require.NoError(t, r.Render(connectedFrame()))
	require.NoError(t, r.Render(Frame{Source: SourceFake}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	testutils.NewJSONAsserter(t).Assert(lines[0], `{
		"session": "s-1",
		"source": "ble",
		"connected": true,
		"state": "connected",
		"adapter": "powered_on",
		"peripheral": {"id": "aa:bb", "name": "TechPolo_Mallet"},
		"series": [
			{"channel": "x", "label": "X Acceleration", "points": [{"x": 1, "y": 0}, {"x": 2, "y": 50}, {"x": 3, "y": 100}]},
			{"channel": "force", "label": "Force", "points": null}
		],
		"candidates": [{"id": "aa:bb", "name": "TechPolo_Mallet", "rssi": -42, "last_seen": "<<PRESENCE>>"}],
		"activity": ["12:00:00 Connected"]
	}`)
	testutils.NewJSONAsserter(t).Assert(lines[1], `{"source": "fake", "connected": false, "state": "idle", "series": null}`)
}

func TestJSONRenderer_OmitsNonFinitePoints(t *testing.T) {
	var out bytes.Buffer
	f := Frame{Source: SourceBLE, State: session.Connected, Series: []SeriesFrame{
		{Channel: telemetry.ChannelX, Label: "X Acceleration", Points: []telemetry.Point{
			{X: 0, Y: 1}, {X: 1, Y: math.NaN()}, {X: 2, Y: math.Inf(1)}, {X: 3, Y: 2},
		}},
	}}

	require.NoError(t, NewJSONRenderer(&out).Render(f))
	testutils.NewJSONAsserter(t).Assert(out.String(), `{
		"source": "ble",
		"connected": false,
		"state": "connected",
		"series": [{"channel": "x", "label": "X Acceleration", "points": [{"x": 0, "y": 1}, {"x": 3, "y": 2}]}]
	}`)
	assert.True(t, math.IsNaN(f.Series[0].Points[1].Y), "caller's frame is not modified")
}

func TestRenderers_DecodedPayloads(t *testing.T) {
	buf := telemetry.NewBuffer(10, telemetry.ChannelX)
	payloads := [][]byte{
		telemetry.EncodeFloat32(10, nil),
		{0x00, 0x00, 0xc0, 0x7f}, // NaN
		telemetry.EncodeFloat32(-math.MaxFloat32, nil),
		{0x00, 0x00, 0x80, 0x7f}, // +Inf
		{0x00, 0x00, 0x80, 0xff}, // -Inf
		telemetry.EncodeFloat32(math.MaxFloat32, binary.LittleEndian),
	}
	var rejected int
	for _, payload := range payloads {
		v, err := telemetry.DecodeFloat32(payload, nil)
		if err != nil {
			require.ErrorIs(t, err, telemetry.ErrNonFinite)
			rejected++
			continue
		}
		require.NoError(t, buf.Push(telemetry.ChannelX, float64(v)))
	}
	require.Equal(t, 3, rejected)

	points, err := buf.Points(telemetry.ChannelX)
	require.NoError(t, err)
	f := Frame{Source: SourceBLE, Series: []SeriesFrame{{Channel: telemetry.ChannelX, Label: "X Acceleration", Points: points}}}

	var text bytes.Buffer
	require.NoError(t, NewTextRenderer(&text, WithWidth(80), WithColors(false)).Render(f))
	assert.Contains(t, text.String(), "▅▁█")

	var js bytes.Buffer
	require.NoError(t, NewJSONRenderer(&js).Render(f))
	assert.Contains(t, js.String(), `"points":[{"x":0,"y":10},{"x":1,"y":`)
}

func TestTextRenderer_ShowsDroppedAndActivityTotal(t *testing.T) {
	var out bytes.Buffer
	r := NewTextRenderer(&out, WithColors(false))

	require.NoError(t, r.Render(Frame{
		Source:         SourceFake,
		State:          session.Idle,
		Adapter:        device.AdapterPoweredOn,
		Activity:       []string{"12:00:01 b", "12:00:02 c"},
		ActivityTotal:  5,
		DroppedUpdates: 3,
	}))

	expected := strings.Join([]string{
		"mallet  DISCONNECTED",
		"state=idle adapter=powered_on source=fake dropped=3",
		"",
		"",
		"Activity (last 2 of 5)",
		"  12:00:01 b",
		"  12:00:02 c",
	}, "\n")
	testutils.NewTextAsserter(t).Assert(out.String(), expected)
}

func TestNewRenderer(t *testing.T) {
	var out bytes.Buffer

	r, err := NewRenderer("json", &out)
	require.NoError(t, err)
	assert.IsType(t, &JSONRenderer{}, r)

	r, err = NewRenderer("", &out)
	require.NoError(t, err)
	assert.IsType(t, &TextRenderer{}, r)

	_, err = NewRenderer("xml", &out)
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"ble", "fake", "mixed"} {
		got, err := ParseSource(s)
		require.NoError(t, err)
		assert.Equal(t, Source(s), got)
	}
	got, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceBLE, got)

	_, err = ParseSource("radio")
	var inv *InvalidSourceError
	assert.ErrorAs(t, err, &inv)
}
