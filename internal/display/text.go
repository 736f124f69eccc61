package display

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/mallet/internal/telemetry"
	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// labelColumns is the space taken by the label and value columns before a sparkline.
const labelColumns = 28

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// TextRenderer draws frames as a coloured text dashboard with one sparkline per channel.
type TextRenderer struct {
	out    io.Writer
	width  int
	clear  bool
	colors bool
}

// TextOption configures a TextRenderer.
type TextOption func(*TextRenderer)

// WithWidth fixes the line width instead of querying the terminal.
func WithWidth(width int) TextOption {
	return func(r *TextRenderer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithColors forces colour output on or off.
func WithColors(enabled bool) TextOption {
	return func(r *TextRenderer) { r.colors = enabled }
}

// WithClearScreen forces the clear-screen sequence before every frame on or off.
func WithClearScreen(enabled bool) TextOption {
	return func(r *TextRenderer) { r.clear = enabled }
}

// NewTextRenderer creates a renderer writing to out. When out is a terminal
// the width follows the terminal and each frame redraws the screen.
func NewTextRenderer(out io.Writer, opts ...TextOption) *TextRenderer {
	r := &TextRenderer{out: out, width: DefaultWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
		r.clear = true
		r.colors = !color.NoColor
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *TextRenderer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if r.colors {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (r *TextRenderer) Render(f Frame) error {
	var sb strings.Builder
	if r.clear {
		sb.WriteString("\033[2J\033[H")
	}

	bold := r.paint(color.Bold)
	dim := r.paint(color.Faint)

	flag := r.paint(color.FgRed, color.Bold).Sprint("DISCONNECTED")
	if f.Connected {
		flag = r.paint(color.FgGreen, color.Bold).Sprint("CONNECTED")
	}
	fmt.Fprintf(&sb, "%s  %s", bold.Sprint("mallet"), flag)
	if f.Peripheral != nil {
		fmt.Fprintf(&sb, "  %s", f.Peripheral)
	}
	sb.WriteString("\n")
	status := fmt.Sprintf("state=%s adapter=%s source=%s", f.State, f.Adapter, f.Source)
	if f.DroppedUpdates > 0 {
		status += fmt.Sprintf(" dropped=%d", f.DroppedUpdates)
	}
	fmt.Fprintf(&sb, "%s\n", dim.Sprint(status))
	sb.WriteString("\n")

	sparkWidth := r.width - labelColumns
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	value := r.paint(color.FgCyan)
	for _, s := range f.Series {
		latest := "-"
		if v, ok := s.Latest(); ok {
			latest = fmt.Sprintf("%.2f", v)
		}
		fmt.Fprintf(&sb, "%-16s %s  %s\n", s.Label, value.Sprintf("%9s", latest), Sparkline(s.Points, sparkWidth))
	}

	if len(f.Candidates) > 0 {
		sb.WriteString("\n")
		sb.WriteString(bold.Sprint("Peripherals") + "\n")
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		for i, c := range f.Candidates {
			fmt.Fprintf(tw, "  [%d]\t%s\t%s\t%d dBm\n", i, c.DisplayName(), c.ID, c.RSSI)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(f.Activity) > 0 {
		sb.WriteString("\n")
		header := "Activity"
		if int64(len(f.Activity)) < f.ActivityTotal {
			header = fmt.Sprintf("Activity (last %d of %d)", len(f.Activity), f.ActivityTotal)
		}
		sb.WriteString(bold.Sprint(header) + "\n")
		for _, line := range f.Activity {
			sb.WriteString("  " + line + "\n")
		}
	}

	_, err := io.WriteString(r.out, sb.String())
	return err
}

// Sparkline draws the last width points scaled between their minimum and maximum.
// Non-finite points are drawn as blanks and do not affect the scale.
func Sparkline(points []telemetry.Point, width int) string {
	if width <= 0 || len(points) == 0 {
		return ""
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if telemetry.Finite(p.Y) {
			lo = math.Min(lo, p.Y)
			hi = math.Max(hi, p.Y)
		}
	}

	top := len(sparkLevels) - 1
	out := make([]rune, len(points))
	for i, p := range points {
		if !telemetry.Finite(p.Y) {
			out[i] = ' '
			continue
		}
		idx := len(sparkLevels) / 2
		if hi > lo {
			// halved so hi-lo cannot overflow for spreads near MaxFloat64
			ratio := (p.Y/2 - lo/2) / (hi/2 - lo/2)
			if !math.IsNaN(ratio) {
				idx = int(math.Round(ratio * float64(top)))
			}
		}
		out[i] = sparkLevels[min(max(idx, 0), top)]
	}
	return string(out)
}
