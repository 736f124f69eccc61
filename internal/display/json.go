package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/srg/mallet/internal/telemetry"
)

// JSONRenderer writes one JSON object per frame (JSON lines).
type JSONRenderer struct {
	enc *json.Encoder
}

func NewJSONRenderer(out io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(out)}
}

// Render encodes f. JSON has no NaN or Inf, so such points are left out.
func (r *JSONRenderer) Render(f Frame) error {
	f.Series = finiteSeries(f.Series)
	if err := r.enc.Encode(f); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// finiteSeries returns series unchanged unless a point is non-finite, in
// which case it returns a copy without those points.
func finiteSeries(series []SeriesFrame) []SeriesFrame {
	clean := true
	for _, s := range series {
		for _, p := range s.Points {
			clean = clean && telemetry.Finite(p.X) && telemetry.Finite(p.Y)
		}
	}
	if clean {
		return series
	}

	out := make([]SeriesFrame, len(series))
	for i, s := range series {
		out[i] = s
		out[i].Points = make([]telemetry.Point, 0, len(s.Points))
		for _, p := range s.Points {
			if telemetry.Finite(p.X) && telemetry.Finite(p.Y) {
				out[i].Points = append(out[i].Points, p)
			}
		}
	}
	return out
}

// NewRenderer returns the renderer for an output format name ("text" or "json").
func NewRenderer(format string, out io.Writer) (Renderer, error) {
	switch format {
	case "", "text":
		return NewTextRenderer(out), nil
	case "json":
		return NewJSONRenderer(out), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q: use text or json", format)
	}
}
