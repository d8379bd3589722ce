package viz

import (
	"math"

	"github.com/guptarohit/asciigraph"
)

// PlotSeries draws values as an ASCII line graph captioned with name. NaN and
// infinite samples are skipped.
func PlotSeries(name string, values []float64, width, height int) string {
	data := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return Subtle.Render(name + ": no data")
	}

	opts := []asciigraph.Option{asciigraph.Caption(name)}
	if width > 0 {
		opts = append(opts, asciigraph.Width(width))
	}
	if height > 0 {
		opts = append(opts, asciigraph.Height(height))
	}
	return asciigraph.Plot(data, opts...)
}
