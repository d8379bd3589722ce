// Package metrics summarizes recorded dynamics columns.
package metrics

import "math"

// Summary describes one column of a trace. NaN samples are not counted.
type Summary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	RMS   float64
	// Drift is |last-first|/|first|, or 0 when the first sample is 0.
	Drift float64
	// Violations counts samples whose magnitude exceeded the threshold given
	// to Summarize.
	Violations int
}

// Summarize computes a Summary. A threshold of 0 disables violation counting.
func Summarize(values []float64, threshold float64) Summary {
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	var first, last, sum, sumSq float64

	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if s.Count == 0 {
			first = v
		}
		last = v
		s.Count++
		sum += v
		sumSq += v * v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
		if threshold > 0 && math.Abs(v) > threshold {
			s.Violations++
		}
	}

	if s.Count == 0 {
		return Summary{}
	}
	s.Mean = sum / float64(s.Count)
	s.RMS = math.Sqrt(sumSq / float64(s.Count))
	if first != 0 {
		s.Drift = math.Abs(last-first) / math.Abs(first)
	}
	return s
}
