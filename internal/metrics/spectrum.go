package metrics

import (
	"math"
	"math/cmplx"
)

// FFT is a radix-2 transform. Input is zero-padded to a power of two.
func FFT(data []float64) []complex128 {
	n := 1
	for n < len(data) {
		n <<= 1
	}
	padded := make([]float64, n)
	copy(padded, data)
	return fft(padded)
}

func fft(data []float64) []complex128 {
	n := len(data)
	if n <= 1 {
		result := make([]complex128, n)
		for i := range data {
			result[i] = complex(data[i], 0)
		}
		return result
	}

	even := make([]float64, n/2)
	odd := make([]float64, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = data[2*i]
		odd[i] = data[2*i+1]
	}

	feven := fft(even)
	fodd := fft(odd)

	result := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		w := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n)))
		result[k] = feven[k] + w*fodd[k]
		result[k+n/2] = feven[k] - w*fodd[k]
	}
	return result
}

// PowerSpectrum returns the magnitude of the first half of the FFT of the
// mean-removed signal. NaN samples are treated as the mean.
func PowerSpectrum(data []float64) []float64 {
	mean, count := 0.0, 0
	for _, v := range data {
		if !math.IsNaN(v) {
			mean += v
			count++
		}
	}
	if count > 0 {
		mean /= float64(count)
	}

	centered := make([]float64, len(data))
	for i, v := range data {
		if !math.IsNaN(v) {
			centered[i] = v - mean
		}
	}

	f := FFT(centered)
	ps := make([]float64, len(f)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(f[i])
	}
	return ps
}

// DominantFrequency returns the strongest non-zero frequency in cycles per
// unit of sample spacing dt, or 0 when the signal is flat or too short.
func DominantFrequency(data []float64, dt float64) float64 {
	ps := PowerSpectrum(data)
	if len(ps) < 2 || dt <= 0 {
		return 0
	}

	maxIdx, maxPower := 0, 0.0
	for i := 1; i < len(ps); i++ {
		if ps[i] > maxPower {
			maxPower, maxIdx = ps[i], i
		}
	}
	if maxIdx == 0 {
		return 0
	}
	n := 2 * len(ps)
	return float64(maxIdx) / (float64(n) * dt)
}
