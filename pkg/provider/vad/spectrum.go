package vad

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// analyser turns a window of samples into byte-scaled frequency data: a
// Blackman-windowed FFT, magnitudes smoothed over time, mapped from a
// decibel range onto 0..255.
type analyser struct {
	size      int
	fft       *fourier.FFT
	window    []float64
	smoothing float64
	minDB     float64
	maxDB     float64

	history  []float64 // last size samples, oldest first
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyser(size int, smoothing float64) *analyser {
	a := &analyser{
		size:      size,
		fft:       fourier.NewFFT(size),
		window:    make([]float64, size),
		smoothing: smoothing,
		minDB:     -100,
		maxDB:     -30,
		history:   make([]float64, size),
		scratch:   make([]float64, size),
		smoothed:  make([]float64, size/2),
	}
	for n := range a.window {
		x := 2 * math.Pi * float64(n) / float64(size)
		a.window[n] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return a
}

// push appends samples to the analysis window, dropping the oldest.
func (a *analyser) push(samples []float64) {
	if len(samples) >= a.size {
		copy(a.history, samples[len(samples)-a.size:])
		return
	}
	copy(a.history, a.history[len(samples):])
	copy(a.history[a.size-len(samples):], samples)
}

// bytes returns the current spectrum, size/2 bins on the 0..255 scale.
func (a *analyser) bytes() []float64 {
	for i, s := range a.history {
		a.scratch[i] = s * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	out := make([]float64, a.size/2)
	scale := 255 / (a.maxDB - a.minDB)
	for k := range out {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		db := a.minDB
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		out[k] = math.Max(0, math.Min(255, scale*(db-a.minDB)))
	}
	return out
}
