package device

import (
	"fmt"
	"math"
)

// Radio band defaults: the telephone voice band, filtered around its centre.
const (
	DefaultLowHz  = 300.0
	DefaultHighHz = 3400.0
	DefaultQ      = 1.0
)

// FilterSpec configures the band-pass stage of a [Timeline].
type FilterSpec struct {
	Enabled bool
	LowHz   float64
	HighHz  float64
	Q       float64
}

// DefaultFilter is the radio-voice band-pass, enabled.
var DefaultFilter = FilterSpec{Enabled: true, LowHz: DefaultLowHz, HighHz: DefaultHighHz, Q: DefaultQ}

// Center returns the band centre frequency, the midpoint of the band edges.
func (f FilterSpec) Center() float64 {
	return (f.LowHz + f.HighHz) / 2
}

// Validate reports whether the filter can be built for the given sample rate.
func (f FilterSpec) Validate(sampleRate int) error {
	if !f.Enabled {
		return nil
	}
	switch {
	case f.LowHz <= 0 || f.HighHz <= f.LowHz:
		return fmt.Errorf("device: filter band %.0f-%.0f Hz is empty", f.LowHz, f.HighHz)
	case f.Center() >= float64(sampleRate)/2:
		return fmt.Errorf("device: filter centre %.0f Hz is above Nyquist for %d Hz", f.Center(), sampleRate)
	case f.Q <= 0:
		return fmt.Errorf("device: filter Q must be positive, got %g", f.Q)
	}
	return nil
}

// bandPass is a second-order IIR band-pass (constant 0 dB peak gain) with
// independent state per interleaved channel.
type bandPass struct {
	b0, b2, a1, a2 float64 // normalised by a0; b1 is always 0
	x1, x2, y1, y2 []float64
}

func newBandPass(spec FilterSpec, sampleRate, channels int) *bandPass {
	w0 := 2 * math.Pi * spec.Center() / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * spec.Q)
	a0 := 1 + alpha
	return &bandPass{
		b0: alpha / a0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
		x1: make([]float64, channels),
		x2: make([]float64, channels),
		y1: make([]float64, channels),
		y2: make([]float64, channels),
	}
}

// process filters interleaved samples in place.
func (f *bandPass) process(mix []int32, channels int) {
	for i := range mix {
		c := i % channels
		x := float64(mix[i])
		y := f.b0*x + f.b2*f.x2[c] - f.a1*f.y1[c] - f.a2*f.y2[c]
		f.x2[c], f.x1[c] = f.x1[c], x
		f.y2[c], f.y1[c] = f.y1[c], y
		mix[i] = int32(math.Round(y))
	}
}
