// Package sweep provides continuous waveform-based parameter sweeps:
// cancellable background workers that stream smoothed parameter writes to
// the Target over the unreliable channel, rate-limited per parameter class.
package sweep

import (
	"fmt"
	"math"
	"math/rand"
)

// Waveform is the closed set of supported sweep generators.
type Waveform string

const (
	WaveSine       Waveform = "sine"
	WaveTriangle   Waveform = "triangle"
	WaveRamp       Waveform = "ramp"
	WaveRandomWalk Waveform = "random_walk"
)

// ParseWaveform validates a waveform name at load time.
func ParseWaveform(s string) (Waveform, error) {
	switch Waveform(s) {
	case WaveSine, WaveTriangle, WaveRamp, WaveRandomWalk:
		return Waveform(s), nil
	default:
		return "", fmt.Errorf("sweep: unknown waveform %q", s)
	}
}

// SmoothingFactor returns the exponential smoothing α applied between the
// raw waveform sample and the written value. The random walk smooths less
// aggressively since its steps are already bounded.
func (w Waveform) SmoothingFactor() float64 {
	if w == WaveRandomWalk {
		return 0.5
	}
	return 0.3
}

// Sample computes the raw waveform value at elapsed seconds, before
// clamping and smoothing. For the random walk, prev is the previous raw
// value and the step is bounded by a fraction of the amplitude.
func (w Waveform) Sample(elapsed, base, amplitude, freqHz, prev float64, rng *rand.Rand) float64 {
	switch w {
	case WaveSine:
		return base + amplitude*math.Sin(2*math.Pi*freqHz*elapsed)

	case WaveTriangle:
		phase := math.Mod(freqHz*elapsed, 1.0)
		// Rises from -1 at phase 0 to +1 at phase 0.5, back down to -1.
		var v float64
		if phase < 0.5 {
			v = 4*phase - 1
		} else {
			v = 3 - 4*phase
		}
		return base + amplitude*v

	case WaveRamp:
		// Sawtooth from base-amplitude up to base+amplitude each period.
		phase := math.Mod(freqHz*elapsed, 1.0)
		return base + amplitude*(2*phase-1)

	case WaveRandomWalk:
		step := amplitude * 0.1
		return prev + (rng.Float64()*2-1)*step

	default:
		return base
	}
}

// clamp01 bounds a normalized parameter value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
