package sweep

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestParseWaveform(t *testing.T) {
	for _, name := range []string{"sine", "triangle", "ramp", "random_walk"} {
		if _, err := ParseWaveform(name); err != nil {
			t.Errorf("ParseWaveform(%q) returned error: %v", name, err)
		}
	}
	if _, err := ParseWaveform("square"); err == nil {
		t.Error("expected error for unknown waveform")
	}
	if _, err := ParseWaveform(""); err == nil {
		t.Error("expected error for empty waveform")
	}
}

func TestSmoothingFactor(t *testing.T) {
	if got := WaveRandomWalk.SmoothingFactor(); got != 0.5 {
		t.Errorf("random walk smoothing = %v, want 0.5", got)
	}
	for _, w := range []Waveform{WaveSine, WaveTriangle, WaveRamp} {
		if got := w.SmoothingFactor(); got != 0.3 {
			t.Errorf("%s smoothing = %v, want 0.3", w, got)
		}
	}
}

func TestSineSamplePeak(t *testing.T) {
	// At a quarter period the sine contributes its full amplitude.
	got := WaveSine.Sample(0.25, 0.5, 0.3, 1.0, 0, nil)
	if math.Abs(got-0.8) > 1e-9 {
		t.Errorf("sine at quarter period = %v, want 0.8", got)
	}

	// At t=0 the sine contributes nothing.
	got = WaveSine.Sample(0, 0.5, 0.3, 1.0, 0, nil)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("sine at t=0 = %v, want 0.5", got)
	}
}

func TestTriangleSample(t *testing.T) {
	cases := []struct {
		elapsed float64
		want    float64
	}{
		{0, 0.5 - 0.2},    // trough at phase 0
		{0.25, 0.5},       // midpoint rising
		{0.5, 0.5 + 0.2},  // peak at phase 0.5
		{0.75, 0.5},       // midpoint falling
		{1.0, 0.5 - 0.2},  // trough again, next period
		{1.25, 0.5},       // periodicity
	}
	for _, tc := range cases {
		got := WaveTriangle.Sample(tc.elapsed, 0.5, 0.2, 1.0, 0, nil)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("triangle at t=%v = %v, want %v", tc.elapsed, got, tc.want)
		}
	}
}

func TestRampSample(t *testing.T) {
	// Sawtooth runs from base-amplitude to base+amplitude over one period.
	got := WaveRamp.Sample(0, 0.5, 0.4, 1.0, 0, nil)
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("ramp at phase 0 = %v, want 0.1", got)
	}
	got = WaveRamp.Sample(0.5, 0.5, 0.4, 1.0, 0, nil)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("ramp at phase 0.5 = %v, want 0.5", got)
	}
	got = WaveRamp.Sample(0.999, 0.5, 0.4, 1.0, 0, nil)
	if got <= 0.89 {
		t.Errorf("ramp near period end = %v, want near 0.9", got)
	}
}

func TestRandomWalkStepBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prev := 0.5
	for i := 0; i < 1000; i++ {
		next := WaveRandomWalk.Sample(float64(i), 0.5, 0.4, 1.0, prev, rng)
		if math.Abs(next-prev) > 0.4*0.1+1e-9 {
			t.Fatalf("step %d exceeded bound: prev=%v next=%v", i, prev, next)
		}
		prev = next
	}
}

func TestClamp01(t *testing.T) {
	if got := clamp01(-0.5); got != 0 {
		t.Errorf("clamp01(-0.5) = %v, want 0", got)
	}
	if got := clamp01(1.5); got != 1 {
		t.Errorf("clamp01(1.5) = %v, want 1", got)
	}
	if got := clamp01(0.42); got != 0.42 {
		t.Errorf("clamp01(0.42) = %v, want 0.42", got)
	}
}
