package poller

import "time"

// ParameterConfig describes one monitored Target parameter. Immutable once
// registered with the poller.
type ParameterConfig struct {
	Index int     // Target-side identifier, unique within a device
	Name  string  // display name
	Min   float64 // raw-unit lower bound used for normalization
	Max   float64 // raw-unit upper bound used for normalization
	Unit  string  // display only
}

// Normalize maps a raw Target-unit value into [0,1]. When the configured
// range is degenerate the raw value passes through unchanged.
func (p ParameterConfig) Normalize(raw float64) float64 {
	if p.Max == p.Min {
		return raw
	}
	return (raw - p.Min) / (p.Max - p.Min)
}

// Snapshot is one sampling instant. It is immutable after construction;
// whoever holds it last owns it.
type Snapshot struct {
	Timestamp time.Time
	// Values maps parameter index to its normalized value. Only indices
	// present in the last successful read appear.
	Values map[int]float64
	// Raw maps parameter index to the raw Target-unit value.
	Raw map[int]float64
}

// Value returns the normalized value for a parameter index, and whether the
// index was present in this sample. Absence is a normal condition, not an
// error.
func (s *Snapshot) Value(index int) (float64, bool) {
	v, ok := s.Values[index]
	return v, ok
}
