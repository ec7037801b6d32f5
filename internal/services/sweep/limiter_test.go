package sweep

import (
	"testing"
	"time"
)

func TestLimiterEnforcesInterval(t *testing.T) {
	l := NewLimiter(50 * time.Millisecond)
	now := time.Now()

	if !l.Allow("filter", now) {
		t.Fatal("first write should be allowed")
	}
	if l.Allow("filter", now.Add(10*time.Millisecond)) {
		t.Error("write inside the interval should be denied")
	}
	if !l.Allow("filter", now.Add(60*time.Millisecond)) {
		t.Error("write after the interval should be allowed")
	}
}

func TestLimiterClassesIndependent(t *testing.T) {
	l := NewLimiter(50 * time.Millisecond)
	now := time.Now()

	if !l.Allow("filter", now) {
		t.Fatal("first filter write should be allowed")
	}
	if !l.Allow("volume", now) {
		t.Error("volume class should not share the filter budget")
	}
	if l.Allow("filter", now.Add(time.Millisecond)) {
		t.Error("second filter write inside interval should be denied")
	}
}

func TestLimiterPerClassOverride(t *testing.T) {
	l := NewLimiter(50 * time.Millisecond)
	l.SetClassInterval("volume", 200*time.Millisecond)
	now := time.Now()

	l.Allow("volume", now)
	if l.Allow("volume", now.Add(100*time.Millisecond)) {
		t.Error("override interval should deny at 100ms")
	}
	if !l.Allow("volume", now.Add(210*time.Millisecond)) {
		t.Error("override interval should allow at 210ms")
	}
}

func TestLimiterDeniedWritesAreSkipped(t *testing.T) {
	l := NewLimiter(50 * time.Millisecond)
	now := time.Now()

	l.Allow("filter", now)
	// A denied write must not advance the last-write timestamp.
	l.Allow("filter", now.Add(40*time.Millisecond))
	if !l.Allow("filter", now.Add(55*time.Millisecond)) {
		t.Error("denied write should not reset the interval clock")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(time.Hour)
	now := time.Now()

	l.Allow("filter", now)
	if l.Allow("filter", now.Add(time.Minute)) {
		t.Fatal("write inside the interval should be denied")
	}
	l.Reset()
	if !l.Allow("filter", now.Add(time.Minute)) {
		t.Error("write after Reset should be allowed immediately")
	}
}
