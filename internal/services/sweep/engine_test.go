package sweep

import (
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu    sync.Mutex
	sends []writeRecord
}

type writeRecord struct {
	op     string
	params map[string]interface{}
}

func (w *recordingWriter) Send(op string, params map[string]interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sends = append(w.sends, writeRecord{op: op, params: params})
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sends)
}

func (w *recordingWriter) last() (writeRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.sends) == 0 {
		return writeRecord{}, false
	}
	return w.sends[len(w.sends)-1], true
}

func (w *recordingWriter) values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, 0, len(w.sends))
	for _, rec := range w.sends {
		out = append(out, rec.params["value"].(float64))
	}
	return out
}

// newTestEngine returns an engine running fast enough for short tests,
// with the limiter effectively disabled.
func newTestEngine(w Writer) *Engine {
	return NewEngine(w, NewLimiter(time.Nanosecond), 200)
}

func waitSessionEnd(t *testing.T, ch <-chan SessionEvent) SessionEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sweep session to end")
		return SessionEvent{}
	}
}

func TestStartSweepRejectsInvalidConfig(t *testing.T) {
	e := newTestEngine(&recordingWriter{})
	key := Key{Track: 0, Device: 1, Parameter: 2}

	if e.StartSweep(key, Config{Waveform: "square", Duration: time.Second}) {
		t.Error("unknown waveform should be rejected")
	}
	if e.StartSweep(key, Config{Waveform: WaveSine, Duration: 0}) {
		t.Error("zero duration should be rejected")
	}
	if e.ActiveCount() != 0 {
		t.Errorf("rejected sweeps should leave no workers, got %d", e.ActiveCount())
	}
}

func TestStartSweepRefusesDuplicateKey(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	key := Key{Track: 1, Device: 0, Parameter: 3}

	if !e.StartSweep(key, Config{Waveform: WaveSine, Duration: time.Second, Base: 0.5, Amplitude: 0.2, FreqHz: 2}) {
		t.Fatal("first sweep should start")
	}
	defer e.StopSweep(key)

	if e.StartSweep(key, Config{Waveform: WaveTriangle, Duration: time.Second, Base: 0.1}) {
		t.Error("second sweep on the same key should be refused")
	}
	if e.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", e.ActiveCount())
	}
	if e.KeyState(key) != StateActive {
		t.Errorf("KeyState = %s, want active", e.KeyState(key))
	}
}

func TestSweepWritesAndCompletes(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	ended := make(chan SessionEvent, 1)
	e.OnSessionEnd = func(ev SessionEvent) { ended <- ev }

	key := Key{Track: 0, Device: 0, Parameter: 1}
	ok := e.StartSweep(key, Config{
		Waveform:  WaveSine,
		Duration:  150 * time.Millisecond,
		Base:      0.5,
		Amplitude: 0.3,
		FreqHz:    4,
		Class:     "filter",
	})
	if !ok {
		t.Fatal("sweep should start")
	}

	ev := waitSessionEnd(t, ended)
	if ev.Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", ev.Outcome)
	}
	if ev.Key != key {
		t.Errorf("event key = %v, want %v", ev.Key, key)
	}
	if w.count() == 0 {
		t.Fatal("sweep produced no writes")
	}
	rec, _ := w.last()
	if rec.op != "set_device_parameter" {
		t.Errorf("write op = %q, want set_device_parameter", rec.op)
	}
	if rec.params["track_index"] != 0 || rec.params["parameter_index"] != 1 {
		t.Errorf("write addressed wrong parameter: %v", rec.params)
	}
	for _, v := range w.values() {
		if v < 0 || v > 1 {
			t.Fatalf("written value %v escaped [0,1]", v)
		}
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount after completion = %d, want 0", e.ActiveCount())
	}
	if e.KeyState(key) != StateIdle {
		t.Errorf("KeyState after completion = %s, want idle", e.KeyState(key))
	}
}

func TestWrittenValuesClamped(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	ended := make(chan SessionEvent, 1)
	e.OnSessionEnd = func(ev SessionEvent) { ended <- ev }

	// Base near the ceiling with a large amplitude forces raw samples
	// outside the valid range.
	key := Key{Track: 2, Device: 0, Parameter: 0}
	e.StartSweep(key, Config{
		Waveform:  WaveSine,
		Duration:  120 * time.Millisecond,
		Base:      0.9,
		Amplitude: 0.8,
		FreqHz:    8,
	})
	waitSessionEnd(t, ended)

	for _, v := range w.values() {
		if v < 0 || v > 1 {
			t.Fatalf("written value %v escaped [0,1]", v)
		}
	}
}

func TestStopSweepCancels(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	ended := make(chan SessionEvent, 1)
	e.OnSessionEnd = func(ev SessionEvent) { ended <- ev }

	target := 0.5
	key := Key{Track: 0, Device: 1, Parameter: 0}
	e.StartSweep(key, Config{
		Waveform:  WaveTriangle,
		Duration:  time.Hour,
		Base:      0.5,
		Amplitude: 0.2,
		FreqHz:    1,
		Target:    &target,
	})

	if !e.StopSweep(key) {
		t.Fatal("StopSweep should report a cancelled sweep")
	}
	ev := waitSessionEnd(t, ended)
	if ev.Outcome != "cancelled" {
		t.Errorf("outcome = %q, want cancelled", ev.Outcome)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount after cancel = %d, want 0", e.ActiveCount())
	}

	// Cancellation skips the return-to-baseline phase entirely.
	if e.KeyState(key) != StateIdle {
		t.Errorf("KeyState after cancel = %s, want idle", e.KeyState(key))
	}

	if e.StopSweep(key) {
		t.Error("StopSweep on an idle key should return false")
	}
}

func TestReturnToBaselineSettlesExactly(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	ended := make(chan SessionEvent, 1)
	e.OnSessionEnd = func(ev SessionEvent) { ended <- ev }

	target := 0.5
	key := Key{Track: 1, Device: 1, Parameter: 1}
	// A sweep this short ends with the written value close to base, so
	// the drift home is quick.
	e.StartSweep(key, Config{
		Waveform:  WaveSine,
		Duration:  50 * time.Millisecond,
		Base:      0.5,
		Amplitude: 0.05,
		FreqHz:    2,
		Target:    &target,
	})

	ev := waitSessionEnd(t, ended)
	if ev.Outcome != "completed" {
		t.Fatalf("outcome = %q, want completed", ev.Outcome)
	}
	rec, ok := w.last()
	if !ok {
		t.Fatal("no writes recorded")
	}
	if rec.params["value"].(float64) != target {
		t.Errorf("final write = %v, want exact baseline %v", rec.params["value"], target)
	}
	if e.KeyState(key) != StateIdle {
		t.Errorf("KeyState after baseline return = %s, want idle", e.KeyState(key))
	}
}

func TestEmergencyStop(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)
	ended := make(chan SessionEvent, 4)
	e.OnSessionEnd = func(ev SessionEvent) { ended <- ev }

	keys := []Key{
		{Track: 0, Device: 0, Parameter: 0},
		{Track: 0, Device: 0, Parameter: 1},
		{Track: 1, Device: 2, Parameter: 3},
	}
	for i, key := range keys {
		e.SetBaseline(key, 0.1*float64(i+1))
		if !e.StartSweep(key, Config{
			Waveform:  WaveSine,
			Duration:  time.Hour,
			Base:      0.5,
			Amplitude: 0.2,
			FreqHz:    1,
		}) {
			t.Fatalf("sweep %d should start", i)
		}
	}

	done := make(chan struct{})
	go func() {
		e.EmergencyStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("EmergencyStop did not finish within its bounded budget")
	}

	if e.ActiveCount() != 0 {
		t.Fatalf("ActiveCount after emergency stop = %d, want 0", e.ActiveCount())
	}
	for range keys {
		ev := waitSessionEnd(t, ended)
		if ev.Outcome != "emergency" {
			t.Errorf("outcome = %q, want emergency", ev.Outcome)
		}
	}

	// Every configured baseline must be written, rate limiter or not.
	baselineWrites := make(map[float64]bool)
	w.mu.Lock()
	for _, rec := range w.sends {
		baselineWrites[rec.params["value"].(float64)] = true
	}
	w.mu.Unlock()
	for i := range keys {
		want := 0.1 * float64(i+1)
		if !baselineWrites[want] {
			t.Errorf("baseline %v was not written on emergency stop", want)
		}
	}
}

func TestStatusReportsActiveSweeps(t *testing.T) {
	w := &recordingWriter{}
	e := newTestEngine(w)

	key := Key{Track: 3, Device: 0, Parameter: 7}
	e.StartSweep(key, Config{Waveform: WaveRamp, Duration: time.Hour, Base: 0.4, Amplitude: 0.1, FreqHz: 1})
	defer e.StopSweep(key)

	st := e.Status()
	if st.ActiveSweeps != 1 || len(st.Keys) != 1 {
		t.Fatalf("Status = %+v, want one active sweep", st)
	}
	ks := st.Keys[0]
	if ks.Track != 3 || ks.Device != 0 || ks.Parameter != 7 {
		t.Errorf("key status addressed wrong parameter: %+v", ks)
	}
	if ks.State != StateActive {
		t.Errorf("key state = %s, want active", ks.State)
	}
}
