package sweep

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/livepilot/livepilot-go/internal/metrics"
)

// Writer is the fire-and-forget actuation surface the engine needs.
type Writer interface {
	Send(op string, params map[string]interface{})
}

// Key identifies one sweepable Target parameter.
type Key struct {
	Track     int
	Device    int
	Parameter int
}

// State is the lifecycle of one sweep key.
type State string

const (
	StateIdle                State = "idle"
	StateActive              State = "active"
	StateReturningToBaseline State = "returning_to_baseline"
)

const (
	// baselineEpsilon is how close the return-to-baseline drift must get
	// before the exact baseline write is issued.
	baselineEpsilon = 0.001
	// returnRate is the fixed return-to-baseline drift speed, in
	// normalized value per second.
	returnRate = 0.1
)

// Config describes one sweep.
type Config struct {
	Waveform  Waveform
	Duration  time.Duration
	Base      float64
	Amplitude float64
	FreqHz    float64
	Class     string // parameter class for rate limiting

	// Target, when set, is the baseline the parameter drifts back to
	// after the sweep completes naturally. Cancellation skips it.
	Target *float64
}

// SessionEvent describes one finished sweep for bookkeeping hooks.
type SessionEvent struct {
	Key       Key
	Waveform  Waveform
	Class     string
	Duration  time.Duration
	Outcome   string // "completed", "cancelled", or "emergency"
	StartedAt time.Time
	EndedAt   time.Time
}

// sweepState is the per-key mutable record while a sweep (or its
// return-to-baseline phase) is alive.
type sweepState struct {
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	state   State
	base    float64
	current float64
}

func (st *sweepState) signalCancel() {
	st.cancelOnce.Do(func() { close(st.cancel) })
}

// Engine runs independent, cancellable waveform sweeps.
type Engine struct {
	mu sync.Mutex

	client        Writer
	limiter       *Limiter
	writeInterval time.Duration

	active    map[Key]*sweepState
	baselines map[Key]float64
	emergency bool

	// OnSessionEnd, when set, receives one event per finished sweep. It
	// runs on the sweep worker and must not block.
	OnSessionEnd func(SessionEvent)
}

// NewEngine creates a sweep engine writing through client at writeRateHz.
func NewEngine(client Writer, limiter *Limiter, writeRateHz float64) *Engine {
	if writeRateHz <= 0 {
		writeRateHz = 20
	}
	if limiter == nil {
		limiter = NewLimiter(50 * time.Millisecond)
	}
	return &Engine{
		client:        client,
		limiter:       limiter,
		writeInterval: time.Duration(float64(time.Second) / writeRateHz),
		active:        make(map[Key]*sweepState),
		baselines:     make(map[Key]float64),
	}
}

// SetBaseline records the resting value written for key on emergency stop.
func (e *Engine) SetBaseline(key Key, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baselines[key] = value
}

// StartSweep spawns a sweep worker for key. It returns false without side
// effects if a sweep is already active on the key; an active sweep is never
// silently replaced.
func (e *Engine) StartSweep(key Key, cfg Config) bool {
	if _, err := ParseWaveform(string(cfg.Waveform)); err != nil {
		log.Printf("⚠️  Sweep rejected for %v: %v", key, err)
		return false
	}
	if cfg.Duration <= 0 {
		return false
	}

	e.mu.Lock()
	if _, exists := e.active[key]; exists {
		e.mu.Unlock()
		return false
	}
	st := &sweepState{
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateActive,
		base:    cfg.Base,
		current: cfg.Base,
	}
	e.active[key] = st
	if _, known := e.baselines[key]; !known {
		e.baselines[key] = cfg.Base
	}
	e.mu.Unlock()

	metrics.ActiveSweeps.Inc()
	log.Printf("🌊 Sweep started: %s on track %d device %d param %d for %v",
		cfg.Waveform, key.Track, key.Device, key.Parameter, cfg.Duration)
	go e.run(key, cfg, st)
	return true
}

// StopSweep cancels the sweep on key and waits (bounded) for its worker to
// exit. Returns false if no sweep was active.
func (e *Engine) StopSweep(key Key) bool {
	e.mu.Lock()
	st, ok := e.active[key]
	e.mu.Unlock()
	if !ok {
		return false
	}

	st.signalCancel()
	select {
	case <-st.done:
	case <-time.After(2 * time.Second):
		log.Printf("⚠️  Sweep worker for %v did not stop within join timeout", key)
	}
	return true
}

// EmergencyStop cancels every active sweep and immediately writes every
// configured baseline, bypassing the per-class rate limiter; safety takes
// priority over smoothness.
func (e *Engine) EmergencyStop() {
	e.mu.Lock()
	states := make([]*sweepState, 0, len(e.active))
	for _, st := range e.active {
		states = append(states, st)
	}
	baselines := make(map[Key]float64, len(e.baselines))
	for k, v := range e.baselines {
		baselines[k] = v
	}
	e.emergency = true
	e.mu.Unlock()

	for _, st := range states {
		st.signalCancel()
	}
	deadline := time.After(2 * time.Second)
	for _, st := range states {
		select {
		case <-st.done:
		case <-deadline:
			log.Printf("⚠️  Emergency stop: a sweep worker missed the join timeout")
		}
	}

	for key, base := range baselines {
		e.writeValue(key, base)
	}
	e.limiter.Reset()

	e.mu.Lock()
	e.emergency = false
	e.mu.Unlock()

	log.Printf("🛑 Emergency stop: all sweeps cancelled, %d baselines written", len(baselines))
}

// run drives one sweep through its lifecycle:
// Active → Completed → ReturningToBaseline → Idle, or Cancelled → Idle.
func (e *Engine) run(key Key, cfg Config, st *sweepState) {
	started := time.Now()
	outcome := "completed"
	defer func() {
		e.mu.Lock()
		wasEmergency := e.emergency
		delete(e.active, key)
		e.mu.Unlock()
		metrics.ActiveSweeps.Dec()
		close(st.done)

		if wasEmergency {
			outcome = "emergency"
		}
		if e.OnSessionEnd != nil {
			e.OnSessionEnd(SessionEvent{
				Key:       key,
				Waveform:  cfg.Waveform,
				Class:     cfg.Class,
				Duration:  cfg.Duration,
				Outcome:   outcome,
				StartedAt: started,
				EndedAt:   time.Now(),
			})
		}
	}()

	alpha := cfg.Waveform.SmoothingFactor()
	// Each worker owns its random source; rand.Rand is not goroutine-safe.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(e.writeInterval)
	defer ticker.Stop()

	prevRaw := cfg.Base
	written := cfg.Base

	for {
		select {
		case <-st.cancel:
			outcome = "cancelled"
			return
		case now := <-ticker.C:
			elapsed := now.Sub(started)
			if elapsed >= cfg.Duration {
				// Natural completion: optionally drift home.
				if cfg.Target != nil {
					e.setState(st, StateReturningToBaseline)
					if !e.returnToBaseline(key, cfg, st, *cfg.Target) {
						outcome = "cancelled"
					}
				}
				return
			}

			raw := cfg.Waveform.Sample(elapsed.Seconds(), cfg.Base, cfg.Amplitude, cfg.FreqHz, prevRaw, rng)
			raw = clamp01(raw)
			prevRaw = raw

			value := written + (raw-written)*alpha
			written = value
			e.setCurrent(st, value)

			if e.limiter.Allow(cfg.Class, now) {
				e.writeValue(key, value)
				metrics.SweepWrites.WithLabelValues(cfg.Class).Inc()
			}
		}
	}
}

// returnToBaseline drifts the parameter toward target at a fixed rate, then
// writes the baseline exactly once. Returns false if cancelled mid-drift.
func (e *Engine) returnToBaseline(key Key, cfg Config, st *sweepState, target float64) bool {
	ticker := time.NewTicker(e.writeInterval)
	defer ticker.Stop()

	current := e.getCurrent(st)
	step := returnRate * e.writeInterval.Seconds()

	for {
		select {
		case <-st.cancel:
			return false
		case now := <-ticker.C:
			if math.Abs(current-target) <= baselineEpsilon {
				e.writeValue(key, target)
				e.setCurrent(st, target)
				return true
			}
			if current < target {
				current = math.Min(current+step, target)
			} else {
				current = math.Max(current-step, target)
			}
			e.setCurrent(st, current)
			if e.limiter.Allow(cfg.Class, now) {
				e.writeValue(key, current)
				metrics.SweepWrites.WithLabelValues(cfg.Class).Inc()
			}
		}
	}
}

func (e *Engine) writeValue(key Key, value float64) {
	e.client.Send("set_device_parameter", map[string]interface{}{
		"track_index":     key.Track,
		"device_index":    key.Device,
		"parameter_index": key.Parameter,
		"value":           value,
	})
}

func (e *Engine) setState(st *sweepState, s State) {
	e.mu.Lock()
	st.state = s
	e.mu.Unlock()
}

func (e *Engine) setCurrent(st *sweepState, v float64) {
	e.mu.Lock()
	st.current = v
	e.mu.Unlock()
}

func (e *Engine) getCurrent(st *sweepState) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return st.current
}

// KeyState returns the lifecycle state of a sweep key.
func (e *Engine) KeyState(key Key) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.active[key]
	if !ok {
		return StateIdle
	}
	return st.state
}

// ActiveCount returns the number of live sweep workers.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Status describes the engine for the observability surface.
type Status struct {
	ActiveSweeps int         `json:"active_sweeps"`
	Keys         []KeyStatus `json:"keys,omitempty"`
}

// KeyStatus is one active sweep's public view.
type KeyStatus struct {
	Track     int     `json:"track_index"`
	Device    int     `json:"device_index"`
	Parameter int     `json:"parameter_index"`
	State     State   `json:"state"`
	Current   float64 `json:"current_value"`
}

// Status returns a point-in-time view of all active sweeps.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{ActiveSweeps: len(e.active)}
	for key, s := range e.active {
		st.Keys = append(st.Keys, KeyStatus{
			Track:     key.Track,
			Device:    key.Device,
			Parameter: key.Parameter,
			State:     s.state,
			Current:   s.current,
		})
	}
	return st
}
