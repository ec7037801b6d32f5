// Package poller provides the fixed-rate parameter sampler that feeds the
// rule engine. One background loop reads device parameters from the Target,
// normalizes them into snapshots, keeps a bounded history, and fans each
// snapshot out to registered observers.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/livepilot/livepilot-go/internal/metrics"
)

// Caller is the reliable-channel surface the poller needs from the
// actuation client.
type Caller interface {
	Call(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error)
}

// Callback observes snapshots. Callbacks run synchronously inside the
// polling loop, in registration order; a slow callback delays the next
// sample but a panicking one never kills the loop.
type Callback func(*Snapshot)

// Config holds poller configuration.
type Config struct {
	RateHz      float64
	BufferSize  int
	TrackIndex  int
	DeviceIndex int

	FailBackoff    time.Duration // sleep after a failed poll
	DriftThreshold time.Duration // only warn for overruns larger than this
	DriftThrottle  time.Duration // minimum gap between drift warnings
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		RateHz:         10,
		BufferSize:     100,
		FailBackoff:    time.Second,
		DriftThreshold: 50 * time.Millisecond,
		DriftThrottle:  5 * time.Second,
	}
}

type registration struct {
	id int
	fn Callback
}

// Service is the fixed-rate parameter poller.
type Service struct {
	mu sync.RWMutex

	cfg    Config
	client Caller
	params []ParameterConfig

	// Bounded snapshot history, oldest evicted first.
	history []*Snapshot

	callbacks []registration
	nextID    int

	// Control
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool

	// Statistics
	totalPolls     uint64
	pollErrors     uint64
	actualInterval time.Duration // smoothed observed cycle interval
	lastDriftWarn  time.Time
}

// NewService creates a poller over the given parameter set.
func NewService(cfg Config, client Caller, params []ParameterConfig) *Service {
	if cfg.RateHz <= 0 {
		cfg.RateHz = 10
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FailBackoff <= 0 {
		cfg.FailBackoff = time.Second
	}
	if cfg.DriftThrottle <= 0 {
		cfg.DriftThrottle = 5 * time.Second
	}

	return &Service{
		cfg:    cfg,
		client: client,
		params: append([]ParameterConfig(nil), params...),
	}
}

// Start spawns the sampling loop. Starting a running poller is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	log.Printf("🎛  Poller started at %.1fHz over %d parameters", s.cfg.RateHz, len(s.params))
	go s.pollLoop(s.stopChan, s.doneChan)
}

// Stop signals the loop to exit and waits (bounded) until it has. Safe to
// call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	select {
	case <-done:
		log.Printf("🎛  Poller stopped")
	case <-time.After(2 * time.Second):
		log.Printf("⚠️  Poller did not stop within join timeout")
	}
}

// IsRunning returns whether the sampling loop is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// AddCallback registers a snapshot observer and returns its registration ID.
func (s *Service) AddCallback(fn Callback) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.callbacks = append(s.callbacks, registration{id: s.nextID, fn: fn})
	return s.nextID
}

// RemoveCallback unregisters an observer by its registration ID.
func (s *Service) RemoveCallback(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, reg := range s.callbacks {
		if reg.id == id {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return
		}
	}
}

// Parameters returns the configured parameter set.
func (s *Service) Parameters() []ParameterConfig {
	return append([]ParameterConfig(nil), s.params...)
}

// pollLoop runs one sampling cycle per target interval. At most one snapshot
// is ever in flight to callbacks; cycle N finishes before cycle N+1 samples.
func (s *Service) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Duration(float64(time.Second) / s.cfg.RateHz)
	lastCycle := time.Time{}

	for {
		select {
		case <-stop:
			return
		default:
		}

		cycleStart := time.Now()
		if !lastCycle.IsZero() {
			s.observeInterval(cycleStart.Sub(lastCycle))
		}
		lastCycle = cycleStart

		snap, err := s.poll()
		if err != nil {
			s.mu.Lock()
			s.pollErrors++
			s.mu.Unlock()
			metrics.PollErrors.Inc()
			log.Printf("⚠️  Poll failed, backing off %v: %v", s.cfg.FailBackoff, err)

			select {
			case <-stop:
				return
			case <-time.After(s.cfg.FailBackoff):
			}
			continue
		}

		s.mu.Lock()
		s.totalPolls++
		s.history = append(s.history, snap)
		if len(s.history) > s.cfg.BufferSize {
			s.history = s.history[len(s.history)-s.cfg.BufferSize:]
		}
		callbacks := make([]registration, len(s.callbacks))
		copy(callbacks, s.callbacks)
		s.mu.Unlock()

		metrics.PollsTotal.Inc()

		for _, reg := range callbacks {
			s.invoke(reg, snap)
		}

		elapsed := time.Since(cycleStart)
		if elapsed >= interval {
			// Overran the budget: skip sleeping rather than trying to
			// catch up, and warn (throttled) about the drift.
			metrics.PollDrift.Inc()
			s.warnDrift(elapsed - interval)
			continue
		}

		select {
		case <-stop:
			return
		case <-time.After(interval - elapsed):
		}
	}
}

// poll performs one Target read and builds a snapshot.
func (s *Service) poll() (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := s.client.Call(ctx, "get_device_parameters", map[string]interface{}{
		"track_index":  s.cfg.TrackIndex,
		"device_index": s.cfg.DeviceIndex,
	})
	if err != nil {
		return nil, err
	}

	raw := extractRawValues(result)

	snap := &Snapshot{
		Timestamp: time.Now(),
		Values:    make(map[int]float64, len(s.params)),
		Raw:       make(map[int]float64, len(s.params)),
	}
	for _, p := range s.params {
		rv, ok := raw[p.Index]
		if !ok {
			continue
		}
		snap.Raw[p.Index] = rv
		snap.Values[p.Index] = p.Normalize(rv)
	}
	return snap, nil
}

// extractRawValues pulls {index, value} pairs out of a get_device_parameters
// result. Entries with missing or non-numeric fields are skipped.
func extractRawValues(result map[string]interface{}) map[int]float64 {
	out := make(map[int]float64)
	list, ok := result["parameters"].([]interface{})
	if !ok {
		return out
	}
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		idx, ok := asFloat(m["index"])
		if !ok {
			continue
		}
		val, ok := asFloat(m["value"])
		if !ok {
			continue
		}
		out[int(idx)] = val
	}
	return out
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// invoke runs one callback, containing any panic so the loop survives a
// misbehaving observer.
func (s *Service) invoke(reg registration, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  Snapshot callback %d panicked: %v", reg.id, r)
		}
	}()
	reg.fn(snap)
}

// observeInterval folds one observed cycle interval into the smoothed
// actual-rate estimate.
func (s *Service) observeInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.actualInterval == 0 {
		s.actualInterval = d
		return
	}
	s.actualInterval = (s.actualInterval*9 + d) / 10
}

func (s *Service) warnDrift(over time.Duration) {
	if over < s.cfg.DriftThreshold {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastDriftWarn) < s.cfg.DriftThrottle {
		return
	}
	s.lastDriftWarn = time.Now()
	log.Printf("⚠️  Poll cycle overran target interval by %v", over)
}

// Latest returns the most recent snapshot, or nil if none has been taken.
func (s *Service) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

// History returns up to n recent snapshots, oldest first. n <= 0 returns the
// full buffer.
func (s *Service) History(n int) []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]*Snapshot, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Status describes the poller for the observability surface.
type Status struct {
	Running      bool    `json:"running"`
	TargetRateHz float64 `json:"target_rate_hz"`
	ActualRateHz float64 `json:"actual_rate_hz"`
	TotalPolls   uint64  `json:"total_polls"`
	PollErrors   uint64  `json:"poll_errors"`
	BufferSize   int     `json:"buffer_size"`
	BufferUsed   int     `json:"buffer_used"`
}

// Status returns a point-in-time view of the poller.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actual := 0.0
	if s.actualInterval > 0 {
		actual = float64(time.Second) / float64(s.actualInterval)
	}
	return Status{
		Running:      s.running,
		TargetRateHz: s.cfg.RateHz,
		ActualRateHz: actual,
		TotalPolls:   s.totalPolls,
		PollErrors:   s.pollErrors,
		BufferSize:   s.cfg.BufferSize,
		BufferUsed:   len(s.history),
	}
}
