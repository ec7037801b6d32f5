// Package history persists rule trigger events and finished sweep sessions
// in the background, off the control loop's hot path.
package history

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/livepilot/livepilot-go/internal/database/models"
	"github.com/livepilot/livepilot-go/internal/database/repositories"
	"github.com/livepilot/livepilot-go/internal/services/rules"
	"github.com/livepilot/livepilot-go/internal/services/sweep"
)

// writeTimeout bounds each database write so a stuck disk cannot back the
// queue up forever.
const writeTimeout = 5 * time.Second

type job struct {
	triggers []models.TriggerEvent
	session  *models.SweepSession
}

// Recorder drains a bounded queue of history writes on one worker
// goroutine. Enqueueing never blocks; when the queue is full the write is
// dropped and counted.
type Recorder struct {
	triggers *repositories.TriggerEventRepository
	sessions *repositories.SweepSessionRepository

	queue    chan job
	stopChan chan struct{}
	doneChan chan struct{}

	mu      sync.Mutex
	running bool
	dropped int64
}

// NewRecorder creates a recorder with the given queue depth.
func NewRecorder(triggers *repositories.TriggerEventRepository, sessions *repositories.SweepSessionRepository, queueDepth int) *Recorder {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Recorder{
		triggers: triggers,
		sessions: sessions,
		queue:    make(chan job, queueDepth),
	}
}

// Start launches the background writer.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})
	go r.loop(r.stopChan, r.doneChan)
}

// Stop drains pending writes and stops the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stopChan, r.doneChan
	r.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("⚠️  History recorder did not drain within shutdown timeout")
	}
}

// RecordTriggers enqueues one evaluation cycle's execution records.
func (r *Recorder) RecordTriggers(records []rules.ExecutionRecord) {
	if len(records) == 0 {
		return
	}
	events := make([]models.TriggerEvent, 0, len(records))
	for _, rec := range records {
		ev := models.TriggerEvent{
			ID:         rec.ID,
			RuleSetID:  rec.RuleSetID,
			RuleID:     rec.RuleID,
			RuleName:   rec.RuleName,
			ActionType: string(rec.ActionType),
			Success:    rec.Success,
			FiredAt:    rec.Timestamp,
		}
		if rec.Error != "" {
			msg := rec.Error
			ev.Error = &msg
		}
		events = append(events, ev)
	}
	r.enqueue(job{triggers: events})
}

// RecordSweep enqueues one finished sweep session.
func (r *Recorder) RecordSweep(ev sweep.SessionEvent) {
	r.enqueue(job{session: &models.SweepSession{
		TrackIndex:     ev.Key.Track,
		DeviceIndex:    ev.Key.Device,
		ParameterIndex: ev.Key.Parameter,
		Waveform:       string(ev.Waveform),
		Class:          ev.Class,
		DurationMs:     ev.Duration.Milliseconds(),
		Outcome:        ev.Outcome,
		StartedAt:      ev.StartedAt,
		EndedAt:        ev.EndedAt,
	}})
}

// Dropped returns the number of writes discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.queue <- j:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		log.Printf("⚠️  History queue full, write dropped (%d total)", n)
	}
}

func (r *Recorder) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case j := <-r.queue:
			r.write(j)
		case <-stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case j := <-r.queue:
					r.write(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if len(j.triggers) > 0 && r.triggers != nil {
		if err := r.triggers.CreateBatch(ctx, j.triggers); err != nil {
			log.Printf("⚠️  Failed to persist trigger events: %v", err)
		}
	}
	if j.session != nil && r.sessions != nil {
		if err := r.sessions.Create(ctx, j.session); err != nil {
			log.Printf("⚠️  Failed to persist sweep session: %v", err)
		}
	}
}
