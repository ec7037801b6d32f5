package rules

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/livepilot/livepilot-go/internal/metrics"
	"github.com/livepilot/livepilot-go/internal/services/poller"
)

// Dispatcher is the actuation surface the engine needs: acknowledged calls
// for transport-control actions and fire-and-forget sends for parameter
// writes.
type Dispatcher interface {
	Call(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error)
	Send(op string, params map[string]interface{})
}

// Engine evaluates every enabled rule against each incoming snapshot and
// executes the actions of rules that fire.
type Engine struct {
	mu sync.Mutex

	client   Dispatcher
	rulesets map[string]*RuleSet
	order    []string // ruleset evaluation order = registration order

	// Aggregate counters for the observability surface.
	totalEvaluations uint64
	totalTriggers    uint64
	totalActions     uint64
	errorCount       uint64

	// OnRecords, when set, receives the execution records of each
	// evaluation that fired at least one action. It runs on the
	// evaluating goroutine and must not block.
	OnRecords func([]ExecutionRecord)

	callbackID int
	attachedTo *poller.Service
}

// triggered is one rule that fired during the locked evaluation phase.
// Actions run after the lock is released; no lock is held across a network
// call.
type triggered struct {
	setID    string
	ruleID   string
	ruleName string
	actions  []Action
}

// NewEngine creates a rule engine that actuates through client.
func NewEngine(client Dispatcher) *Engine {
	return &Engine{
		client:   client,
		rulesets: make(map[string]*RuleSet),
	}
}

// AddRuleSet registers a loaded rule set. Duplicate IDs are rejected.
func (e *Engine) AddRuleSet(rs *RuleSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rulesets[rs.ID]; exists {
		return fmt.Errorf("rules: ruleset %q already registered", rs.ID)
	}
	e.rulesets[rs.ID] = rs
	e.order = append(e.order, rs.ID)
	log.Printf("🎛  Ruleset %q loaded (%d rules)", rs.ID, len(rs.Rules))
	return nil
}

// RemoveRuleSet unregisters a rule set by ID.
func (e *Engine) RemoveRuleSet(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rulesets[id]; !exists {
		return false
	}
	delete(e.rulesets, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceRuleSets swaps in a freshly loaded set collection, used by the
// hot-reload watcher. Runtime trigger state carries over for rules whose
// (ruleset, rule) identity survives the reload, so a reload does not reset
// cooldowns mid-flight.
func (e *Engine) ReplaceRuleSets(sets []*RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.rulesets
	e.rulesets = make(map[string]*RuleSet, len(sets))
	e.order = e.order[:0]
	for _, rs := range sets {
		if prev, ok := old[rs.ID]; ok {
			carryTriggerState(prev, rs)
		}
		e.rulesets[rs.ID] = rs
		e.order = append(e.order, rs.ID)
	}
	log.Printf("🔄 Rulesets replaced (%d sets)", len(sets))
}

func carryTriggerState(old, next *RuleSet) {
	prev := make(map[string]*Rule, len(old.Rules))
	for _, r := range old.Rules {
		prev[r.ID] = r
	}
	for _, r := range next.Rules {
		if p, ok := prev[r.ID]; ok {
			r.LastTriggered = p.LastTriggered
			r.TriggerCount = p.TriggerCount
		}
	}
}

// RuleSets returns the registered sets in evaluation order.
func (e *Engine) RuleSets() []*RuleSet {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*RuleSet, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rulesets[id])
	}
	return out
}

// RuleSummary is a serializable view of one rule's mutable state.
type RuleSummary struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	CooldownSeconds float64    `json:"cooldown_seconds"`
	Conditions      int        `json:"conditions"`
	Actions         int        `json:"actions"`
	LastTriggered   *time.Time `json:"last_triggered_at"`
	TriggerCount    uint64     `json:"trigger_count"`
}

// RuleSetSummary is a serializable view of one registered set.
type RuleSetSummary struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Rules   []RuleSummary `json:"rules"`
}

// Summaries returns a consistent copy of all sets for external consumers.
func (e *Engine) Summaries() []RuleSetSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleSetSummary, 0, len(e.order))
	for _, id := range e.order {
		rs := e.rulesets[id]
		summary := RuleSetSummary{
			ID:      rs.ID,
			Name:    rs.Name,
			Enabled: rs.Enabled,
			Rules:   make([]RuleSummary, 0, len(rs.Rules)),
		}
		for _, r := range rs.Rules {
			var last *time.Time
			if r.LastTriggered != nil {
				t := *r.LastTriggered
				last = &t
			}
			summary.Rules = append(summary.Rules, RuleSummary{
				ID:              r.ID,
				Name:            r.Name,
				Enabled:         r.Enabled,
				CooldownSeconds: r.Cooldown.Seconds(),
				Conditions:      len(r.Conditions),
				Actions:         len(r.Actions),
				LastTriggered:   last,
				TriggerCount:    r.TriggerCount,
			})
		}
		out = append(out, summary)
	}
	return out
}

// SetRuleSetEnabled toggles a whole set. Returns false if the set is unknown.
func (e *Engine) SetRuleSetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.rulesets[id]
	if !ok {
		return false
	}
	rs.Enabled = enabled
	return true
}

// SetRuleEnabled flips the enabled flag of every rule with the given ID
// across all loaded sets (IDs are only unique within a set) and returns how
// many rules changed. Takes effect on the next evaluation.
func (e *Engine) SetRuleEnabled(ruleID string, enabled bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := 0
	for _, rs := range e.rulesets {
		for _, r := range rs.Rules {
			if r.ID == ruleID {
				r.Enabled = enabled
				changed++
			}
		}
	}
	return changed
}

// Evaluate runs every enabled rule against one snapshot and executes the
// actions of rules whose condition list holds and whose cooldown has
// elapsed. It returns one record per action executed.
func (e *Engine) Evaluate(snap *poller.Snapshot) []ExecutionRecord {
	start := time.Now()
	now := start

	// Phase 1 (locked): condition evaluation and cooldown bookkeeping.
	e.mu.Lock()
	e.totalEvaluations++
	var fired []triggered
	for _, id := range e.order {
		rs := e.rulesets[id]
		if !rs.Enabled {
			continue
		}
		for _, r := range rs.Rules {
			if !r.Enabled || !r.CanTrigger(now) {
				continue
			}
			if !allHold(r.Conditions, snap.Values) {
				continue
			}
			ts := now
			r.LastTriggered = &ts
			r.TriggerCount++
			e.totalTriggers++
			fired = append(fired, triggered{
				setID:    rs.ID,
				ruleID:   r.ID,
				ruleName: r.Name,
				actions:  r.Actions,
			})
		}
	}
	e.mu.Unlock()

	metrics.RuleEvaluations.Inc()

	// Phase 2 (unlocked): action execution. Each action fails
	// independently; one failure never stops the rest.
	var records []ExecutionRecord
	var errs uint64
	for _, tr := range fired {
		metrics.RuleTriggers.WithLabelValues(tr.ruleID).Inc()
		for _, a := range tr.actions {
			rec := ExecutionRecord{
				ID:         cuid.New(),
				RuleSetID:  tr.setID,
				RuleID:     tr.ruleID,
				RuleName:   tr.ruleName,
				ActionType: a.Type,
				Success:    true,
				Timestamp:  time.Now(),
			}
			if err := e.execute(a); err != nil {
				rec.Success = false
				rec.Error = err.Error()
				errs++
				log.Printf("⚠️  Rule %s action %s failed: %v", tr.ruleID, a.Type, err)
				metrics.ActionsExecuted.WithLabelValues(string(a.Type), "error").Inc()
			} else {
				metrics.ActionsExecuted.WithLabelValues(string(a.Type), "success").Inc()
			}
			records = append(records, rec)
		}
	}

	e.mu.Lock()
	e.totalActions += uint64(len(records))
	e.errorCount += errs
	e.mu.Unlock()

	metrics.EvaluationDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	if len(records) > 0 && e.OnRecords != nil {
		e.OnRecords(records)
	}
	return records
}

// allHold evaluates a rule's condition list as an implicit AND,
// short-circuiting on the first false condition.
func allHold(conditions []Condition, values map[int]float64) bool {
	for _, c := range conditions {
		if !c.Eval(values) {
			return false
		}
	}
	return true
}

// execute dispatches one action. High-frequency parameter writes go over
// the unreliable channel; clip and scene transport control is acknowledged.
func (e *Engine) execute(a Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch a.Type {
	case ActionSetParameter:
		e.client.Send("set_device_parameter", map[string]interface{}{
			"track_index":     a.Track,
			"device_index":    a.Device,
			"parameter_index": a.Parameter,
			"value":           a.Value,
		})
		return nil
	case ActionSetVolume:
		e.client.Send("set_track_volume", map[string]interface{}{
			"track_index": a.Track,
			"value":       a.Value,
		})
		return nil
	case ActionSetSend:
		e.client.Send("set_track_send", map[string]interface{}{
			"track_index": a.Track,
			"send_index":  a.Parameter,
			"value":       a.Value,
		})
		return nil
	case ActionTriggerClip:
		_, err := e.client.Call(ctx, "trigger_clip", map[string]interface{}{
			"track_index": a.Track,
			"clip_index":  a.Clip,
		})
		return err
	case ActionStopClip:
		_, err := e.client.Call(ctx, "stop_clip", map[string]interface{}{
			"track_index": a.Track,
			"clip_index":  a.Clip,
		})
		return err
	case ActionFireScene:
		_, err := e.client.Call(ctx, "fire_scene", map[string]interface{}{
			"scene_index": a.Scene,
		})
		return err
	case ActionStopAllClips:
		_, err := e.client.Call(ctx, "stop_all_clips", nil)
		return err
	default:
		// Unknown variants are rejected at parse time; reaching here is a bug.
		return fmt.Errorf("rules: unhandled action type %q", a.Type)
	}
}

// ApplyToPoller registers Evaluate as a snapshot callback.
func (e *Engine) ApplyToPoller(p *poller.Service) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attachedTo != nil {
		return
	}
	e.attachedTo = p
	e.callbackID = p.AddCallback(func(snap *poller.Snapshot) {
		e.Evaluate(snap)
	})
}

// DetachFromPoller unregisters the evaluation callback.
func (e *Engine) DetachFromPoller() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attachedTo == nil {
		return
	}
	e.attachedTo.RemoveCallback(e.callbackID)
	e.attachedTo = nil
}

// Status describes the engine for the observability surface.
type Status struct {
	RuleSets         int    `json:"rulesets"`
	Rules            int    `json:"rules"`
	TotalEvaluations uint64 `json:"total_evaluations"`
	TotalTriggers    uint64 `json:"total_triggers"`
	TotalActions     uint64 `json:"total_action_executions"`
	Errors           uint64 `json:"errors"`
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	ruleCount := 0
	for _, rs := range e.rulesets {
		ruleCount += len(rs.Rules)
	}
	return Status{
		RuleSets:         len(e.rulesets),
		Rules:            ruleCount,
		TotalEvaluations: e.totalEvaluations,
		TotalTriggers:    e.totalTriggers,
		TotalActions:     e.totalActions,
		Errors:           e.errorCount,
	}
}
