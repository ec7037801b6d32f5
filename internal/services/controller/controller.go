// Package controller composes the poller, rule engine and sweep engine
// into one control loop with a single lifecycle and status surface.
package controller

import (
	"log"
	"sync"
	"time"

	"github.com/livepilot/livepilot-go/internal/services/poller"
	"github.com/livepilot/livepilot-go/internal/services/rules"
	"github.com/livepilot/livepilot-go/internal/services/sweep"
)

// Controller owns the control loop lifecycle. All collaborators are
// injected; the controller never constructs its own services.
type Controller struct {
	mu sync.Mutex

	poller *poller.Service
	engine *rules.Engine
	sweeps *sweep.Engine

	running   bool
	startedAt time.Time
	stoppedAt time.Time
}

// New creates a controller over the given services. The sweep engine may
// be nil for deployments that only poll and evaluate.
func New(p *poller.Service, e *rules.Engine, s *sweep.Engine) *Controller {
	return &Controller{
		poller: p,
		engine: e,
		sweeps: s,
	}
}

// Start attaches the rule engine to the poller (when registerEngine is
// true) and starts polling. Calling Start on a running controller is a
// no-op.
func (c *Controller) Start(registerEngine bool) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	if registerEngine && c.engine != nil {
		c.engine.ApplyToPoller(c.poller)
	}
	c.poller.Start()
	log.Printf("🎛  Control loop started (rule engine attached: %v)", registerEngine && c.engine != nil)
}

// Stop halts polling, which also stops rule evaluation since evaluation
// runs inside the poll cycle. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stoppedAt = time.Now()
	c.mu.Unlock()

	c.poller.Stop()
	if c.engine != nil {
		c.engine.DetachFromPoller()
	}
	log.Printf("🎛  Control loop stopped")
}

// IsRunning reports whether the control loop is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// EnableRule enables every rule with the given ID across all loaded
// rulesets and returns how many rules changed. Takes effect on the next
// evaluation; no restart required.
func (c *Controller) EnableRule(ruleID string) int {
	if c.engine == nil {
		return 0
	}
	return c.engine.SetRuleEnabled(ruleID, true)
}

// DisableRule disables every rule with the given ID across all loaded
// rulesets and returns how many rules changed.
func (c *Controller) DisableRule(ruleID string) int {
	if c.engine == nil {
		return 0
	}
	return c.engine.SetRuleEnabled(ruleID, false)
}

// EnableRuleSet flips an entire ruleset by ID.
func (c *Controller) EnableRuleSet(id string, enabled bool) bool {
	if c.engine == nil {
		return false
	}
	return c.engine.SetRuleSetEnabled(id, enabled)
}

// EmergencyStop cancels all sweeps and writes their baselines.
func (c *Controller) EmergencyStop() {
	if c.sweeps != nil {
		c.sweeps.EmergencyStop()
	}
}

// ControllerStatus is the controller's own slice of the status snapshot.
type ControllerStatus struct {
	Running        bool    `json:"running"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
}

// Status is the aggregated control loop snapshot for monitoring consumers.
type Status struct {
	Controller ControllerStatus `json:"controller"`
	Poller     poller.Status    `json:"poller"`
	Engine     rules.Status     `json:"engine"`
	Sweeps     sweep.Status     `json:"sweeps"`
}

// Status aggregates poller, engine and sweep state into one snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.running
	var runtime float64
	if running {
		runtime = time.Since(c.startedAt).Seconds()
	} else if !c.startedAt.IsZero() {
		runtime = c.stoppedAt.Sub(c.startedAt).Seconds()
	}
	c.mu.Unlock()

	st := Status{
		Controller: ControllerStatus{
			Running:        running,
			RuntimeSeconds: runtime,
		},
		Poller: c.poller.Status(),
	}
	if c.engine != nil {
		st.Engine = c.engine.Status()
	}
	if c.sweeps != nil {
		st.Sweeps = c.sweeps.Status()
	}
	return st
}
