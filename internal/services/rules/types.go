// Package rules provides the declarative rule engine that reacts to
// parameter snapshots: condition trees with short-circuiting logical
// operators, cooldown-gated rules, and actions dispatched through the
// actuation client.
package rules

import (
	"fmt"
	"time"
)

// Operator is a closed set of numeric comparison operators.
type Operator string

const (
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpEq  Operator = "=="
	OpNeq Operator = "!="
)

// epsilon tolerates floating-point noise in equality comparisons.
const epsilon = 1e-6

// ParseOperator validates an operator string at load time.
func ParseOperator(s string) (Operator, error) {
	switch Operator(s) {
	case OpGt, OpGte, OpLt, OpLte, OpEq, OpNeq:
		return Operator(s), nil
	default:
		return "", fmt.Errorf("rules: unknown operator %q", s)
	}
}

// Compare applies the operator to a sampled value and a threshold.
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpGt:
		return value > threshold
	case OpGte:
		return value >= threshold
	case OpLt:
		return value < threshold
	case OpLte:
		return value <= threshold
	case OpEq:
		return abs(value-threshold) < epsilon
	case OpNeq:
		return abs(value-threshold) >= epsilon
	default:
		return false
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ActionType is a closed set of directives a rule can issue.
type ActionType string

const (
	ActionSetParameter ActionType = "set_parameter"
	ActionSetVolume    ActionType = "set_volume"
	ActionSetSend      ActionType = "set_send"
	ActionTriggerClip  ActionType = "trigger_clip"
	ActionStopClip     ActionType = "stop_clip"
	ActionFireScene    ActionType = "fire_scene"
	ActionStopAllClips ActionType = "stop_all_clips"
)

// ParseActionType validates an action type string at load time.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionSetParameter, ActionSetVolume, ActionSetSend,
		ActionTriggerClip, ActionStopClip, ActionFireScene, ActionStopAllClips:
		return ActionType(s), nil
	default:
		return "", fmt.Errorf("rules: unknown action type %q", s)
	}
}

// Action is one stateless directive template, re-used on every trigger.
type Action struct {
	Type      ActionType
	Track     int
	Device    int
	Parameter int
	Clip      int
	Scene     int
	Value     float64
}

// Rule couples a condition list (implicit AND) with an action list. The
// runtime fields LastTriggered and TriggerCount are mutated by the engine
// during evaluation only.
type Rule struct {
	ID       string
	Name     string
	Enabled  bool
	Cooldown time.Duration

	Conditions []Condition
	Actions    []Action

	// LastTriggered is nil until the rule fires the first time.
	LastTriggered *time.Time
	TriggerCount  uint64
}

// CanTrigger reports whether the cooldown has elapsed. A non-positive
// cooldown means always eligible; the cooldown is the primary oscillation
// guard for rules whose actions move the parameter their condition reads.
func (r *Rule) CanTrigger(now time.Time) bool {
	if r.Cooldown <= 0 {
		return true
	}
	if r.LastTriggered == nil {
		return true
	}
	return now.Sub(*r.LastTriggered) >= r.Cooldown
}

// RuleSet is a named, independently toggleable group of rules loaded as one
// unit. Rule IDs are unique within a set but not across sets.
type RuleSet struct {
	ID      string
	Name    string
	Enabled bool
	Rules   []*Rule
}

// ExecutionRecord is the outcome of one action execution attempt.
type ExecutionRecord struct {
	ID         string     `json:"id"`
	RuleSetID  string     `json:"ruleset_id"`
	RuleID     string     `json:"rule_id"`
	RuleName   string     `json:"rule_name"`
	ActionType ActionType `json:"action_type"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
