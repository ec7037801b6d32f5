package rules

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/livepilot/livepilot-go/internal/services/poller"
)

// Document is the top-level YAML structure of a rules file.
type Document struct {
	Version    string         `yaml:"version"`
	Parameters []ParameterDoc `yaml:"parameters"`
	RuleSets   []RuleSetDoc   `yaml:"rulesets"`
}

// ParameterDoc describes one monitored parameter.
type ParameterDoc struct {
	Index int     `yaml:"index"`
	Name  string  `yaml:"name"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Unit  string  `yaml:"unit"`
}

// RuleSetDoc is one named group of rules.
type RuleSetDoc struct {
	ID      string    `yaml:"id"`
	Name    string    `yaml:"name"`
	Enabled *bool     `yaml:"enabled"` // nil defaults to true
	Rules   []RuleDoc `yaml:"rules"`
}

// RuleDoc is one rule definition.
type RuleDoc struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Enabled         *bool          `yaml:"enabled"` // nil defaults to true
	CooldownSeconds float64        `yaml:"cooldown_seconds"`
	Conditions      []ConditionDoc `yaml:"conditions"`
	Actions         []ActionDoc    `yaml:"actions"`
}

// ConditionDoc is a tagged union: exactly one of the comparison fields
// (parameter_index/operator/threshold), all, any, or not may be used.
type ConditionDoc struct {
	ParameterIndex *int     `yaml:"parameter_index"`
	Operator       string   `yaml:"operator"`
	Threshold      *float64 `yaml:"threshold"`

	All []ConditionDoc `yaml:"all"`
	Any []ConditionDoc `yaml:"any"`
	Not *ConditionDoc  `yaml:"not"`
}

// ActionDoc is one action definition.
type ActionDoc struct {
	Type           string  `yaml:"type"`
	TrackIndex     int     `yaml:"track_index"`
	DeviceIndex    int     `yaml:"device_index"`
	ParameterIndex int     `yaml:"parameter_index"`
	ClipIndex      int     `yaml:"clip_index"`
	SceneIndex     int     `yaml:"scene_index"`
	TargetValue    float64 `yaml:"target_value"`
}

// Parse reads and validates a rules document from YAML bytes. Any
// configuration error fails the whole load; no partial rule set survives.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules: parse document: %w", err)
	}
	return &doc, nil
}

// Compile turns a parsed document into runtime parameter configs and rule
// sets, rejecting malformed operators, action types, and logical-node arity
// here rather than at evaluation time.
func Compile(doc *Document) ([]poller.ParameterConfig, []*RuleSet, error) {
	params := make([]poller.ParameterConfig, 0, len(doc.Parameters))
	seen := make(map[int]bool, len(doc.Parameters))
	for _, p := range doc.Parameters {
		if seen[p.Index] {
			return nil, nil, fmt.Errorf("rules: duplicate parameter index %d", p.Index)
		}
		seen[p.Index] = true
		params = append(params, poller.ParameterConfig{
			Index: p.Index,
			Name:  p.Name,
			Min:   p.Min,
			Max:   p.Max,
			Unit:  p.Unit,
		})
	}

	sets := make([]*RuleSet, 0, len(doc.RuleSets))
	setIDs := make(map[string]bool, len(doc.RuleSets))
	for _, rsDoc := range doc.RuleSets {
		if rsDoc.ID == "" {
			return nil, nil, fmt.Errorf("rules: ruleset without id")
		}
		if setIDs[rsDoc.ID] {
			return nil, nil, fmt.Errorf("rules: duplicate ruleset id %q", rsDoc.ID)
		}
		setIDs[rsDoc.ID] = true

		rs := &RuleSet{
			ID:      rsDoc.ID,
			Name:    rsDoc.Name,
			Enabled: boolOrTrue(rsDoc.Enabled),
		}

		ruleIDs := make(map[string]bool, len(rsDoc.Rules))
		for _, rDoc := range rsDoc.Rules {
			if rDoc.ID == "" {
				return nil, nil, fmt.Errorf("rules: ruleset %q has a rule without id", rs.ID)
			}
			if ruleIDs[rDoc.ID] {
				return nil, nil, fmt.Errorf("rules: duplicate rule id %q in ruleset %q", rDoc.ID, rs.ID)
			}
			ruleIDs[rDoc.ID] = true

			rule, err := compileRule(rDoc)
			if err != nil {
				return nil, nil, fmt.Errorf("rules: ruleset %q rule %q: %w", rs.ID, rDoc.ID, err)
			}
			rs.Rules = append(rs.Rules, rule)
		}
		sets = append(sets, rs)
	}

	return params, sets, nil
}

func compileRule(doc RuleDoc) (*Rule, error) {
	if len(doc.Conditions) == 0 {
		return nil, fmt.Errorf("no conditions")
	}
	if len(doc.Actions) == 0 {
		return nil, fmt.Errorf("no actions")
	}

	conditions := make([]Condition, 0, len(doc.Conditions))
	for i, cDoc := range doc.Conditions {
		c, err := compileCondition(cDoc)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conditions = append(conditions, c)
	}

	actions := make([]Action, 0, len(doc.Actions))
	for i, aDoc := range doc.Actions {
		at, err := ParseActionType(aDoc.Type)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, Action{
			Type:      at,
			Track:     aDoc.TrackIndex,
			Device:    aDoc.DeviceIndex,
			Parameter: aDoc.ParameterIndex,
			Clip:      aDoc.ClipIndex,
			Scene:     aDoc.SceneIndex,
			Value:     aDoc.TargetValue,
		})
	}

	return &Rule{
		ID:         doc.ID,
		Name:       doc.Name,
		Enabled:    boolOrTrue(doc.Enabled),
		Cooldown:   time.Duration(doc.CooldownSeconds * float64(time.Second)),
		Conditions: conditions,
		Actions:    actions,
	}, nil
}

// compileCondition resolves the tagged union, enforcing that exactly one
// form is present and that logical arity is valid.
func compileCondition(doc ConditionDoc) (Condition, error) {
	forms := 0
	if doc.ParameterIndex != nil || doc.Operator != "" || doc.Threshold != nil {
		forms++
	}
	if len(doc.All) > 0 {
		forms++
	}
	if len(doc.Any) > 0 {
		forms++
	}
	if doc.Not != nil {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("condition must be exactly one of comparison, all, any, not")
	}

	switch {
	case len(doc.All) > 0:
		children, err := compileChildren(doc.All)
		if err != nil {
			return nil, err
		}
		return NewAnd(children)
	case len(doc.Any) > 0:
		children, err := compileChildren(doc.Any)
		if err != nil {
			return nil, err
		}
		return NewOr(children)
	case doc.Not != nil:
		child, err := compileCondition(*doc.Not)
		if err != nil {
			return nil, err
		}
		return NewNot(child)
	default:
		if doc.ParameterIndex == nil {
			return nil, fmt.Errorf("comparison missing parameter_index")
		}
		if doc.Threshold == nil {
			return nil, fmt.Errorf("comparison missing threshold")
		}
		return NewComparison(*doc.ParameterIndex, doc.Operator, *doc.Threshold)
	}
}

func compileChildren(docs []ConditionDoc) ([]Condition, error) {
	out := make([]Condition, 0, len(docs))
	for i, d := range docs {
		c, err := compileCondition(d)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func boolOrTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// Loader reads a rules YAML file and can watch it for changes.
type Loader struct {
	path string

	mu      sync.RWMutex
	params  []poller.ParameterConfig
	sets    []*RuleSet
	watcher *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load, failing fast on
// any configuration error.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("rules: read %s: %w", l.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	params, sets, err := Compile(doc)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.params = params
	l.sets = sets
	l.mu.Unlock()
	return nil
}

// Parameters returns the parameter configs from the latest load.
func (l *Loader) Parameters() []poller.ParameterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]poller.ParameterConfig(nil), l.params...)
}

// RuleSets returns the rule sets from the latest load.
func (l *Loader) RuleSets() []*RuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*RuleSet(nil), l.sets...)
}

// Watch starts a background goroutine that hot-reloads the rules file on
// change and swaps the sets into engine atomically. A failed reload keeps
// the previous sets. Call the returned stop function to clean up.
func (l *Loader) Watch(engine *Engine) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules: watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("rules: watch %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := l.load(); err != nil {
					log.Printf("⚠️  Rules reload failed, keeping previous sets: %v", err)
					continue
				}
				engine.ReplaceRuleSets(l.RuleSets())
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
