package rules

import "fmt"

// Condition is a predicate node evaluated against a snapshot's normalized
// values. Implementations are immutable after construction.
type Condition interface {
	// Eval returns whether the predicate holds. A missing parameter index
	// evaluates false; it never errors at evaluation time.
	Eval(values map[int]float64) bool
}

// Comparison is a leaf predicate on one parameter.
type Comparison struct {
	Parameter int
	Op        Operator
	Threshold float64
}

func (c *Comparison) Eval(values map[int]float64) bool {
	v, ok := values[c.Parameter]
	if !ok {
		return false
	}
	return c.Op.Compare(v, c.Threshold)
}

// And holds when every child holds; evaluation short-circuits on the first
// false child.
type And struct {
	Children []Condition
}

func (a *And) Eval(values map[int]float64) bool {
	for _, c := range a.Children {
		if !c.Eval(values) {
			return false
		}
	}
	return true
}

// Or holds when any child holds; evaluation short-circuits on the first
// true child.
type Or struct {
	Children []Condition
}

func (o *Or) Eval(values map[int]float64) bool {
	for _, c := range o.Children {
		if c.Eval(values) {
			return true
		}
	}
	return false
}

// Not negates its single child.
type Not struct {
	Child Condition
}

func (n *Not) Eval(values map[int]float64) bool {
	return !n.Child.Eval(values)
}

// NewComparison builds a validated comparison leaf.
func NewComparison(parameter int, op string, threshold float64) (*Comparison, error) {
	parsed, err := ParseOperator(op)
	if err != nil {
		return nil, err
	}
	if parameter < 0 {
		return nil, fmt.Errorf("rules: negative parameter index %d", parameter)
	}
	return &Comparison{Parameter: parameter, Op: parsed, Threshold: threshold}, nil
}

// NewAnd builds a validated AND node. Logical arity is checked here, at load
// time, never during evaluation.
func NewAnd(children []Condition) (*And, error) {
	if len(children) < 2 {
		return nil, fmt.Errorf("rules: AND requires at least 2 children, got %d", len(children))
	}
	return &And{Children: children}, nil
}

// NewOr builds a validated OR node.
func NewOr(children []Condition) (*Or, error) {
	if len(children) < 2 {
		return nil, fmt.Errorf("rules: OR requires at least 2 children, got %d", len(children))
	}
	return &Or{Children: children}, nil
}

// NewNot builds a validated NOT node.
func NewNot(child Condition) (*Not, error) {
	if child == nil {
		return nil, fmt.Errorf("rules: NOT requires exactly 1 child")
	}
	return &Not{Child: child}, nil
}
