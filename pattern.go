package antler

import (
	"fmt"
	"reflect"
)

// Match is the ordered tuple of facts bound by a rule's conditions, keyed
// by each condition's alias. Actions and join predicates read earlier
// bindings through it; it is never mutated by callers.
type Match struct {
	aliases []string
	facts   []*factHandle
}

// Get returns the payload bound to alias, or false if the alias is not
// bound (yet). During join evaluation only conditions earlier in the rule
// are bound.
func (m *Match) Get(alias string) (any, bool) {
	for i, a := range m.aliases {
		if a == alias {
			return m.facts[i].value, true
		}
	}
	return nil, false
}

// FactID returns the identity of the fact bound to alias. Actions use it
// to retract or modify a bound fact through the session.
func (m *Match) FactID(alias string) (FactID, bool) {
	for i, a := range m.aliases {
		if a == alias {
			return m.facts[i].id, true
		}
	}
	return 0, false
}

// Aliases returns the bound aliases in condition order.
func (m *Match) Aliases() []string {
	out := make([]string, len(m.aliases))
	copy(out, m.aliases)
	return out
}

// Bound returns the fact bound to alias as a *T, or false if the alias is
// unbound or holds a different type.
func Bound[T any](m *Match, alias string) (*T, bool) {
	v, ok := m.Get(alias)
	if !ok {
		return nil, false
	}
	p, ok := v.(*T)
	return p, ok
}

// extended returns a new Match with one more binding appended. The backing
// slices are copied: tokens sharing a parent must not alias each other's
// bindings.
func (m *Match) extended(alias string, h *factHandle) *Match {
	n := len(m.aliases)
	next := &Match{
		aliases: make([]string, n+1),
		facts:   make([]*factHandle, n+1),
	}
	copy(next.aliases, m.aliases)
	copy(next.facts, m.facts)
	next.aliases[n] = alias
	next.facts[n] = h
	return next
}

var emptyMatch = &Match{}

// Condition is one compiled condition of a rule: a type tag plus a
// predicate over a candidate fact and the facts bound by earlier
// conditions. Conditions are built with Type[T] and are immutable.
type Condition struct {
	alias string
	typ   reflect.Type
	test  func(value any, prior *Match) bool
}

// Alias returns the binding name this condition contributes to a match.
func (c *Condition) Alias() string { return c.alias }

// evaluate runs the condition's predicate against a candidate fact.
// A panicking predicate counts as "does not match" and is reported as a
// non-fatal diagnostic; evaluation of other candidates continues.
func (c *Condition) evaluate(h *factHandle, prior *Match) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("condition %q panicked: %v", c.alias, r)
		}
	}()
	if h.typ != c.typ {
		return false, nil
	}
	if c.test == nil {
		return true, nil
	}
	return c.test(h.value, prior), nil
}

// ConditionSource is anything that compiles down to a Condition. The
// generic pattern builder implements it; When accepts either builders or
// already-compiled conditions.
type ConditionSource interface {
	condition() *Condition
}

func (c *Condition) condition() *Condition { return c }

// Pattern is a typed condition builder. Construct one with Type[T], add
// alpha constraints with Where and cross-condition constraints with Join,
// then pass it to RuleBuilder.When.
//
// A Pattern with no constraints matches every fact of its type.
type Pattern[T any] struct {
	alias  string
	wheres []func(*T) bool
	joins  []func(*T, *Match) bool
}

// Type starts a condition over facts asserted as *T, bound under alias.
// The alias must be unique within a rule; actions retrieve the bound fact
// with Bound[T](match, alias).
func Type[T any](alias string) *Pattern[T] {
	return &Pattern[T]{alias: alias}
}

// Where adds a single-fact (alpha) constraint. Multiple Where calls are
// conjoined.
func (p *Pattern[T]) Where(pred func(*T) bool) *Pattern[T] {
	p.wheres = append(p.wheres, pred)
	return p
}

// Join adds a cross-condition (beta) constraint: the predicate also sees
// the facts bound by the rule's earlier conditions. Multiple Join calls
// are conjoined and run after the Where constraints.
func (p *Pattern[T]) Join(pred func(*T, *Match) bool) *Pattern[T] {
	p.joins = append(p.joins, pred)
	return p
}

// condition compiles the pattern. The type tag is resolved here, once, at
// rule registration time.
func (p *Pattern[T]) condition() *Condition {
	wheres := p.wheres
	joins := p.joins
	return &Condition{
		alias: p.alias,
		typ:   reflect.TypeOf((*T)(nil)),
		test: func(value any, prior *Match) bool {
			v, ok := value.(*T)
			if !ok {
				return false
			}
			for _, w := range wheres {
				if !w(v) {
					return false
				}
			}
			for _, j := range joins {
				if !j(v, prior) {
					return false
				}
			}
			return true
		},
	}
}
