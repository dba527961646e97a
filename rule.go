package antler

// DefaultAgendaGroup is the implicit group rules belong to unless a group
// is set. It sits at the bottom of every session's focus stack and is
// never popped.
const DefaultAgendaGroup = "main"

// Action is the callable executed when a rule fires. It receives the
// session (so it can assert, modify, retract, focus, or halt) and the
// match binding the rule's conditions to concrete facts.
//
// An action error is non-fatal: it is recorded as a per-firing diagnostic
// and the fire loop continues with other pending activations.
type Action func(s *Session, m *Match) error

// Rule is a named condition set plus an action. Rules are immutable after
// the owning Flow is built.
type Rule struct {
	name      string
	priority  int
	group     string
	autoFocus bool
	conds     []*Condition
	action    Action
}

// Name returns the rule's name, unique within its flow.
func (r *Rule) Name() string { return r.name }

// Priority returns the rule's salience; higher fires first.
func (r *Rule) Priority() int { return r.priority }

// AgendaGroup returns the rule's agenda group.
func (r *Rule) AgendaGroup() string { return r.group }

// AutoFocus reports whether a new activation of this rule pushes its
// group onto the focus stack.
func (r *Rule) AutoFocus() bool { return r.autoFocus }

// ConditionCount returns the number of conditions (the match arity).
func (r *Rule) ConditionCount() int { return len(r.conds) }
