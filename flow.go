package antler

import "fmt"

// Flow is the immutable set of rules defining one matching network
// topology. A Flow holds no mutable fact state: it may spawn any number
// of independent Sessions, which can run concurrently because the rule
// definitions are read-only after Build.
type Flow struct {
	name   string
	rules  []*Rule // declaration order
	byName map[string]*Rule
	net    *network
	groups map[string]struct{} // groups declared by rules, plus main
}

// Name returns the flow's name.
func (f *Flow) Name() string { return f.name }

// RuleNames returns the rule names in declaration order.
func (f *Flow) RuleNames() []string {
	names := make([]string, len(f.rules))
	for i, r := range f.rules {
		names[i] = r.name
	}
	return names
}

// Rule returns a rule by name.
func (f *Flow) Rule(name string) (*Rule, bool) {
	r, ok := f.byName[name]
	return r, ok
}

// FlowBuilder accumulates rule definitions. Defects (duplicate names,
// missing actions) are collected and reported by Build, before the flow
// is usable.
type FlowBuilder struct {
	name  string
	rules []*Rule
	errs  []error
}

// NewFlow starts building a flow with the given name.
func NewFlow(name string) *FlowBuilder {
	return &FlowBuilder{name: name}
}

// Rule starts a rule definition within this flow.
func (b *FlowBuilder) Rule(name string) *RuleBuilder {
	return &RuleBuilder{flow: b, name: name, group: DefaultAgendaGroup}
}

// Build validates the accumulated definitions and compiles the
// discrimination network topology. Duplicate rule names are fatal here:
// the flow is rejected before it can spawn sessions.
func (b *FlowBuilder) Build() (*Flow, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	f := &Flow{
		name:   b.name,
		rules:  b.rules,
		byName: make(map[string]*Rule, len(b.rules)),
		groups: map[string]struct{}{DefaultAgendaGroup: {}},
	}
	for _, r := range b.rules {
		if _, dup := f.byName[r.name]; dup {
			return nil, &BuildError{Flow: b.name, Rule: r.name, Message: "duplicate rule name"}
		}
		f.byName[r.name] = r
		f.groups[r.group] = struct{}{}
	}
	f.net = compileNetwork(f.rules)
	return f, nil
}

// RuleBuilder configures one rule. Call When to set the ordered
// conditions and Do to set the action and return to the flow builder.
type RuleBuilder struct {
	flow      *FlowBuilder
	name      string
	priority  int
	group     string
	autoFocus bool
	conds     []*Condition
}

// Salience sets the rule's priority. Higher priority fires first; the
// default is 0.
func (rb *RuleBuilder) Salience(priority int) *RuleBuilder {
	rb.priority = priority
	return rb
}

// AgendaGroup assigns the rule to an agenda group. Activations in a group
// fire only while that group has focus.
func (rb *RuleBuilder) AgendaGroup(group string) *RuleBuilder {
	rb.group = group
	return rb
}

// AutoFocus makes new activations of this rule push its agenda group onto
// the focus stack.
func (rb *RuleBuilder) AutoFocus() *RuleBuilder {
	rb.autoFocus = true
	return rb
}

// When sets the rule's ordered conditions. Conditions are evaluated
// left-to-right as a join chain: each condition's Join predicates may
// reference facts bound by earlier conditions.
func (rb *RuleBuilder) When(conds ...ConditionSource) *RuleBuilder {
	for _, c := range conds {
		rb.conds = append(rb.conds, c.condition())
	}
	return rb
}

// Do sets the rule's action, registers the rule with the flow builder,
// and returns the flow builder for chaining. Definition defects are
// recorded and surfaced by Build.
func (rb *RuleBuilder) Do(action Action) *FlowBuilder {
	switch {
	case rb.name == "":
		rb.flow.errs = append(rb.flow.errs,
			&BuildError{Flow: rb.flow.name, Message: "rule name must not be empty"})
	case len(rb.conds) == 0:
		rb.flow.errs = append(rb.flow.errs,
			&BuildError{Flow: rb.flow.name, Rule: rb.name, Message: "rule has no conditions"})
	case action == nil:
		rb.flow.errs = append(rb.flow.errs,
			&BuildError{Flow: rb.flow.name, Rule: rb.name, Message: "rule action not defined"})
	case rb.group == "":
		rb.flow.errs = append(rb.flow.errs,
			&BuildError{Flow: rb.flow.name, Rule: rb.name, Message: "agenda group must not be empty"})
	default:
		if err := checkAliases(rb); err != nil {
			rb.flow.errs = append(rb.flow.errs, err)
			break
		}
		rb.flow.rules = append(rb.flow.rules, &Rule{
			name:      rb.name,
			priority:  rb.priority,
			group:     rb.group,
			autoFocus: rb.autoFocus,
			conds:     rb.conds,
			action:    action,
		})
	}
	return rb.flow
}

func checkAliases(rb *RuleBuilder) error {
	seen := make(map[string]struct{}, len(rb.conds))
	for _, c := range rb.conds {
		if c.alias == "" {
			return &BuildError{Flow: rb.flow.name, Rule: rb.name, Message: "condition alias must not be empty"}
		}
		if _, dup := seen[c.alias]; dup {
			return &BuildError{
				Flow: rb.flow.name, Rule: rb.name,
				Message: fmt.Sprintf("duplicate condition alias %q", c.alias),
			}
		}
		seen[c.alias] = struct{}{}
	}
	return nil
}
