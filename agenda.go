package antler

import "container/heap"

// Activation is a realized match: a rule bound to a concrete fact tuple
// satisfying all of its conditions, stamped with an insertion sequence
// number used as the conflict-resolution tie-break.
//
// Activations are produced and retracted by the discrimination network as
// facts change. They live only inside the agenda and are never exposed
// for mutation.
type Activation struct {
	rule  *Rule
	match *Match
	seq   int64 // insertion sequence, ascending tie-break
	token int   // supporting token's arena index

	// removed marks an activation retracted by the network while still
	// sitting in a group's heap. Removal is lazy: next() skips tombstones
	// instead of re-heapifying on every retraction.
	removed bool
}

// Rule returns the activated rule.
func (a *Activation) Rule() *Rule { return a.rule }

// Match returns the bound fact tuple.
func (a *Activation) Match() *Match { return a.match }

// Seq returns the activation's insertion sequence number.
func (a *Activation) Seq() int64 { return a.seq }

// activationHeap orders activations by rule priority descending, then
// insertion sequence ascending. The strategy is stable and documented,
// not a re-discoverable arbitrary order.
type activationHeap []*Activation

func (h activationHeap) Len() int { return len(h) }

func (h activationHeap) Less(i, j int) bool {
	if h[i].rule.priority != h[j].rule.priority {
		return h[i].rule.priority > h[j].rule.priority
	}
	return h[i].seq < h[j].seq
}

func (h activationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *activationHeap) Push(x any) { *h = append(*h, x.(*Activation)) }

func (h *activationHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return a
}

type agendaGroup struct {
	name    string
	entries activationHeap
}

func (g *agendaGroup) push(a *Activation) {
	heap.Push(&g.entries, a)
}

// pop returns the next live activation, discarding tombstones.
func (g *agendaGroup) pop() *Activation {
	for g.entries.Len() > 0 {
		a := heap.Pop(&g.entries).(*Activation)
		if !a.removed {
			return a
		}
	}
	return nil
}

// live counts non-removed activations.
func (g *agendaGroup) live() int {
	n := 0
	for _, a := range g.entries {
		if !a.removed {
			n++
		}
	}
	return n
}

// agenda totally orders the activations eligible to fire. Activations are
// partitioned by agenda group; a focus stack decides which group fires.
// The default group sits at the bottom of the stack and is never popped.
type agenda struct {
	groups map[string]*agendaGroup
	focus  []string // stack, top at the end
}

// newAgenda creates an agenda with a group per declared name. Groups are
// fixed at session construction: rules are immutable, so the group set is
// too.
func newAgenda(groups map[string]struct{}) *agenda {
	ag := &agenda{
		groups: make(map[string]*agendaGroup, len(groups)),
		focus:  []string{DefaultAgendaGroup},
	}
	for name := range groups {
		ag.groups[name] = &agendaGroup{name: name}
	}
	if _, ok := ag.groups[DefaultAgendaGroup]; !ok {
		ag.groups[DefaultAgendaGroup] = &agendaGroup{name: DefaultAgendaGroup}
	}
	return ag
}

// add inserts an activation into its rule's group. If the rule has
// auto-focus, the group is pushed to the top of the focus stack.
func (ag *agenda) add(a *Activation) {
	g := ag.groups[a.rule.group]
	g.push(a)
	if a.rule.autoFocus {
		ag.pushFocus(a.rule.group)
	}
}

// remove retracts an activation that lost a supporting fact. If the
// activation is currently mid-fire it has already left the heap, and the
// tombstone is a harmless no-op: an executing action is never
// interrupted.
func (ag *agenda) remove(a *Activation) {
	a.removed = true
}

// requeue returns a popped-but-unfired activation to its group, without
// re-triggering auto-focus. Used when a fire loop aborts on its quota.
func (ag *agenda) requeue(a *Activation) {
	ag.groups[a.rule.group].push(a)
}

// setFocus pushes a group onto the focus stack. Unknown groups are
// rejected: the group set is fixed by the flow's rules.
func (ag *agenda) setFocus(name string) error {
	if _, ok := ag.groups[name]; !ok {
		return ErrUnknownGroup
	}
	ag.pushFocus(name)
	return nil
}

func (ag *agenda) pushFocus(name string) {
	if ag.focused() != name {
		ag.focus = append(ag.focus, name)
	}
}

// focused returns the group currently on top of the focus stack.
func (ag *agenda) focused() string {
	return ag.focus[len(ag.focus)-1]
}

// next pops the highest-priority activation from the top focus group,
// falling down the stack as groups exhaust. Returns nil when every
// focused group is empty.
func (ag *agenda) next() *Activation {
	for {
		top := ag.focused()
		if a := ag.groups[top].pop(); a != nil {
			return a
		}
		if top == DefaultAgendaGroup {
			return nil
		}
		ag.focus = ag.focus[:len(ag.focus)-1]
	}
}

// size counts live activations across all groups, focused or not.
// Introspection only; firing eligibility is governed by the focus stack.
func (ag *agenda) size() int {
	n := 0
	for _, g := range ag.groups {
		n += g.live()
	}
	return n
}

// dispose drops all activations and resets focus.
func (ag *agenda) dispose() {
	for _, g := range ag.groups {
		g.entries = nil
	}
	ag.focus = []string{DefaultAgendaGroup}
}
