package antler

import (
	"fmt"
	"reflect"
	"strings"
)

// condSlot addresses one condition of one rule in the compiled topology.
type condSlot struct {
	rule int // index into network.rules
	pos  int // condition position within the rule, 0-based
}

// network is the static topology of a flow's discrimination network: for
// every fact type tag, the rule conditions interested in it. Compiled
// once at Flow.Build and shared read-only by all sessions.
type network struct {
	rules  []*Rule
	byType map[reflect.Type][]condSlot
}

func compileNetwork(rules []*Rule) *network {
	net := &network{
		rules:  rules,
		byType: make(map[reflect.Type][]condSlot),
	}
	for ri, r := range rules {
		for pi, c := range r.conds {
			net.byType[c.typ] = append(net.byType[c.typ], condSlot{rule: ri, pos: pi})
		}
	}
	return net
}

// token is one partial (or full) match: the first `level` conditions of a
// rule bound to concrete facts. Tokens form a tree per rule — each token
// extends its parent by one fact — so removing a fact cascades from the
// token that bound it down through every descendant.
type token struct {
	rule     int
	level    int // number of facts bound, 1..len(conds)
	facts    []*factHandle
	match    *Match
	key      string // dedup key: rule index + ordered fact identities
	parent   int    // arena index, -1 for level-1 tokens
	children []int
	live     bool
	fired    bool

	// activation is set when the token is a full match. It is the handle
	// the agenda holds; retracting the token tombstones it.
	activation *Activation
}

// netState is the per-session mutable state of the discrimination
// network: an arena of match tokens addressed by stable indices, plus the
// index tables that make insertion and removal table updates rather than
// pointer-chasing.
//
// Single-writer: the owning session serializes all propagation.
type netState struct {
	net    *network
	store  *factStore
	agenda *agenda
	clock  *Clock

	arena []*token
	free  []int

	// byLast indexes live tokens by the identity of their most recently
	// bound fact. Retracting a fact removes exactly these tokens; tokens
	// binding the fact at an earlier level fall to the child cascade.
	byLast map[FactID][]int

	// byLevel lists live token indices per (rule, level-1) in creation
	// order, so joins against existing partial matches are deterministic.
	byLevel [][][]int

	// keys dedupes tokens by (rule, fact tuple): propagation can reach
	// the same join result along two paths when one fact satisfies
	// several conditions of a rule.
	keys map[string]int

	// onDiagnostic surfaces predicate failures as non-fatal diagnostics.
	onDiagnostic func(rule string, stage DiagnosticStage, err error)

	// onActivation reports matches reaching or leaving full size.
	onActivation func(a *Activation, created bool)
}

func newNetState(net *network, store *factStore, ag *agenda, clock *Clock) *netState {
	byLevel := make([][][]int, len(net.rules))
	for i, r := range net.rules {
		byLevel[i] = make([][]int, len(r.conds))
	}
	return &netState{
		net:     net,
		store:   store,
		agenda:  ag,
		clock:   clock,
		byLast:  make(map[FactID][]int),
		byLevel: byLevel,
		keys:    make(map[string]int),
	}
}

// insert propagates a newly asserted (or re-asserted after modify) fact.
// Only the condition slots registered for the fact's type tag are
// touched; everything else in the network is unaffected.
func (st *netState) insert(h *factHandle) {
	for _, slot := range st.net.byType[h.typ] {
		r := st.net.rules[slot.rule]
		cond := r.conds[slot.pos]

		if slot.pos == 0 {
			if st.eval(r, cond, h, emptyMatch) {
				st.createToken(slot.rule, -1, h)
			}
			continue
		}

		// Join against the partial matches waiting at the previous level.
		// Snapshot the index list: token creation appends to it when a
		// rule binds the same type at several positions.
		parents := append([]int(nil), st.byLevel[slot.rule][slot.pos-1]...)
		for _, pi := range parents {
			pt := st.arena[pi]
			if !pt.live {
				continue
			}
			if st.eval(r, cond, h, pt.match) {
				st.createToken(slot.rule, pi, h)
			}
		}
	}
}

// remove purges every partial and full match supported by the identity,
// transitively. Full matches emit an activation retraction to the agenda:
// an activation must never fire after a supporting fact is gone.
func (st *netState) remove(id FactID) {
	idxs := append([]int(nil), st.byLast[id]...)
	for _, i := range idxs {
		st.removeToken(i)
	}
}

// createToken extends parent (or starts a level-1 match) with fact h.
// A token reaching full size becomes an activation; otherwise it is
// immediately joined against the facts already in the store for the next
// condition, cascading until the chain stalls or completes.
func (st *netState) createToken(rule int, parent int, h *factHandle) {
	r := st.net.rules[rule]

	var match *Match
	level := 1
	if parent >= 0 {
		p := st.arena[parent]
		level = p.level + 1
		match = p.match.extended(r.conds[p.level].alias, h)
	} else {
		match = emptyMatch.extended(r.conds[0].alias, h)
	}

	key := tokenKey(rule, match)
	if prev, ok := st.keys[key]; ok && st.tokenLive(prev) {
		return
	}

	t := &token{
		rule:   rule,
		level:  level,
		facts:  match.facts,
		match:  match,
		key:    key,
		parent: parent,
		live:   true,
	}

	idx := st.alloc(t)
	st.keys[key] = idx
	if parent >= 0 {
		st.arena[parent].children = append(st.arena[parent].children, idx)
	}
	st.byLast[h.id] = append(st.byLast[h.id], idx)
	st.byLevel[rule][level-1] = append(st.byLevel[rule][level-1], idx)

	if level == len(r.conds) {
		act := &Activation{
			rule:  r,
			match: match,
			seq:   st.clock.Next(),
			token: idx,
		}
		t.activation = act
		st.agenda.add(act)
		if st.onActivation != nil {
			st.onActivation(act, true)
		}
		return
	}

	// Partial match: try to grow it with the facts already asserted for
	// the next condition's type (including h itself, when a rule binds
	// the same type twice).
	next := r.conds[level]
	candidates := st.store.ofType(next.typ)
	for _, g := range candidates {
		if st.eval(r, next, g, match) {
			st.createToken(rule, idx, g)
		}
	}
}

// removeToken tombstones a token, cascades to its descendants, and
// retracts its activation if it was a full match still pending.
func (st *netState) removeToken(idx int) {
	t := st.arena[idx]
	if t == nil || !t.live {
		return
	}
	t.live = false

	children := append([]int(nil), t.children...)
	for _, c := range children {
		st.removeToken(c)
	}

	if t.activation != nil {
		st.agenda.remove(t.activation)
		if st.onActivation != nil && !t.fired {
			st.onActivation(t.activation, false)
		}
	}

	delete(st.keys, t.key)
	last := t.facts[len(t.facts)-1]
	st.byLast[last.id] = dropIndex(st.byLast[last.id], idx)
	if len(st.byLast[last.id]) == 0 {
		delete(st.byLast, last.id)
	}
	st.byLevel[t.rule][t.level-1] = dropIndex(st.byLevel[t.rule][t.level-1], idx)
	if t.parent >= 0 && st.arena[t.parent] != nil {
		st.arena[t.parent].children = dropIndex(st.arena[t.parent].children, idx)
	}

	st.arena[idx] = nil
	st.free = append(st.free, idx)
}

// markFired records that the supporting token's activation has been
// consumed. The token stays live: the match still holds, it just cannot
// re-enter the agenda unless the network re-derives it.
func (st *netState) markFired(tokenIdx int) {
	if t := st.arena[tokenIdx]; t != nil {
		t.fired = true
	}
}

// tokenLive reports whether a token index still refers to a live match.
// The fire loop re-checks this defensively before executing an action.
func (st *netState) tokenLive(tokenIdx int) bool {
	if tokenIdx < 0 || tokenIdx >= len(st.arena) {
		return false
	}
	t := st.arena[tokenIdx]
	return t != nil && t.live
}

// alloc places a token in the arena, reusing a freed slot when one is
// available. Indices are stable for a token's lifetime.
func (st *netState) alloc(t *token) int {
	if n := len(st.free); n > 0 {
		idx := st.free[n-1]
		st.free = st.free[:n-1]
		st.arena[idx] = t
		return idx
	}
	st.arena = append(st.arena, t)
	return len(st.arena) - 1
}

// eval runs a condition predicate, converting a panic into a non-fatal
// diagnostic and a non-match. One bad predicate must not stall the
// network.
func (st *netState) eval(r *Rule, c *Condition, h *factHandle, prior *Match) bool {
	ok, err := c.evaluate(h, prior)
	if err != nil && st.onDiagnostic != nil {
		st.onDiagnostic(r.name, StageCondition, err)
	}
	return ok && err == nil
}

// dispose releases all match state.
func (st *netState) dispose() {
	st.arena = nil
	st.free = nil
	st.byLast = make(map[FactID][]int)
	st.keys = make(map[string]int)
	for i := range st.byLevel {
		for j := range st.byLevel[i] {
			st.byLevel[i][j] = nil
		}
	}
}

// tokenKey builds the dedup key for a (rule, fact tuple) pair.
func tokenKey(rule int, m *Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", rule)
	for _, f := range m.facts {
		fmt.Fprintf(&b, ":%d", f.id)
	}
	return b.String()
}

func dropIndex(list []int, idx int) []int {
	for i, v := range list {
		if v == idx {
			copy(list[i:], list[i+1:])
			return list[:len(list)-1]
		}
	}
	return list
}
