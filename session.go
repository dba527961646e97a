package antler

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces session tokens for log and trace correlation.
// Implemented by UUIDv7Generator (production) and FixedTokens (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session tokens, helpful
// for debugging and trace ordering. Stateless and safe for concurrent
// use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string. Panics only if
// the platform's entropy source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedTokens returns predetermined tokens in order, enabling
// deterministic tests and golden trace comparison. Panics when exhausted:
// a test creating more sessions than it declared is misconfigured.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic("antler: FixedTokens exhausted")
	}
	t := g.tokens[g.idx]
	g.idx++
	return t
}

// SessionOption configures a session at creation.
type SessionOption func(*Session)

// WithMaxFirings caps the number of firings a single match call may
// execute. Zero (the default) means unlimited: guarding against
// self-triggering rule loops is ordinarily the rule author's job, and the
// cap is the opt-in safety net for rule sets that cannot be trusted to
// halt.
func WithMaxFirings(n int) SessionOption {
	return func(s *Session) { s.maxFirings = n }
}

// WithObserver attaches an event sink (e.g. a trace recorder).
func WithObserver(o Observer) SessionOption {
	return func(s *Session) { s.observer = o }
}

// WithTokenGenerator overrides the session token source. Tests use
// FixedTokens for deterministic output.
func WithTokenGenerator(g TokenGenerator) SessionOption {
	return func(s *Session) { s.tokenGen = g }
}

// Session is one running instance of a Flow. It owns working memory, the
// live discrimination network state, and the agenda.
//
// CRITICAL: a session's state machine is single-threaded. Callers must
// serialize Assert/Retract/Modify/match calls; there is no internal
// locking because the incremental join state depends on strict event
// ordering. Independent sessions from the same Flow may run concurrently.
type Session struct {
	flow     *Flow
	token    string
	tokenGen TokenGenerator

	clock  *Clock
	store  *factStore
	agenda *agenda
	state  *netState

	observer   Observer
	maxFirings int

	halted   bool
	disposed bool
	diags    []Diagnostic
}

// Session creates a new independent session bound to this flow.
func (f *Flow) Session(opts ...SessionOption) *Session {
	s := &Session{
		flow:     f,
		tokenGen: UUIDv7Generator{},
		clock:    NewClock(),
		store:    newFactStore(),
		agenda:   newAgenda(f.groups),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.token = s.tokenGen.Generate()
	s.state = newNetState(f.net, s.store, s.agenda, s.clock)
	s.state.onDiagnostic = s.recordDiagnostic
	s.state.onActivation = s.notifyActivation

	slog.Debug("session opened", "flow", f.name, "session", s.token)
	s.emit(Event{Seq: s.clock.Next(), Kind: EventSessionOpened})
	return s
}

// Token returns the session's correlation token.
func (s *Session) Token() string { return s.token }

// Flow returns the flow this session was spawned from.
func (s *Session) Flow() *Flow { return s.flow }

// Assert inserts a new fact into working memory and synchronously
// propagates it through the network before returning, so the agenda is
// consistent with working memory when the call completes.
//
// The payload must be a non-nil pointer; it is owned by the session until
// retracted.
func (s *Session) Assert(value any) (FactID, error) {
	if s.disposed {
		return 0, ErrSessionDisposed
	}
	if !validFactValue(value) {
		return 0, ErrInvalidFact
	}
	h := s.store.insert(value, s.clock.Next())
	s.emit(Event{Seq: h.recency, Kind: EventAssert, FactID: h.id, TypeTag: h.typ.String(), Payload: h.value})
	s.state.insert(h)
	return h.id, nil
}

// Retract removes a live fact, cascading to the removal of every partial
// match and pending activation that referenced it. Returns false (a
// no-op, not an error) if the identity is already dead.
func (s *Session) Retract(id FactID) (bool, error) {
	if s.disposed {
		return false, ErrSessionDisposed
	}
	h, ok := s.store.remove(id)
	if !ok {
		return false, nil
	}
	s.emit(Event{Seq: s.clock.Next(), Kind: EventRetract, FactID: id, TypeTag: h.typ.String()})
	s.state.remove(id)
	return true, nil
}

// Modify replaces a fact's payload wholesale, preserving its identity.
// The network treats it as retract-old-match then re-evaluate: stale
// partial matches are purged before any condition sees the new payload.
//
// The replacement must carry the same type tag; a type-changing modify is
// rejected with ErrTypeChanged (retract and assert instead). Returns
// false if the identity is dead.
func (s *Session) Modify(id FactID, value any) (bool, error) {
	if s.disposed {
		return false, ErrSessionDisposed
	}
	if !validFactValue(value) {
		return false, ErrInvalidFact
	}
	h, ok := s.store.get(id)
	if !ok {
		return false, nil
	}
	if typeTag(value) != h.typ {
		return false, ErrTypeChanged
	}
	s.state.remove(id)
	s.store.replace(id, value, s.clock.Next())
	s.emit(Event{Seq: h.recency, Kind: EventModify, FactID: id, TypeTag: h.typ.String(), Payload: h.value})
	s.state.insert(h)
	return true, nil
}

// Mutate updates a fact's payload in place through the mutator, then
// re-propagates it under the same identity, exactly like Modify. The
// mutator receives the live pointer the session owns.
func (s *Session) Mutate(id FactID, mutate func(value any)) (bool, error) {
	if s.disposed {
		return false, ErrSessionDisposed
	}
	h, ok := s.store.get(id)
	if !ok {
		return false, nil
	}
	s.state.remove(id)
	mutate(h.value)
	s.store.touch(id, s.clock.Next())
	s.emit(Event{Seq: h.recency, Kind: EventModify, FactID: id, TypeTag: h.typ.String(), Payload: h.value})
	s.state.insert(h)
	return true, nil
}

// Get returns a live fact's payload.
func (s *Session) Get(id FactID) (any, bool) {
	if s.disposed {
		return nil, false
	}
	h, ok := s.store.get(id)
	if !ok {
		return nil, false
	}
	return h.value, true
}

// FactCount returns the number of live facts in working memory.
func (s *Session) FactCount() int {
	if s.disposed {
		return 0
	}
	return s.store.count()
}

// FactsOf returns the live facts asserted as *T, in assertion order.
func FactsOf[T any](s *Session) []*T {
	if s.disposed {
		return nil
	}
	list := s.store.ofType(reflect.TypeOf((*T)(nil)))
	out := make([]*T, 0, len(list))
	for _, h := range list {
		out = append(out, h.value.(*T))
	}
	return out
}

// Focus pushes an agenda group onto the focus stack. Only the top group's
// activations are eligible to fire; an exhausted group pops back down.
func (s *Session) Focus(group string) error {
	if s.disposed {
		return ErrSessionDisposed
	}
	if err := s.agenda.setFocus(group); err != nil {
		return err
	}
	s.emit(Event{Seq: s.clock.Next(), Kind: EventFocus, Group: group})
	return nil
}

// Halt cooperatively stops the current fire loop between firings. An
// in-progress action always completes. Calling Halt multiple times
// before the next firing has the same effect as calling it once.
func (s *Session) Halt() {
	if s.disposed || s.halted {
		return
	}
	s.halted = true
	s.emit(Event{Seq: s.clock.Next(), Kind: EventHalt})
}

// Halted reports whether the current/last fire loop was halted.
func (s *Session) Halted() bool { return s.halted }

// AgendaSize returns the number of pending activations across all groups.
// Introspection only; eligibility is governed by the focus stack.
func (s *Session) AgendaSize() int {
	if s.disposed {
		return 0
	}
	return s.agenda.size()
}

// Diagnostics returns the non-fatal evaluation failures recorded so far
// (panicking predicates, failed actions).
func (s *Session) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(s.diags))
	copy(out, s.diags)
	return out
}

// MatchRules drains the agenda once: it pops and fires activations until
// none remain or Halt is called. Activations produced by an action's own
// fact mutations are processed within the same call, since mutation
// re-enters the network synchronously. Returns the number of activations
// fired.
func (s *Session) MatchRules() (int, error) {
	return s.fireLoop()
}

// MatchUntilHalt loops popping and firing until the agenda is empty or
// Halt has been invoked. A rule whose action keeps re-deriving its own
// match will not terminate unless its author calls Halt (or the session
// was created with WithMaxFirings); that is an obligation of rule
// authors, not an engine defect.
func (s *Session) MatchUntilHalt() (int, error) {
	return s.fireLoop()
}

// fireLoop is the single firing engine behind both match entry points.
//
// ERROR HANDLING: an action failure is recorded per firing and the loop
// continues — other pending activations still get their chance. Only
// structural conditions (disposed session, firing quota) abort the loop.
func (s *Session) fireLoop() (int, error) {
	if s.disposed {
		return 0, ErrSessionDisposed
	}

	// A new match call starts un-halted; Halt only stops the loop it
	// interrupts.
	s.halted = false

	fired := 0
	for !s.halted {
		act := s.agenda.next()
		if act == nil {
			break
		}
		// Defensive re-check: the supporting match may have been retracted
		// by an earlier firing in this same loop.
		if !s.state.tokenLive(act.token) {
			continue
		}
		if s.maxFirings > 0 && fired >= s.maxFirings {
			s.agenda.requeue(act)
			qerr := &FiringQuotaError{Session: s.token, Firings: fired + 1, Limit: s.maxFirings}
			slog.Error("max firings exceeded",
				"session", s.token,
				"flow", s.flow.name,
				"limit", s.maxFirings,
			)
			return fired, qerr
		}

		s.state.markFired(act.token)
		fired++
		s.emit(Event{Seq: s.clock.Next(), Kind: EventFiring, Rule: act.rule.name, Group: act.rule.group})

		if err := act.rule.action(s, act.match); err != nil {
			s.recordDiagnostic(act.rule.name, StageAction, err)
			s.emit(Event{Seq: s.clock.Current(), Kind: EventFiringFailed, Rule: act.rule.name, Err: err.Error()})
			slog.Warn("rule action failed",
				"session", s.token,
				"rule", act.rule.name,
				"error", err,
			)
		}
	}
	return fired, nil
}

// Dispose releases working memory, all partial and full matches, and the
// agenda. Idempotent: disposing twice is a no-op. Every other operation
// on a disposed session fails with ErrSessionDisposed.
func (s *Session) Dispose() {
	if s.disposed {
		return
	}
	s.emit(Event{Seq: s.clock.Next(), Kind: EventDispose})
	s.disposed = true
	s.store.clear()
	s.state.dispose()
	s.agenda.dispose()
	slog.Debug("session disposed", "flow", s.flow.name, "session", s.token)
}

// Disposed reports whether the session has been disposed.
func (s *Session) Disposed() bool { return s.disposed }

func (s *Session) recordDiagnostic(rule string, stage DiagnosticStage, err error) {
	d := Diagnostic{Seq: s.clock.Next(), Rule: rule, Stage: stage, Err: err}
	s.diags = append(s.diags, d)
	slog.Debug("evaluation diagnostic",
		"session", s.token,
		"rule", rule,
		"stage", string(stage),
		"error", err,
	)
}

func (s *Session) notifyActivation(a *Activation, created bool) {
	if created {
		s.emit(Event{Seq: a.seq, Kind: EventActivation, Rule: a.rule.name, Group: a.rule.group})
		return
	}
	s.emit(Event{Seq: s.clock.Next(), Kind: EventActivationGC, Rule: a.rule.name, Group: a.rule.group})
}

func (s *Session) emit(e Event) {
	if s.observer != nil {
		s.observer.OnEvent(e)
	}
}
