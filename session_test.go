package antler

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Text string
}

type counter struct {
	N int
}

type customerFact struct {
	ID   string
	Name string
}

type orderFact struct {
	Customer string
	Total    int
}

// greetingFlow is the canonical two-rule chain: a high-priority rule
// appends " world" to a greeting, which satisfies the lower-priority
// rule's condition on the next propagation.
func greetingFlow(t *testing.T, fired *[]string) *Flow {
	t.Helper()
	f, err := NewFlow("greetings").
		Rule("Hello").
		Salience(10).
		When(Type[message]("m").
			Where(func(m *message) bool { return strings.Contains(m.Text, "hello") }).
			Where(func(m *message) bool { return !strings.Contains(m.Text, "world") })).
		Do(func(s *Session, m *Match) error {
			*fired = append(*fired, "Hello")
			id, _ := m.FactID("m")
			_, err := s.Mutate(id, func(v any) {
				v.(*message).Text += " world"
			})
			return err
		}).
		Rule("World").
		Salience(5).
		When(Type[message]("m").
			Where(func(m *message) bool { return strings.Contains(m.Text, "world") })).
		Do(func(s *Session, m *Match) error {
			*fired = append(*fired, "World")
			return nil
		}).
		Build()
	require.NoError(t, err)
	return f
}

func TestSession_HelloWorld(t *testing.T) {
	var order []string
	f := greetingFlow(t, &order)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "hello"})
	require.NoError(t, err)

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Hello", "World"}, order)

	v, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "hello world", v.(*message).Text)

	// Nothing left: firing consumes activations.
	n, err = s.MatchRules()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSession_AssertRejectsInvalidPayloads(t *testing.T) {
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(nil)
	assert.ErrorIs(t, err, ErrInvalidFact)

	_, err = s.Assert(message{Text: "not a pointer"})
	assert.ErrorIs(t, err, ErrInvalidFact)

	var nilMsg *message
	_, err = s.Assert(nilMsg)
	assert.ErrorIs(t, err, ErrInvalidFact)
}

func TestSession_RetractDeadIdentityIsNoOp(t *testing.T) {
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	ok, err := s.Retract(id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Retract(id)
	require.NoError(t, err)
	assert.False(t, ok, "stale retract reports false, not an error")

	ok, err = s.Modify(id, &message{Text: "y"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_NoDanglingActivations(t *testing.T) {
	f, err := NewFlow("f").
		Rule("r").When(Type[message]("m")).Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)
	require.Equal(t, 1, s.AgendaSize())

	ok, err := s.Retract(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.AgendaSize())

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Zero(t, n, "retraction before firing must reach the agenda")
}

func TestSession_JoinAndRetract(t *testing.T) {
	f, err := NewFlow("orders").
		Rule("order-owner").
		When(
			Type[customerFact]("c"),
			Type[orderFact]("o").Join(func(o *orderFact, m *Match) bool {
				c, ok := Bound[customerFact](m, "c")
				return ok && o.Customer == c.ID
			}),
		).
		Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&customerFact{ID: "c1", Name: "Ada"})
	require.NoError(t, err)
	_, err = s.Assert(&customerFact{ID: "c2", Name: "Grace"})
	require.NoError(t, err)
	oid, err := s.Assert(&orderFact{Customer: "c1", Total: 7})
	require.NoError(t, err)
	require.Equal(t, 1, s.AgendaSize())

	// Retracting the order kills the joined activation but leaves the
	// customer partial matches intact.
	ok, err := s.Retract(oid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.AgendaSize())

	// The surviving partial match for c2 still joins new facts.
	_, err = s.Assert(&orderFact{Customer: "c2", Total: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, s.AgendaSize())
}

func TestSession_JoinRetractFirstCondition(t *testing.T) {
	f, err := NewFlow("orders").
		Rule("order-owner").
		When(
			Type[customerFact]("c"),
			Type[orderFact]("o").Join(func(o *orderFact, m *Match) bool {
				c, ok := Bound[customerFact](m, "c")
				return ok && o.Customer == c.ID
			}),
		).
		Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	cid, err := s.Assert(&customerFact{ID: "c1"})
	require.NoError(t, err)
	_, err = s.Assert(&orderFact{Customer: "c1", Total: 1})
	require.NoError(t, err)
	_, err = s.Assert(&orderFact{Customer: "c1", Total: 2})
	require.NoError(t, err)
	require.Equal(t, 2, s.AgendaSize())

	// Removing the shared first-condition fact cascades through every
	// descendant match.
	ok, err := s.Retract(cid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.AgendaSize())
}

func TestSession_SameTypeSelfJoinDedup(t *testing.T) {
	f, err := NewFlow("pairs").
		Rule("ordered-pair").
		When(
			Type[thing]("a"),
			Type[thing]("b").Join(func(b *thing, m *Match) bool {
				a, ok := Bound[thing](m, "a")
				return ok && a.Name < b.Name
			}),
		).
		Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&thing{Name: "a"})
	require.NoError(t, err)
	bid, err := s.Assert(&thing{Name: "b"})
	require.NoError(t, err)

	// One fact can satisfy both conditions of the rule, but the (a,b)
	// tuple must activate exactly once.
	assert.Equal(t, 1, s.AgendaSize())

	ok, err := s.Retract(bid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.AgendaSize())
}

func TestSession_PriorityOrdering(t *testing.T) {
	var order []string
	record := func(name string) Action {
		return func(*Session, *Match) error {
			order = append(order, name)
			return nil
		}
	}
	f, err := NewFlow("f").
		Rule("low").Salience(5).When(Type[message]("m")).Do(record("low")).
		Rule("high").Salience(100).When(Type[message]("m")).Do(record("high")).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"high", "low"}, order, "higher salience fires first regardless of declaration order")
}

func TestSession_EqualPriorityTieBreak(t *testing.T) {
	var order []string
	f, err := NewFlow("f").
		Rule("r").
		When(Type[message]("m")).
		Do(func(s *Session, m *Match) error {
			v, _ := Bound[message](m, "m")
			order = append(order, v.Text)
			return nil
		}).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	for _, text := range []string{"first", "second", "third"} {
		_, err = s.Assert(&message{Text: text})
		require.NoError(t, err)
	}

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "third"}, order,
		"equal priority resolves by insertion sequence")
}

func TestSession_FireExactlyOncePerDerivation(t *testing.T) {
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.MatchRules()
	require.NoError(t, err)
	assert.Zero(t, n, "a fired match does not re-enter the agenda on its own")

	// A modify re-derives the match, which legitimately fires again.
	ok, err := s.Modify(id, &message{Text: "y"})
	require.NoError(t, err)
	require.True(t, ok)

	n, err = s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSession_ModifyPurgesStaleMatches(t *testing.T) {
	f, err := NewFlow("f").
		Rule("r").
		When(Type[message]("m").Where(func(m *message) bool { return m.Text == "match" })).
		Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "match"})
	require.NoError(t, err)
	require.Equal(t, 1, s.AgendaSize())

	ok, err := s.Modify(id, &message{Text: "other"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.AgendaSize(), "old match is purged before re-evaluation")

	ok, err = s.Modify(id, &message{Text: "match"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, s.AgendaSize())
}

func TestSession_ModifyCannotChangeTypeTag(t *testing.T) {
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	ok, err := s.Modify(id, &counter{N: 1})
	assert.ErrorIs(t, err, ErrTypeChanged)
	assert.False(t, ok)

	// The fact is untouched.
	v, found := s.Get(id)
	require.True(t, found)
	assert.Equal(t, "x", v.(*message).Text)
}

func TestSession_HaltStopsBetweenFirings(t *testing.T) {
	fired := 0
	f, err := NewFlow("f").
		Rule("r").
		When(Type[message]("m")).
		Do(func(s *Session, m *Match) error {
			fired++
			if fired == 1 {
				s.Halt()
				s.Halt() // idempotent before the next firing
			}
			return nil
		}).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	for i := 0; i < 3; i++ {
		_, err = s.Assert(&message{Text: "x"})
		require.NoError(t, err)
	}

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "halt takes effect between firings")
	assert.True(t, s.Halted())
	assert.Equal(t, 2, s.AgendaSize())

	// A fresh match call starts un-halted and drains the rest.
	n, err = s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, s.Halted())
}

func TestSession_MatchUntilHaltSelfTriggeringRule(t *testing.T) {
	f, err := NewFlow("count").
		Rule("increment").
		When(Type[counter]("c")).
		Do(func(s *Session, m *Match) error {
			c, _ := Bound[counter](m, "c")
			if _, err := s.Assert(&counter{N: c.N + 1}); err != nil {
				return err
			}
			if c.N+1 >= 5 {
				s.Halt()
			}
			return nil
		}).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&counter{N: 0})
	require.NoError(t, err)

	n, err := s.MatchUntilHalt()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, s.Halted())
	assert.Equal(t, 6, s.FactCount(), "counters 0 through 5")

	counters := FactsOf[counter](s)
	require.Len(t, counters, 6)
	assert.Equal(t, 5, counters[5].N)
}

func TestSession_MaxFiringsQuota(t *testing.T) {
	f, err := NewFlow("runaway").
		Rule("spin").
		When(Type[counter]("c")).
		Do(func(s *Session, m *Match) error {
			c, _ := Bound[counter](m, "c")
			_, err := s.Assert(&counter{N: c.N + 1})
			return err
		}).
		Build()
	require.NoError(t, err)
	s := f.Session(WithMaxFirings(10))
	defer s.Dispose()

	_, err = s.Assert(&counter{N: 0})
	require.NoError(t, err)

	n, err := s.MatchUntilHalt()
	require.Error(t, err)
	assert.True(t, IsFiringQuotaError(err))
	assert.Equal(t, 10, n)

	var qe *FiringQuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 10, qe.Limit)

	// The over-quota activation was requeued, not lost.
	assert.NotZero(t, s.AgendaSize())
}

func TestSession_AgendaGroupsAndFocus(t *testing.T) {
	var order []string
	record := func(name string) Action {
		return func(*Session, *Match) error {
			order = append(order, name)
			return nil
		}
	}
	f, err := NewFlow("f").
		Rule("plain").When(Type[message]("m")).Do(record("plain")).
		Rule("triage").AgendaGroup("triage").When(Type[message]("m")).Do(record("triage")).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	// Without focus the triage activation is parked.
	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"plain"}, order)
	assert.Equal(t, 1, s.AgendaSize())

	require.NoError(t, s.Focus("triage"))
	n, err = s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"plain", "triage"}, order)

	assert.ErrorIs(t, s.Focus("unknown"), ErrUnknownGroup)
}

func TestSession_AutoFocusFiresGroupFirst(t *testing.T) {
	var order []string
	record := func(name string) Action {
		return func(*Session, *Match) error {
			order = append(order, name)
			return nil
		}
	}
	f, err := NewFlow("f").
		Rule("plain").Salience(100).When(Type[message]("m")).Do(record("plain")).
		Rule("alert").AgendaGroup("alerts").AutoFocus().When(Type[message]("m")).Do(record("alert")).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"alert", "plain"}, order,
		"auto-focus outranks salience across groups")
}

func TestSession_PredicatePanicIsDiagnostic(t *testing.T) {
	f, err := NewFlow("f").
		Rule("r").
		When(Type[message]("m").Where(func(m *message) bool {
			if m.Text == "boom" {
				panic("bad predicate")
			}
			return true
		})).
		Do(noop).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "boom"})
	require.NoError(t, err)
	_, err = s.Assert(&message{Text: "fine"})
	require.NoError(t, err)

	// The panicking pairing is a non-match; the healthy fact still
	// activates.
	assert.Equal(t, 1, s.AgendaSize())

	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, StageCondition, diags[0].Stage)
	assert.Equal(t, "r", diags[0].Rule)
	assert.ErrorContains(t, diags[0].Err, "panicked")

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSession_ActionErrorDoesNotStopLoop(t *testing.T) {
	f, err := NewFlow("f").
		Rule("r").
		When(Type[message]("m")).
		Do(func(s *Session, m *Match) error {
			v, _ := Bound[message](m, "m")
			if v.Text == "fail" {
				return errors.New("downstream unavailable")
			}
			return nil
		}).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "fail"})
	require.NoError(t, err)
	_, err = s.Assert(&message{Text: "ok"})
	require.NoError(t, err)

	n, err := s.MatchRules()
	require.NoError(t, err, "a failed firing is tolerated, not raised")
	assert.Equal(t, 2, n)

	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, StageAction, diags[0].Stage)
	assert.ErrorContains(t, diags[0].Err, "downstream unavailable")
}

func TestSession_ActionRetractsPendingMatch(t *testing.T) {
	fired := []string{}
	f, err := NewFlow("f").
		Rule("consume").Salience(10).
		When(Type[message]("m")).
		Do(func(s *Session, m *Match) error {
			fired = append(fired, "consume")
			id, _ := m.FactID("m")
			_, err := s.Retract(id)
			return err
		}).
		Rule("echo").Salience(1).
		When(Type[message]("m")).
		Do(func(s *Session, m *Match) error {
			fired = append(fired, "echo")
			return nil
		}).
		Build()
	require.NoError(t, err)
	s := f.Session()
	defer s.Dispose()

	_, err = s.Assert(&message{Text: "x"})
	require.NoError(t, err)
	require.Equal(t, 2, s.AgendaSize())

	n, err := s.MatchRules()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the lower-salience activation died with its fact")
	assert.Equal(t, []string{"consume"}, fired)
	assert.Zero(t, s.FactCount())
}

func TestSession_DisposeIsIdempotentAndFinal(t *testing.T) {
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session()

	_, err = s.Assert(&message{Text: "x"})
	require.NoError(t, err)

	s.Dispose()
	s.Dispose()
	assert.True(t, s.Disposed())
	assert.Zero(t, s.FactCount())
	assert.Zero(t, s.AgendaSize())

	_, err = s.Assert(&message{Text: "y"})
	assert.ErrorIs(t, err, ErrSessionDisposed)
	_, err = s.Retract(1)
	assert.ErrorIs(t, err, ErrSessionDisposed)
	_, err = s.Modify(1, &message{})
	assert.ErrorIs(t, err, ErrSessionDisposed)
	_, err = s.MatchRules()
	assert.ErrorIs(t, err, ErrSessionDisposed)
	_, err = s.MatchUntilHalt()
	assert.ErrorIs(t, err, ErrSessionDisposed)
	assert.ErrorIs(t, s.Focus(DefaultAgendaGroup), ErrSessionDisposed)

	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.Nil(t, FactsOf[message](s))
}

func TestSession_IndependentSessionsRunConcurrently(t *testing.T) {
	f, err := NewFlow("f").
		Rule("r").
		When(Type[counter]("c").Where(func(c *counter) bool { return c.N >= 0 })).
		Do(noop).
		Build()
	require.NoError(t, err)

	const sessions = 8
	const facts = 50

	results := make([]int, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := f.Session()
			defer s.Dispose()
			for j := 0; j < facts; j++ {
				if _, err := s.Assert(&counter{N: j}); err != nil {
					return
				}
			}
			n, err := s.MatchRules()
			if err != nil {
				return
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	for i, n := range results {
		assert.Equalf(t, facts, n, "session %d", i)
	}
}

func TestSession_ObserverSeesOrderedEvents(t *testing.T) {
	var events []Event
	collect := ObserverFunc(func(e Event) { events = append(events, e) })

	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session(
		WithObserver(collect),
		WithTokenGenerator(NewFixedTokens("session-1")),
	)

	assert.Equal(t, "session-1", s.Token())

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)
	_, err = s.MatchRules()
	require.NoError(t, err)
	ok, err := s.Retract(id)
	require.NoError(t, err)
	require.True(t, ok)
	s.Dispose()

	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []EventKind{
		EventSessionOpened,
		EventAssert,
		EventActivation,
		EventFiring,
		EventRetract,
		EventDispose,
	}, kinds)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Seq, events[i-1].Seq, "event %d", i)
	}
}

func TestSession_ObserverSeesActivationRetraction(t *testing.T) {
	var kinds []EventKind
	f, err := NewFlow("f").Rule("r").When(Type[message]("m")).Do(noop).Build()
	require.NoError(t, err)
	s := f.Session(WithObserver(ObserverFunc(func(e Event) {
		kinds = append(kinds, e.Kind)
	})))
	defer s.Dispose()

	id, err := s.Assert(&message{Text: "x"})
	require.NoError(t, err)
	_, err = s.Retract(id)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{
		EventSessionOpened,
		EventAssert,
		EventActivation,
		EventRetract,
		EventActivationGC,
	}, kinds)
}
