package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/antler-rules/antler"
)

// Result is the observable outcome of a scenario run, captured before
// the session is disposed.
type Result struct {
	SessionToken string
	Fired        int
	FiringOrder  []string
	Halted       bool
	AgendaSize   int
	FactCount    int

	// MatchErr holds a firing-quota error from a match step. It is part
	// of the outcome, not a run failure: quota scenarios assert on it.
	MatchErr error

	// Facts maps scenario refs to their final payloads; a retracted ref
	// maps to nil.
	Facts map[string]map[string]any

	Events      []antler.Event
	Diagnostics []antler.Diagnostic
}

// Run executes a scenario against its registered flow. Extra observers
// (trace recorders) receive every session event alongside the run's own
// collector. Structural problems (unknown flow, unknown fact type, a
// step failing) are errors; rule-level outcomes land in the Result for
// the assertions to judge.
func Run(sc *Scenario, observers ...antler.Observer) (*Result, error) {
	spec, ok := Lookup(sc.Flow)
	if !ok {
		return nil, fmt.Errorf("unknown flow %q (have %v)", sc.Flow, Names())
	}
	flow, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("build flow %q: %w", sc.Flow, err)
	}

	token := sc.SessionToken
	if token == "" {
		token = "scenario-" + sc.Name
	}

	res := &Result{SessionToken: token, Facts: make(map[string]map[string]any)}
	opts := []antler.SessionOption{
		antler.WithTokenGenerator(antler.NewFixedTokens(token)),
		antler.WithObserver(antler.ObserverFunc(func(e antler.Event) {
			// Payloads are live pointers a later Mutate may rewrite;
			// snapshot the fields at emit time.
			if e.Payload != nil {
				if fields, err := payloadFields(e.Payload); err == nil {
					e.Payload = fields
				}
			}
			res.Events = append(res.Events, e)
			if e.Kind == antler.EventFiring {
				res.FiringOrder = append(res.FiringOrder, e.Rule)
			}
			for _, o := range observers {
				o.OnEvent(e)
			}
		})),
	}
	if sc.MaxFirings > 0 {
		opts = append(opts, antler.WithMaxFirings(sc.MaxFirings))
	}

	s := flow.Session(opts...)
	defer s.Dispose()

	refs := make(map[string]antler.FactID)
	for i, st := range sc.Steps {
		if err := runStep(s, spec, st, refs); err != nil {
			if antler.IsFiringQuotaError(err) {
				res.MatchErr = err
				continue
			}
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	// Snapshot the outcome before disposal.
	res.Fired = len(res.FiringOrder)
	res.Halted = s.Halted()
	res.AgendaSize = s.AgendaSize()
	res.FactCount = s.FactCount()
	res.Diagnostics = s.Diagnostics()
	for ref, id := range refs {
		v, live := s.Get(id)
		if !live {
			res.Facts[ref] = nil
			continue
		}
		fields, err := payloadFields(v)
		if err != nil {
			return nil, fmt.Errorf("snapshot ref %q: %w", ref, err)
		}
		res.Facts[ref] = fields
	}

	slog.Debug("scenario run complete",
		"scenario", sc.Name,
		"flow", sc.Flow,
		"fired", res.Fired,
	)
	return res, nil
}

func runStep(s *antler.Session, spec FlowSpec, st Step, refs map[string]antler.FactID) error {
	switch {
	case st.Assert != nil:
		factory, ok := spec.Facts[st.Assert.Type]
		if !ok {
			return fmt.Errorf("unknown fact type %q", st.Assert.Type)
		}
		value, err := factory(st.Assert.Fields)
		if err != nil {
			return fmt.Errorf("fact %q: %w", st.Assert.Type, err)
		}
		id, err := s.Assert(value)
		if err != nil {
			return err
		}
		if st.Assert.Ref != "" {
			refs[st.Assert.Ref] = id
		}
		return nil

	case st.Modify != nil:
		id := refs[st.Modify.Ref]
		current, live := s.Get(id)
		if !live {
			return fmt.Errorf("modify %q: fact already retracted", st.Modify.Ref)
		}
		replacement, err := mergedPayload(current, st.Modify.Fields)
		if err != nil {
			return fmt.Errorf("modify %q: %w", st.Modify.Ref, err)
		}
		if _, err := s.Modify(id, replacement); err != nil {
			return fmt.Errorf("modify %q: %w", st.Modify.Ref, err)
		}
		return nil

	case st.Retract != "":
		_, err := s.Retract(refs[st.Retract])
		return err

	case st.Focus != "":
		return s.Focus(st.Focus)

	case st.Halt:
		s.Halt()
		return nil

	case st.Match == MatchUntilHalt:
		_, err := s.MatchUntilHalt()
		return err

	default: // MatchRules; the loader guarantees a valid step form
		_, err := s.MatchRules()
		return err
	}
}

// Check evaluates a scenario's assertions against a run result. All
// failures are reported, not just the first.
func Check(sc *Scenario, res *Result) error {
	var errs []error
	for i, a := range sc.Assertions {
		if err := checkOne(a, res); err != nil {
			errs = append(errs, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
	return errors.Join(errs...)
}

func checkOne(a Assertion, res *Result) error {
	switch a.Type {
	case AssertFiredCount:
		if res.Fired != a.Count {
			return fmt.Errorf("fired %d activations, want %d", res.Fired, a.Count)
		}
	case AssertFiringOrder:
		if len(res.FiringOrder) != len(a.Rules) {
			return fmt.Errorf("fired %v, want %v", res.FiringOrder, a.Rules)
		}
		for i := range a.Rules {
			if res.FiringOrder[i] != a.Rules[i] {
				return fmt.Errorf("fired %v, want %v", res.FiringOrder, a.Rules)
			}
		}
	case AssertFactCount:
		if res.FactCount != a.Count {
			return fmt.Errorf("%d live facts, want %d", res.FactCount, a.Count)
		}
	case AssertAgendaSize:
		if res.AgendaSize != a.Count {
			return fmt.Errorf("agenda size %d, want %d", res.AgendaSize, a.Count)
		}
	case AssertHalted:
		if res.Halted != a.Value {
			return fmt.Errorf("halted=%v, want %v", res.Halted, a.Value)
		}
	case AssertFact:
		fields, ok := res.Facts[a.Ref]
		if !ok {
			return fmt.Errorf("ref %q was never asserted", a.Ref)
		}
		if fields == nil {
			return fmt.Errorf("ref %q was retracted", a.Ref)
		}
		for key, want := range a.Fields {
			got, present := fields[key]
			if !present {
				return fmt.Errorf("ref %q has no field %q", a.Ref, key)
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return fmt.Errorf("ref %q field %q = %v, want %v", a.Ref, key, got, want)
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// payloadFields renders a fact payload as a field map, preserving
// integer formatting via json.Number.
func payloadFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// mergedPayload builds a replacement payload for Modify: the current
// payload's fields overlaid with the step's, decoded back through the
// fact's JSON shape so the result is the same concrete type.
func mergedPayload(current any, overlay map[string]any) (any, error) {
	fields, err := payloadFields(current)
	if err != nil {
		return nil, err
	}
	for k, v := range overlay {
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	replacement := reflect.New(reflect.TypeOf(current).Elem()).Interface()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(replacement); err != nil {
		return nil, err
	}
	return replacement, nil
}
