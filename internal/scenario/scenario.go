package scenario

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Scenario is one declarative engine run: a flow, the working-memory
// steps to apply, and the assertions to check afterwards.
type Scenario struct {
	// Name uniquely identifies the scenario; it doubles as the golden
	// file name in the harness.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Flow names a registered demo flow.
	Flow string `yaml:"flow"`

	// SessionToken fixes the session token for deterministic traces.
	// Empty defaults to "scenario-" + Name.
	SessionToken string `yaml:"session_token,omitempty"`

	// MaxFirings, when positive, caps firings per match step.
	MaxFirings int `yaml:"max_firings,omitempty"`

	// Steps run in order against a fresh session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of its fields is set.
type Step struct {
	// Assert inserts a new fact built by the flow's fact factory.
	Assert *AssertStep `yaml:"assert,omitempty"`

	// Modify replaces the payload of a previously asserted fact.
	Modify *ModifyStep `yaml:"modify,omitempty"`

	// Retract removes a previously asserted fact by its ref.
	Retract string `yaml:"retract,omitempty"`

	// Focus pushes an agenda group onto the focus stack.
	Focus string `yaml:"focus,omitempty"`

	// Match drains the agenda: "rules" or "until_halt".
	Match string `yaml:"match,omitempty"`

	// Halt marks the session halted without draining the agenda.
	Halt bool `yaml:"halt,omitempty"`
}

// AssertStep inserts one fact.
type AssertStep struct {
	// Ref names the fact for later retract/modify steps and fact
	// assertions. Optional for facts never referenced again.
	Ref    string         `yaml:"ref,omitempty"`
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields"`
}

// ModifyStep replaces a referenced fact's payload.
type ModifyStep struct {
	Ref    string         `yaml:"ref"`
	Fields map[string]any `yaml:"fields"`
}

// Assertion validates one aspect of the run's outcome.
type Assertion struct {
	// Type selects the check: fired_count, firing_order, fact,
	// fact_count, agenda_size, halted.
	Type string `yaml:"type"`

	// Count is the expected value for fired_count/fact_count/agenda_size.
	Count int `yaml:"count,omitempty"`

	// Rules is the expected firing order for firing_order.
	Rules []string `yaml:"rules,omitempty"`

	// Ref and Fields select and subset-match a fact for fact assertions.
	Ref    string         `yaml:"ref,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	// Value is the expected flag for halted.
	Value bool `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertFiredCount  = "fired_count"
	AssertFiringOrder = "firing_order"
	AssertFact        = "fact"
	AssertFactCount   = "fact_count"
	AssertAgendaSize  = "agenda_size"
	AssertHalted      = "halted"
)

// Match step modes.
const (
	MatchRules     = "rules"
	MatchUntilHalt = "until_halt"
)

// Load reads, schema-validates, and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(path, data)
}

// Parse validates scenario YAML against the embedded CUE schema and
// decodes it. The filename is used for error positions only.
func Parse(filename string, data []byte) (*Scenario, error) {
	if err := validateSchema(filename, data); err != nil {
		return nil, err
	}

	// Strict decode catches fields the schema's open maps let through.
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateSteps(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}
	return &sc, nil
}

// validateSchema unifies the YAML document with #Scenario.
func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup #Scenario: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse scenario YAML: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build scenario value: %w", err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("scenario schema violation: %w", err)
	}
	return nil
}

// validateSteps enforces what the schema cannot: one form per step, and
// refs resolving to an earlier assert.
func validateSteps(sc *Scenario) error {
	refs := make(map[string]struct{})
	for i, st := range sc.Steps {
		forms := 0
		if st.Assert != nil {
			forms++
		}
		if st.Modify != nil {
			forms++
		}
		if st.Retract != "" {
			forms++
		}
		if st.Focus != "" {
			forms++
		}
		if st.Match != "" {
			forms++
		}
		if st.Halt {
			forms++
		}
		if forms != 1 {
			return fmt.Errorf("steps[%d]: exactly one of assert/modify/retract/focus/match/halt is required", i)
		}

		switch {
		case st.Assert != nil:
			if st.Assert.Ref != "" {
				if _, dup := refs[st.Assert.Ref]; dup {
					return fmt.Errorf("steps[%d]: duplicate ref %q", i, st.Assert.Ref)
				}
				refs[st.Assert.Ref] = struct{}{}
			}
		case st.Modify != nil:
			if _, ok := refs[st.Modify.Ref]; !ok {
				return fmt.Errorf("steps[%d]: modify references unknown ref %q", i, st.Modify.Ref)
			}
		case st.Retract != "":
			if _, ok := refs[st.Retract]; !ok {
				return fmt.Errorf("steps[%d]: retract references unknown ref %q", i, st.Retract)
			}
		}
	}

	for i, a := range sc.Assertions {
		if a.Type == AssertFact {
			if a.Ref == "" {
				return fmt.Errorf("assertions[%d]: ref is required for fact", i)
			}
			if _, ok := refs[a.Ref]; !ok {
				return fmt.Errorf("assertions[%d]: fact references unknown ref %q", i, a.Ref)
			}
			if len(a.Fields) == 0 {
				return fmt.Errorf("assertions[%d]: fields is required for fact", i)
			}
		}
		if a.Type == AssertFiringOrder && len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules is required for firing_order", i)
		}
	}
	return nil
}
