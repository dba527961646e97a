package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antler-rules/antler"
)

func TestRun_GreetingsScenario(t *testing.T) {
	sc, err := Parse("hello.yaml", []byte(validScenario))
	require.NoError(t, err)

	res, err := Run(sc)
	require.NoError(t, err)

	assert.Equal(t, "sess-hello", res.SessionToken)
	assert.Equal(t, 2, res.Fired)
	assert.Equal(t, []string{"append-world", "acknowledge"}, res.FiringOrder)
	assert.Equal(t, "hello world", res.Facts["m1"]["text"])
	assert.Equal(t, 1, res.FactCount)
	assert.Empty(t, res.Diagnostics)

	assert.NoError(t, Check(sc, res))
}

func TestRun_OrdersScenario(t *testing.T) {
	sc, err := Parse("orders.yaml", []byte(`
name: order-routing
description: small orders approve, large orders grab review focus
flow: orders
session_token: sess-orders
steps:
  - assert: {ref: c1, type: Customer, fields: {id: c1, name: Ada}}
  - assert: {ref: small, type: Order, fields: {customer: c1, total: 500}}
  - match: rules
  - assert: {ref: big, type: Order, fields: {customer: c1, total: 1500}}
  - match: rules
assertions:
  - type: fired_count
    count: 4
  - type: firing_order
    rules: [approve-small, order-owner, flag-large, order-owner]
  - type: fact
    ref: small
    fields: {approved: true}
  - type: fact
    ref: big
    fields: {approved: false}
  - type: agenda_size
    count: 0
`))
	require.NoError(t, err)

	res, err := Run(sc)
	require.NoError(t, err)
	require.NoError(t, Check(sc, res))
}

func TestRun_RetractAndModifySteps(t *testing.T) {
	sc, err := Parse("retract.yaml", []byte(`
name: retract-before-match
description: retraction kills the pending activation
flow: greetings
steps:
  - assert: {ref: m1, type: Message, fields: {text: hello}}
  - retract: m1
  - match: rules
  - assert: {ref: m2, type: Message, fields: {text: quiet}}
  - modify: {ref: m2, fields: {text: hello world}}
  - match: rules
assertions:
  - type: fired_count
    count: 1
  - type: firing_order
    rules: [acknowledge]
  - type: fact_count
    count: 1
`))
	require.NoError(t, err)

	res, err := Run(sc)
	require.NoError(t, err)
	require.NoError(t, Check(sc, res))

	assert.Nil(t, res.Facts["m1"], "retracted ref snapshots as nil")
	assert.Equal(t, "hello world", res.Facts["m2"]["text"])
}

func TestRun_HaltStep(t *testing.T) {
	sc, err := Parse("halt.yaml", []byte(`
name: explicit-halt
description: a halt step marks the session halted without draining the agenda
flow: greetings
steps:
  - assert: {type: Message, fields: {text: hello}}
  - halt: true
assertions:
  - type: halted
    value: true
  - type: agenda_size
    count: 1
  - type: fired_count
    count: 0
`))
	require.NoError(t, err)

	res, err := Run(sc)
	require.NoError(t, err)
	require.NoError(t, Check(sc, res))
}

func TestRun_QuotaSurfacesInResult(t *testing.T) {
	sc, err := Parse("quota.yaml", []byte(`
name: quota-cutoff
description: a capped match step stops after one firing
flow: greetings
max_firings: 1
steps:
  - assert: {type: Message, fields: {text: hello}}
  - match: rules
assertions:
  - type: fired_count
    count: 1
  - type: agenda_size
    count: 1
`))
	require.NoError(t, err)

	res, err := Run(sc)
	require.NoError(t, err, "quota is an outcome, not a run failure")
	require.Error(t, res.MatchErr)
	assert.True(t, antler.IsFiringQuotaError(res.MatchErr))
	require.NoError(t, Check(sc, res))
}

func TestRun_UnknownFlowAndFactType(t *testing.T) {
	sc := &Scenario{
		Name: "x", Description: "d", Flow: "missing",
		Steps: []Step{{Match: MatchRules}},
	}
	_, err := Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown flow "missing"`)

	sc = &Scenario{
		Name: "y", Description: "d", Flow: "greetings",
		Steps: []Step{{Assert: &AssertStep{Type: "Widget", Fields: map[string]any{}}}},
	}
	_, err = Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown fact type "Widget"`)
}

func TestCheck_ReportsEveryFailure(t *testing.T) {
	sc := &Scenario{
		Assertions: []Assertion{
			{Type: AssertFiredCount, Count: 3},
			{Type: AssertHalted, Value: true},
		},
	}
	res := &Result{Fired: 1, Halted: false}

	err := Check(sc, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fired 1 activations, want 3")
	assert.Contains(t, err.Error(), "halted=false, want true")
}
