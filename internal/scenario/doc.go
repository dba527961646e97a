// Package scenario runs declarative rule-engine scenarios.
//
// A scenario is a YAML file naming a registered demo flow, a sequence of
// working-memory steps (assert, modify, retract, focus, match), and
// assertions over the outcome. Scenario files are validated against an
// embedded CUE schema before execution, so typos fail with a schema
// position instead of a silent zero value.
//
// The package also hosts the demo flow registry: the rule sets the CLI
// and the golden-trace harness run against.
package scenario
