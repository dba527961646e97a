package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/antler-rules/antler/internal/scenario"
)

// AssertScenario loads a scenario file, runs it, requires its own
// assertions to pass, and compares the normalized trace against the
// golden file testdata/golden/{scenario.Name}.golden.
func AssertScenario(t *testing.T, path string) {
	t.Helper()

	sc, err := scenario.Load(path)
	require.NoError(t, err)

	res, err := scenario.Run(sc)
	require.NoError(t, err)
	require.NoError(t, scenario.Check(sc, res))

	snap, err := Snapshot(sc, res)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, snap)
}
