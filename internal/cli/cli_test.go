package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout, stderr, and the
// command error.
func execute(args ...string) (string, string, error) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRoot_RejectsInvalidFormat(t *testing.T) {
	_, _, err := execute("--format", "xml", "flows")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestFlows_TextOutput(t *testing.T) {
	out, _, err := execute("flows")
	require.NoError(t, err)
	assert.Contains(t, out, "greetings:")
	assert.Contains(t, out, "orders:")
	assert.Contains(t, out, "append-world")
	assert.Contains(t, out, "Customer, Order")
}

func TestFlows_JSONOutput(t *testing.T) {
	out, _, err := execute("--format", "json", "flows")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var infos []FlowInfo
	require.NoError(t, json.Unmarshal(raw, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "greetings", infos[0].Name)
	assert.Equal(t, []string{"append-world", "acknowledge"}, infos[0].Rules)
	assert.Equal(t, []string{"Customer", "Order"}, infos[1].FactTypes)
}

func TestRun_Scenario(t *testing.T) {
	out, _, err := execute("run", "testdata/hello-world.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "scenario hello-world: ok")
	assert.Contains(t, out, "fired:   2 (append-world -> acknowledge)")
}

func TestRun_JSONSummary(t *testing.T) {
	out, _, err := execute("--format", "json", "run", "testdata/hello-world.yaml")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summary RunSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "hello-world", summary.Scenario)
	assert.Equal(t, 2, summary.Fired)
	assert.Equal(t, []string{"append-world", "acknowledge"}, summary.FiringOrder)
}

func TestRun_FailingAssertionsExitCode(t *testing.T) {
	out, _, err := execute("run", "testdata/failing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "scenario assertions failed")
}

func TestRun_MissingFileExitCode(t *testing.T) {
	_, _, err := execute("run", "testdata/does-not-exist.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_RecordsTraceDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")

	_, _, err := execute("run", "testdata/hello-world.yaml", "--trace-db", db)
	require.NoError(t, err)

	out, _, err := execute("trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "sess-cli-hello")
	assert.Contains(t, out, "flow=greetings")

	out, _, err = execute("trace", "--db", db, "sess-cli-hello")
	require.NoError(t, err)
	assert.Contains(t, out, "kind=session_opened")
	assert.Contains(t, out, "kind=firing rule=append-world")
	assert.Contains(t, out, `payload={"text":"hello world"}`)
}

func TestTrace_MissingDatabase(t *testing.T) {
	_, _, err := execute("trace", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_UnknownSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	_, _, err := execute("run", "testdata/hello-world.yaml", "--trace-db", db)
	require.NoError(t, err)

	_, _, err = execute("trace", "--db", db, "ghost-session")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_ReportsPerFile(t *testing.T) {
	out, _, err := execute("validate", "testdata/hello-world.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, `testdata/hello-world.yaml: ok (scenario "hello-world", flow "greetings")`)

	out, _, err = execute("validate", "testdata/hello-world.yaml", "testdata/malformed.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "testdata/malformed.yaml: ")
	assert.Contains(t, err.Error(), "1 of 2 scenario files invalid")
}

func TestValidate_JSONOutput(t *testing.T) {
	out, _, err := execute("--format", "json", "validate", "testdata/hello-world.yaml")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}
