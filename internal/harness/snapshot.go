package harness

import (
	"fmt"
	"strings"

	"github.com/antler-rules/antler"
	"github.com/antler-rules/antler/internal/scenario"
	"github.com/antler-rules/antler/internal/trace"
)

// Snapshot renders a scenario result as a line-oriented trace with
// normalized fact identities. The output is byte-stable across runs of
// the same scenario.
func Snapshot(sc *scenario.Scenario, res *scenario.Result) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", sc.Name)
	fmt.Fprintf(&b, "session: %s\n", res.SessionToken)
	fmt.Fprintf(&b, "fired: %d\n\n", res.Fired)

	ids := make(map[antler.FactID]string)
	for _, e := range res.Events {
		line, err := formatEvent(e, ids)
		if err != nil {
			return nil, fmt.Errorf("event seq=%d: %w", e.Seq, err)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func formatEvent(e antler.Event, ids map[antler.FactID]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%d kind=%s", e.Seq, e.Kind)

	if e.FactID != 0 {
		name, ok := ids[e.FactID]
		if !ok {
			name = fmt.Sprintf("f%d", len(ids)+1)
			ids[e.FactID] = name
		}
		fmt.Fprintf(&b, " fact=%s", name)
	}
	if e.TypeTag != "" {
		fmt.Fprintf(&b, " type=%s", e.TypeTag)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, " rule=%s", e.Rule)
	}
	if e.Group != "" {
		fmt.Fprintf(&b, " group=%s", e.Group)
	}
	if e.Payload != nil {
		canon, err := trace.MarshalCanonical(e.Payload)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " payload=%s", canon)
	}
	if e.Err != "" {
		fmt.Fprintf(&b, " error=%q", e.Err)
	}
	return b.String(), nil
}
