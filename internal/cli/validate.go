package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antler-rules/antler/internal/scenario"
)

// ValidationReport is the per-file outcome of validate.
type ValidationReport struct {
	Path     string `json:"path"`
	Scenario string `json:"scenario,omitempty"`
	Flow     string `json:"flow,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command: schema-check scenario
// files and resolve their flows and fact types without running anything.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			reports := make([]ValidationReport, 0, len(args))
			failed := 0
			for _, path := range args {
				r := validateFile(path)
				if !r.OK {
					failed++
				}
				reports = append(reports, r)
			}

			if opts.Format == "json" {
				if err := out.Success(reports); err != nil {
					return err
				}
			} else {
				var b strings.Builder
				for i, r := range reports {
					if i > 0 {
						b.WriteByte('\n')
					}
					if r.OK {
						fmt.Fprintf(&b, "%s: ok (scenario %q, flow %q)", r.Path, r.Scenario, r.Flow)
					} else {
						fmt.Fprintf(&b, "%s: %s", r.Path, r.Error)
					}
				}
				if err := out.Success(b.String()); err != nil {
					return err
				}
			}

			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario files invalid", failed, len(args)))
			}
			return nil
		},
	}
}

// validateFile checks one scenario file: schema, step shape, registered
// flow, and fact types the flow actually provides.
func validateFile(path string) ValidationReport {
	r := ValidationReport{Path: path}

	sc, err := scenario.Load(path)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Scenario = sc.Name
	r.Flow = sc.Flow

	spec, ok := scenario.Lookup(sc.Flow)
	if !ok {
		r.Error = fmt.Sprintf("unknown flow %q (have %v)", sc.Flow, scenario.Names())
		return r
	}
	for i, st := range sc.Steps {
		if st.Assert == nil {
			continue
		}
		if _, ok := spec.Facts[st.Assert.Type]; !ok {
			r.Error = fmt.Sprintf("steps[%d]: flow %q has no fact type %q", i, sc.Flow, st.Assert.Type)
			return r
		}
	}

	r.OK = true
	return r
}
