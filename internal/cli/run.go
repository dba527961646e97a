package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antler-rules/antler"
	"github.com/antler-rules/antler/internal/scenario"
	"github.com/antler-rules/antler/internal/trace"
)

// RunSummary is the machine-readable outcome of a scenario run.
type RunSummary struct {
	Scenario    string   `json:"scenario"`
	Flow        string   `json:"flow"`
	Session     string   `json:"session"`
	Fired       int      `json:"fired"`
	FiringOrder []string `json:"firing_order"`
	Halted      bool     `json:"halted"`
	FactCount   int      `json:"fact_count"`
	AgendaSize  int      `json:"agenda_size"`
	Diagnostics int      `json:"diagnostics"`
	QuotaError  string   `json:"quota_error,omitempty"`
}

// NewRunCommand creates the run command: execute a scenario file and
// check its assertions.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	var traceDB string

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and check its assertions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			sc, err := scenario.Load(args[0])
			if err != nil {
				out.Error(ErrCodeLoadFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "load scenario", err)
			}
			out.VerboseLog("loaded scenario %q (flow %q, %d steps)", sc.Name, sc.Flow, len(sc.Steps))

			var observers []antler.Observer
			if traceDB != "" {
				store, err := trace.Open(traceDB)
				if err != nil {
					out.Error(ErrCodeTraceStore, err.Error(), nil)
					return WrapExitError(ExitCommandError, "open trace store", err)
				}
				defer store.Close()

				token := sc.SessionToken
				if token == "" {
					token = "scenario-" + sc.Name
				}
				rec, err := store.NewRecorder(cmd.Context(), token, sc.Flow)
				if err != nil {
					out.Error(ErrCodeTraceStore, err.Error(), nil)
					return WrapExitError(ExitCommandError, "create trace recorder", err)
				}
				defer func() {
					if rerr := rec.Err(); rerr != nil {
						out.VerboseLog("trace recording truncated: %v", rerr)
					}
				}()
				observers = append(observers, rec)
			}

			res, err := scenario.Run(sc, observers...)
			if err != nil {
				out.Error(ErrCodeRunFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "run scenario", err)
			}

			summary := summarize(sc, res)
			if err := scenario.Check(sc, res); err != nil {
				out.Error(ErrCodeAssertions, "scenario assertions failed", err.Error())
				return WrapExitError(ExitFailure, "assertions failed", err)
			}

			if opts.Format == "json" {
				return out.Success(summary)
			}
			return out.Success(formatSummary(summary))
		},
	}

	cmd.Flags().StringVar(&traceDB, "trace-db", "", "record the session's event log to this SQLite database")
	return cmd
}

func summarize(sc *scenario.Scenario, res *scenario.Result) RunSummary {
	s := RunSummary{
		Scenario:    sc.Name,
		Flow:        sc.Flow,
		Session:     res.SessionToken,
		Fired:       res.Fired,
		FiringOrder: res.FiringOrder,
		Halted:      res.Halted,
		FactCount:   res.FactCount,
		AgendaSize:  res.AgendaSize,
		Diagnostics: len(res.Diagnostics),
	}
	if res.MatchErr != nil {
		s.QuotaError = res.MatchErr.Error()
	}
	return s
}

func formatSummary(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s: ok\n", s.Scenario)
	fmt.Fprintf(&b, "  flow:    %s\n", s.Flow)
	fmt.Fprintf(&b, "  session: %s\n", s.Session)
	fmt.Fprintf(&b, "  fired:   %d (%s)\n", s.Fired, strings.Join(s.FiringOrder, " -> "))
	fmt.Fprintf(&b, "  facts:   %d live, agenda %d, halted %v", s.FactCount, s.AgendaSize, s.Halted)
	if s.QuotaError != "" {
		fmt.Fprintf(&b, "\n  quota:   %s", s.QuotaError)
	}
	if s.Diagnostics > 0 {
		fmt.Fprintf(&b, "\n  diags:   %d", s.Diagnostics)
	}
	return b.String()
}
