package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antler-rules/antler/internal/scenario"
)

// FlowInfo describes one registered demo flow.
type FlowInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rules       []string `json:"rules"`
	FactTypes   []string `json:"fact_types"`
}

// NewFlowsCommand creates the flows command: list the registered demo
// flows scenarios can run against.
func NewFlowsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List registered demo flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			infos := make([]FlowInfo, 0, len(scenario.Names()))
			for _, name := range scenario.Names() {
				spec, _ := scenario.Lookup(name)
				flow, err := spec.Build()
				if err != nil {
					out.Error(ErrCodeGeneric, err.Error(), nil)
					return WrapExitError(ExitCommandError, "build flow "+name, err)
				}
				facts := make([]string, 0, len(spec.Facts))
				for ft := range spec.Facts {
					facts = append(facts, ft)
				}
				sort.Strings(facts)
				infos = append(infos, FlowInfo{
					Name:        name,
					Description: spec.Description,
					Rules:       flow.RuleNames(),
					FactTypes:   facts,
				})
			}

			if opts.Format == "json" {
				return out.Success(infos)
			}

			var b strings.Builder
			for i, fi := range infos {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%s: %s\n", fi.Name, fi.Description)
				fmt.Fprintf(&b, "  rules: %s\n", strings.Join(fi.Rules, ", "))
				fmt.Fprintf(&b, "  facts: %s", strings.Join(fi.FactTypes, ", "))
			}
			return out.Success(b.String())
		},
	}
}
