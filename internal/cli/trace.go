package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antler-rules/antler/internal/trace"
)

// NewTraceCommand creates the trace command: inspect a recorded trace
// database. With no session argument it lists sessions; with one it
// dumps that session's event log.
func NewTraceCommand(opts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trace [session-token]",
		Short: "Inspect a recorded trace database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			if _, err := os.Stat(dbPath); err != nil {
				out.Error(ErrCodeNotFound, fmt.Sprintf("trace database not found: %s", dbPath), nil)
				return WrapExitError(ExitCommandError, "trace database", err)
			}
			store, err := trace.Open(dbPath)
			if err != nil {
				out.Error(ErrCodeTraceStore, err.Error(), nil)
				return WrapExitError(ExitCommandError, "open trace store", err)
			}
			defer store.Close()

			if len(args) == 0 {
				return listSessions(cmd, out, store)
			}
			return dumpEvents(cmd, out, store, args[0])
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "trace.db", "path to the trace database")
	return cmd
}

func listSessions(cmd *cobra.Command, out *OutputFormatter, store *trace.Store) error {
	sessions, err := store.Sessions(cmd.Context())
	if err != nil {
		out.Error(ErrCodeTraceStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "list sessions", err)
	}

	if out.Format == "json" {
		return out.Success(sessions)
	}
	if len(sessions) == 0 {
		return out.Success("no recorded sessions")
	}
	var b strings.Builder
	for i, s := range sessions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  flow=%s  opened=%s", s.Token, s.Flow, s.OpenedAt)
	}
	return out.Success(b.String())
}

func dumpEvents(cmd *cobra.Command, out *OutputFormatter, store *trace.Store, session string) error {
	events, err := store.Events(cmd.Context(), session)
	if err != nil {
		out.Error(ErrCodeTraceStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read events", err)
	}
	if len(events) == 0 {
		out.Error(ErrCodeNotFound, fmt.Sprintf("no events recorded for session %q", session), nil)
		return NewExitError(ExitCommandError, "unknown session")
	}

	if out.Format == "json" {
		return out.Success(events)
	}
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "seq=%d kind=%s", e.Seq, e.Kind)
		if e.FactID != 0 {
			fmt.Fprintf(&b, " fact=%d", e.FactID)
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
		if e.Payload != "" {
			fmt.Fprintf(&b, " payload=%s", e.Payload)
		}
		if e.Err != "" {
			fmt.Fprintf(&b, " error=%q", e.Err)
		}
	}
	return out.Success(b.String())
}
