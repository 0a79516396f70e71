package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/lang"
	"github.com/roach88/storyflow/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database   string
	Where      string
	Unfinished bool
	Visits     string
}

// SessionView is the output form of a stored session.
type SessionView struct {
	ID            string `json:"id"`
	ProjectName   string `json:"project_name,omitempty"`
	FlowID        ir.ID  `json:"flow_id"`
	Seq           int64  `json:"seq"`
	EngineVersion string `json:"engine_version"`
	Status        string `json:"status,omitempty"`
	NodeID        ir.ID  `json:"node_id,omitempty"`
	StepCount     int    `json:"step_count"`
	ErrorCode     string `json:"error_code,omitempty"`
	Finished      bool   `json:"finished"`
}

// SessionsResult is the JSON payload of the sessions command.
type SessionsResult struct {
	Sessions []SessionView `json:"sessions,omitempty"`
	Visits   []NodeVisit   `json:"visits,omitempty"`
	Total    int           `json:"total"`
}

// NodeVisit counts the sessions that passed through a node.
type NodeVisit struct {
	NodeID   ir.ID `json:"node_id"`
	Sessions int   `json:"sessions"`
}

func sessionView(r store.SessionRow) SessionView {
	return SessionView{
		ID:            r.ID,
		ProjectName:   r.ProjectName,
		FlowID:        r.FlowID,
		Seq:           r.Seq,
		EngineVersion: r.EngineVersion,
		Status:        r.Status,
		NodeID:        r.NodeID,
		StepCount:     r.StepCount,
		ErrorCode:     r.ErrorCode,
		Finished:      r.Finished(),
	}
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and search recorded sessions",
		Long: `List the sessions recorded in a trace database, in the order they
were started.

--where takes condition text and keeps the finished sessions whose
final variables satisfy it, using the same semantics as a condition
node. --unfinished lists sessions that never recorded an outcome.
--visits counts, per node of a flow, how many sessions passed through.

Examples:
  storyflow sessions --db ./traces.db
  storyflow sessions --db ./traces.db --where 'mc.health <= 0'
  storyflow sessions --db ./traces.db --unfinished
  storyflow sessions --db ./traces.db --visits 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Where, "where", "", "condition the final variables must satisfy")
	cmd.Flags().BoolVar(&opts.Unfinished, "unfinished", false, "only sessions without a recorded outcome")
	cmd.Flags().StringVar(&opts.Visits, "visits", "", "count node visits in this flow instead of listing sessions")
	cmd.MarkFlagsMutuallyExclusive("where", "unfinished", "visits")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Visits != "" {
		visits, err := st.NodeVisits(ctx, ir.ID(opts.Visits))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count visits", err)
		}
		result := SessionsResult{Visits: []NodeVisit{}}
		for _, id := range ir.SortedKeys(visitKeys(visits)) {
			result.Visits = append(result.Visits, NodeVisit{NodeID: ir.ID(id), Sessions: visits[ir.ID(id)]})
		}
		result.Total = len(result.Visits)
		return outputSessions(cmd, opts, result)
	}

	var rows []store.SessionRow
	switch {
	case opts.Where != "":
		cond, err := lang.ParseCondition(opts.Where)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --where", err)
		}
		rows, err = st.FindSessions(ctx, cond)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to search sessions", err)
		}
	case opts.Unfinished:
		rows, err = st.FindUnfinishedSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	default:
		rows, err = st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := SessionsResult{Sessions: make([]SessionView, 0, len(rows)), Total: len(rows)}
	for _, r := range rows {
		result.Sessions = append(result.Sessions, sessionView(r))
	}
	return outputSessions(cmd, opts, result)
}

// visitKeys re-keys visit counts by string for ir.SortedKeys.
func visitKeys(visits map[ir.ID]int) map[string]int {
	out := make(map[string]int, len(visits))
	for id, n := range visits {
		out[string(id)] = n
	}
	return out
}

func outputSessions(cmd *cobra.Command, opts *SessionsOptions, result SessionsResult) error {
	return newFormatter(cmd, opts.RootOptions).Report("", result, nil, func(w io.Writer) {
		if opts.Visits != "" {
			writeVisits(w, opts.Visits, result.Visits)
			return
		}
		writeSessions(w, result)
	})
}

func writeVisits(w io.Writer, flow string, visits []NodeVisit) {
	if len(visits) == 0 {
		fmt.Fprintf(w, "No visits recorded in flow %s.\n", flow)
		return
	}
	fmt.Fprintf(w, "Node visits in flow %s:\n", flow)
	for _, v := range visits {
		fmt.Fprintf(w, "  %-12s %d session(s)\n", v.NodeID, v.Sessions)
	}
}

func writeSessions(w io.Writer, result SessionsResult) {
	if len(result.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	for _, s := range result.Sessions {
		if !s.Finished {
			fmt.Fprintf(w, "%s  flow %s  unfinished\n", s.ID, s.FlowID)
			continue
		}
		fmt.Fprintf(w, "%s  flow %s  %s at %s  %d step(s)", s.ID, s.FlowID, s.Status, s.NodeID, s.StepCount)
		if s.ErrorCode != "" {
			fmt.Fprintf(w, "  %s", s.ErrorCode)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d session(s)\n", result.Total)
}
