package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Flow     string // optional - filter to steps taken in one flow
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session SessionView        `json:"session"`
	Steps   []ir.StepRecord    `json:"steps"`
	Outcome *ir.SessionOutcome `json:"outcome,omitempty"`
	Stats   TraceStats         `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalSteps int  `json:"total_steps"`
	Choices    int  `json:"choices"`
	Flows      int  `json:"flows"`
	IsFinished bool `json:"is_finished"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <session-id>",
		Short: "Show the recorded steps of a session",
		Long: `Show everything recorded for one session: its start record, every
step in seq order with the node, outcome and chosen response, and, once
the session has ended, its final variables and console.

Examples:
  storyflow trace --db ./traces.db 0190a6f2-7c1e-7b3a-9a51-3f0e2d9b8c41
  storyflow trace --db ./traces.db --flow 2 <session-id>
  storyflow trace --db ./traces.db --format json <session-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only show steps taken in this flow")

	return cmd
}

// openExistingStore opens a trace database that must already exist.
func openExistingStore(path string) (*store.Store, error) {
	st, err := store.OpenExisting(path)
	if errors.Is(err, store.ErrNoDatabase) {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTrace(opts *TraceOptions, sessionID string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	trace, err := st.ReadTrace(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session %s not found", sessionID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	result := TraceResult{
		Session: sessionView(trace.Session),
		Steps:   filterSteps(trace.Steps, ir.ID(opts.Flow)),
		Stats:   traceStats(trace.Steps),
	}
	result.Stats.IsFinished = trace.Session.Finished()

	if trace.Session.Finished() {
		outcome, err := st.ReadOutcome(ctx, sessionID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read outcome", err)
		}
		result.Outcome = &outcome
	}

	f := newFormatter(cmd, opts.RootOptions)
	return f.Report(sessionID, result, nil, func(io.Writer) {
		writeTrace(f, result)
	})
}

// filterSteps keeps the steps taken in flow. An empty flow keeps all.
func filterSteps(steps []ir.StepRecord, flow ir.ID) []ir.StepRecord {
	out := []ir.StepRecord{}
	for _, s := range steps {
		if flow.IsZero() || s.FlowID == flow {
			out = append(out, s)
		}
	}
	return out
}

func traceStats(steps []ir.StepRecord) TraceStats {
	flows := map[ir.ID]bool{}
	stats := TraceStats{TotalSteps: len(steps)}
	for _, s := range steps {
		flows[s.FlowID] = true
		if !s.ResponseID.IsZero() {
			stats.Choices++
		}
	}
	stats.Flows = len(flows)
	return stats
}

func writeTrace(f *OutputFormatter, result TraceResult) {
	w := f.Writer
	sess := result.Session

	fmt.Fprintf(w, "Session: %s\n", sess.ID)
	if sess.ProjectName != "" {
		fmt.Fprintf(w, "Project: %s\n", sess.ProjectName)
	}
	fmt.Fprintf(w, "Started: flow %s (seq %d)\n", sess.FlowID, sess.Seq)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Steps:")
	if len(result.Steps) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range result.Steps {
		fmt.Fprintf(w, "  [%d] step %d %s/%s %s -> %s", s.Seq, s.Step, s.FlowID, s.NodeID, s.NodeType, s.Outcome)
		if !s.ResponseID.IsZero() {
			fmt.Fprintf(w, " (chose %s)", s.ResponseID)
		}
		fmt.Fprintln(w)
		if f.Verbose {
			fmt.Fprintf(w, "      variables %s\n", s.VariablesDigest)
		}
	}
	fmt.Fprintln(w)

	if out := result.Outcome; out != nil {
		fmt.Fprintf(w, "Outcome: %s at %s after %d step(s)\n", out.Status, out.NodeID, out.StepCount)
		if out.ErrorCode != "" {
			fmt.Fprintf(w, "  error: %s\n", out.ErrorCode)
		}
		f.Variables(out.Variables)
		if f.Verbose {
			lines := make([]engine.LogEntry, 0, len(out.Console))
			for _, line := range out.Console {
				lines = append(lines, engine.LogEntry{
					Step:    line.Step,
					NodeID:  line.NodeID,
					Level:   engine.LogLevel(line.Level),
					Message: line.Message,
				})
			}
			f.Console(lines)
		}
	} else {
		fmt.Fprintln(w, "Outcome: (session has not ended)")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Stats: %d step(s), %d choice(s), %d flow(s)\n",
		result.Stats.TotalSteps, result.Stats.Choices, result.Stats.Flows)
}
