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

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
	MaxSteps int
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID     string             `json:"session_id"`
	FlowID        ir.ID              `json:"flow_id"`
	Steps         int                `json:"steps"`
	Choices       int                `json:"choices"`
	Deterministic bool               `json:"deterministic"`
	Divergence    *engine.Divergence `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <project>",
		Short: "Replay recorded sessions and verify determinism",
		Long: `Re-run recorded sessions against a project, feeding each one the
responses it chose, and compare the replayed steps with the recorded
ones: node, outcome and variables digest, record for record.

A divergence means the project or the engine changed since the session
was played. Sessions played with --set overrides start from different
variables and are expected to diverge.

Exit codes:
  0 - Every replayed session matched its recording
  1 - At least one session diverged
  2 - Command error (database not found, invalid project, etc.)

Examples:
  storyflow replay --db ./traces.db ./story.yaml
  storyflow replay --db ./traces.db --session <session-id> ./story.yaml
  storyflow replay --db ./traces.db --format json ./story.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "steps allowed between stops")

	return cmd
}

func runReplay(opts *ReplayOptions, projectPath string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd)
	ctx := cmd.Context()

	project, err := loadValidProject(ctx, projectPath)
	if err != nil {
		return err
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// Get sessions to process
	var ids []string
	if opts.Session != "" {
		ids = []string{opts.Session}
	} else {
		rows, err := st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
	}

	if len(ids) == 0 {
		empty := ReplayResult{Sessions: []ReplaySessionResult{}, AllDeterministic: true}
		return newFormatter(cmd, opts.RootOptions).Report("", empty, nil, func(w io.Writer) {
			fmt.Fprintln(w, "No sessions found in database.")
		})
	}

	eng := engine.New(engine.WithMaxSteps(opts.MaxSteps), engine.WithLogger(logger))
	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(ids)),
		TotalSessions:    len(ids),
		AllDeterministic: true,
	}

	for _, id := range ids {
		trace, err := st.ReadTrace(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("session %s not found", id))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read session %s", id), err)
		}

		sessionResult, err := replaySession(cmd, eng, project, trace)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", id), err)
		}
		logger.Debug("replayed session", "session_id", id, "deterministic", sessionResult.Deterministic)

		result.Sessions = append(result.Sessions, sessionResult)
		if !sessionResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	var failure *CLIError
	if !result.AllDeterministic {
		failure = &CLIError{Code: "E_DETERMINISM", Message: "determinism verification failed"}
	}
	f := newFormatter(cmd, opts.RootOptions)
	return f.Report("", result, failure, func(io.Writer) {
		writeReplay(f, result)
	})
}

// replaySession re-runs one recorded session from the project's declared
// variable defaults.
func replaySession(cmd *cobra.Command, eng *engine.Engine, project *ir.Project, trace store.SessionTrace) (ReplaySessionResult, error) {
	replayed, err := engine.Replay(cmd.Context(), eng, project, trace.Session.FlowID,
		engine.NewVariables(project.Sheets), trace.Steps)
	if err != nil {
		return ReplaySessionResult{}, err
	}

	choices := 0
	for _, s := range trace.Steps {
		if !s.ResponseID.IsZero() {
			choices++
		}
	}
	return ReplaySessionResult{
		SessionID:     trace.Session.ID,
		FlowID:        trace.Session.FlowID,
		Steps:         len(trace.Steps),
		Choices:       choices,
		Deterministic: replayed.Diverged == nil,
		Divergence:    replayed.Diverged,
	}, nil
}

func writeReplay(f *OutputFormatter, result ReplayResult) {
	w := f.Writer
	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, sess := range result.Sessions {
		f.Check(sess.Deterministic, "Session: %s", sess.SessionID)
		if f.Verbose {
			fmt.Fprintf(w, "  Flow: %s\n", sess.FlowID)
			fmt.Fprintf(w, "  Steps: %d\n", sess.Steps)
			fmt.Fprintf(w, "  Choices: %d\n", sess.Choices)
		} else {
			fmt.Fprintf(w, "  Steps: %d, %d choice(s)\n", sess.Steps, sess.Choices)
		}
		if sess.Divergence != nil {
			fmt.Fprintf(w, "  Diverged at %s\n", sess.Divergence)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		f.Check(true, "All sessions replayed identically")
	} else {
		f.Check(false, "Determinism verification failed")
	}
}
