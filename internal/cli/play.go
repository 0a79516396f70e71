package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Flow     string
	Choices  []string
	Set      []string
	Database string
	MaxSteps int

	// IDGenerator allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// PlayResult is where a play run stopped.
type PlayResult struct {
	SessionID string                 `json:"session_id"`
	Status    string                 `json:"status"`
	FlowID    ir.ID                  `json:"flow_id"`
	NodeID    ir.ID                  `json:"node_id"`
	StepCount int                    `json:"step_count"`
	ErrorCode string                 `json:"error_code,omitempty"`
	Pending   *engine.PendingChoices `json:"pending,omitempty"`
	Path      []ir.ID                `json:"path"`
	Variables map[string]ir.Value    `json:"variables"`
	Console   []engine.LogEntry      `json:"console"`
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	return newPlayCommand(&PlayOptions{RootOptions: rootOpts})
}

func newPlayCommand(opts *PlayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <project>",
		Short: "Play a flow until it needs a choice or ends",
		Long: `Start a session at the entry of a flow and run it until a dialogue
offers more than one response, the story ends, or an error stops it.
Each --choose picks a response at the pending dialogue, in order, and
the session runs on to the next stop.

Variables can be overridden before the first step with --set; values
are parsed as YAML scalars, so 3 is a number, true a boolean and
anything unquoted otherwise text.

With --db every step is recorded to a SQLite trace database for the
trace, sessions and replay commands.

Exit codes:
  0 - The session is waiting for a choice or finished
  1 - The session stopped with an error, or a choice was not available
  2 - Command error (invalid project, unknown flow, bad --set)

Examples:
  storyflow play ./story.yaml
  storyflow play ./story.yaml --flow 2 --choose fight --choose pay
  storyflow play ./story.yaml --set mc.health=2 --db ./traces.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "flow id to start in (default: first flow)")
	cmd.Flags().StringArrayVarP(&opts.Choices, "choose", "c", nil, "response id to pick at the next dialogue (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "variable override as sheet.variable=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the session to this SQLite database")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "steps allowed between stops")

	return cmd
}

func runPlay(opts *PlayOptions, projectPath string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd)
	ctx := cmd.Context()

	project, err := loadValidProject(ctx, projectPath)
	if err != nil {
		return err
	}

	flowID, err := startFlow(project, opts.Flow)
	if err != nil {
		return err
	}

	overrides, err := parseOverrides(opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --set", err)
	}

	generator := opts.IDGenerator
	if generator == nil {
		generator = engine.UUIDv7Generator{}
	}
	sessOpts := []engine.SessionOption{
		engine.WithIDGenerator(generator),
		engine.WithProjectName(project.Name),
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		lastSeq, err := st.GetLastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read database", err)
		}
		sessOpts = append(sessOpts, engine.WithRecorder(st, engine.NewClockAt(lastSeq)))
	}

	eng := engine.New(engine.WithMaxSteps(opts.MaxSteps), engine.WithLogger(logger))
	sess, err := engine.NewSession(ctx, eng, project, flowID, engine.NewVariables(project.Sheets), sessOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start session", err)
	}

	for _, o := range overrides {
		if err := sess.SetVariable(o.ref, o.value); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --set %s", o.ref), err)
		}
	}

	if _, err := sess.Settle(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to record session", err)
	}

	var failure *CLIError
	for i, choice := range opts.Choices {
		if _, err := sess.Choose(ctx, ir.ID(choice)); err != nil {
			failure = &CLIError{Code: "E_CHOICE", Message: fmt.Sprintf("choice %d (%s): %v", i+1, choice, err)}
			var ee *engine.EvaluationError
			if errors.As(err, &ee) {
				failure.Code = string(ee.Code)
			}
			break
		}
	}

	result := playResult(sess)
	if failure == nil && sess.State().Error != nil {
		failure = &CLIError{Code: result.ErrorCode, Message: sess.State().Error.Message}
	}

	f := newFormatter(cmd, opts.RootOptions)
	return f.Report(result.SessionID, result, failure, func(w io.Writer) {
		fmt.Fprintf(w, "Session %s\n", result.SessionID)
		f.Console(result.Console)
		fmt.Fprintln(w)
		f.Pending(result.Pending)
		fmt.Fprintf(w, "%s at %s (flow %s, %d step(s))\n", result.Status, result.NodeID, result.FlowID, result.StepCount)
		if failure != nil {
			f.Check(false, "%s: %s", failure.Code, failure.Message)
		}
	})
}

// loadValidProject loads a project and rejects it when validation finds
// errors.
func loadValidProject(ctx context.Context, path string) (*ir.Project, error) {
	project, err := compiler.LoadProject(ctx, path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load project", err)
	}
	for _, e := range compiler.Validate(project) {
		if e.Severity == compiler.SeverityError {
			return nil, WrapExitError(ExitCommandError, "project is invalid (run validate for details)", e)
		}
	}
	return project, nil
}

func startFlow(project *ir.Project, flow string) (ir.ID, error) {
	if flow == "" {
		if len(project.Flows) == 0 {
			return "", NewExitError(ExitCommandError, "project has no flows")
		}
		return project.Flows[0].ID, nil
	}
	if _, ok := project.Flow(ir.ID(flow)); !ok {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("flow %s not found", flow))
	}
	return ir.ID(flow), nil
}

type override struct {
	ref   string
	value ir.Value
}

// parseOverrides parses ref=value pairs. Values are YAML scalars.
func parseOverrides(pairs []string) ([]override, error) {
	out := make([]override, 0, len(pairs))
	for _, pair := range pairs {
		ref, raw, ok := strings.Cut(pair, "=")
		ref = strings.TrimSpace(ref)
		if !ok || ref == "" {
			return nil, fmt.Errorf("%q: want sheet.variable=value", pair)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		v, err := ir.FromGo(decoded)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		out = append(out, override{ref: ref, value: v})
	}
	return out, nil
}

func playResult(sess *engine.Session) PlayResult {
	state := sess.State()
	result := PlayResult{
		SessionID: sess.ID(),
		Status:    string(state.Status),
		FlowID:    sess.Graph().FlowID,
		NodeID:    state.CurrentNodeID,
		StepCount: state.StepCount,
		Pending:   state.PendingChoices,
		Path:      state.ExecutionPath,
		Variables: state.Values(),
		Console:   state.Console,
	}
	if state.Error != nil {
		result.ErrorCode = string(state.Error.Code)
	}
	return result
}
