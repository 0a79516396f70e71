package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/querysql"
)

// SessionRow is a stored session: its start record plus, once it has
// ended, its status.
type SessionRow struct {
	ir.SessionRecord
	Status    string
	NodeID    ir.ID
	StepCount int
	ErrorCode string

	// FinishSeq is zero while the session is still running.
	FinishSeq int64
}

// Finished reports whether the session has a recorded outcome.
func (r SessionRow) Finished() bool {
	return r.FinishSeq != 0
}

const sessionColumns = `s.id, s.project_name, s.flow_id, s.seq, s.engine_version, s.ir_version,
		s.status, s.node_id, s.step_count, s.error_code, COALESCE(s.finish_seq, 0)`

// ReadSession retrieves a single session by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns all sessions with deterministic ordering.
// Results ordered by seq ASC, id ASC.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		ORDER BY s.seq ASC, s.id COLLATE BINARY ASC
	`)
}

// FindSessions returns the finished sessions whose final variables
// satisfy cond, with the same semantics the engine applies when it
// evaluates a condition node. Sessions without a stored outcome have no
// variables and only match conditions that hold for all-nil state.
func (s *Store) FindSessions(ctx context.Context, cond ir.Condition) ([]SessionRow, error) {
	pred, params, err := querysql.NewSQLCompiler().CompilePredicate(cond)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE `+pred+`
		ORDER BY s.seq ASC, s.id COLLATE BINARY ASC
	`, params...)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRow{}
	for rows.Next() {
		row, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionRow, error) {
	var r SessionRow
	var flowID, nodeID string
	err := sc.Scan(
		&r.ID,
		&r.ProjectName,
		&flowID,
		&r.Seq,
		&r.EngineVersion,
		&r.IRVersion,
		&r.Status,
		&nodeID,
		&r.StepCount,
		&r.ErrorCode,
		&r.FinishSeq,
	)
	if err == sql.ErrNoRows {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("scan session: %w", err)
	}
	r.FlowID = ir.ID(flowID)
	r.NodeID = ir.ID(nodeID)
	return r, nil
}

// ReadSteps returns a session's steps in seq order.
//
// Returns an empty slice (not nil) if the session has no steps.
func (s *Store) ReadSteps(ctx context.Context, sessionID string) ([]ir.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, step, flow_id, node_id, node_type, outcome, variables_digest, response_id
		FROM steps
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []ir.StepRecord{}
	for rows.Next() {
		var rec ir.StepRecord
		var flowID, nodeID, nodeType, responseID string
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Seq,
			&rec.Step,
			&flowID,
			&nodeID,
			&nodeType,
			&rec.Outcome,
			&rec.VariablesDigest,
			&responseID,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.FlowID = ir.ID(flowID)
		rec.NodeID = ir.ID(nodeID)
		rec.NodeType = ir.NodeType(nodeType)
		rec.ResponseID = ir.ID(responseID)
		steps = append(steps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// ReadOutcome reconstructs the stored outcome of a finished session.
// Returns sql.ErrNoRows if the session does not exist or is still running.
func (s *Store) ReadOutcome(ctx context.Context, sessionID string) (ir.SessionOutcome, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return ir.SessionOutcome{}, err
	}
	if !sess.Finished() {
		return ir.SessionOutcome{}, sql.ErrNoRows
	}

	out := ir.SessionOutcome{
		SessionID: sess.ID,
		Seq:       sess.FinishSeq,
		Status:    sess.Status,
		NodeID:    sess.NodeID,
		StepCount: sess.StepCount,
		ErrorCode: sess.ErrorCode,
	}
	if out.Variables, err = s.readVariables(ctx, sessionID); err != nil {
		return ir.SessionOutcome{}, err
	}
	if out.Console, err = s.readConsole(ctx, sessionID); err != nil {
		return ir.SessionOutcome{}, err
	}
	return out, nil
}

func (s *Store) readVariables(ctx context.Context, sessionID string) (map[string]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, json FROM session_variables
		WHERE session_id = ?
		ORDER BY ref COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query variables: %w", err)
	}
	defer rows.Close()

	vars := map[string]ir.Value{}
	for rows.Next() {
		var ref, data string
		if err := rows.Scan(&ref, &data); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		v, err := unmarshalValue(data)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", ref, err)
		}
		vars[ref] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variables: %w", err)
	}
	return vars, nil
}

func (s *Store) readConsole(ctx context.Context, sessionID string) ([]ir.ConsoleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, node_id, level, message FROM console
		WHERE session_id = ?
		ORDER BY line ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query console: %w", err)
	}
	defer rows.Close()

	lines := []ir.ConsoleLine{}
	for rows.Next() {
		var line ir.ConsoleLine
		var nodeID string
		if err := rows.Scan(&line.Step, &nodeID, &line.Level, &line.Message); err != nil {
			return nil, fmt.Errorf("scan console: %w", err)
		}
		line.NodeID = ir.ID(nodeID)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate console: %w", err)
	}
	return lines, nil
}
