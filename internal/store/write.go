package store

import (
	"context"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/querysql"
)

// StartSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) StartSession(ctx context.Context, rec ir.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, project_name, flow_id, seq, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.ProjectName,
		string(rec.FlowID),
		rec.Seq,
		rec.EngineVersion,
		rec.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// RecordStep appends one step to a session's trace.
// Re-recording the same (session_id, seq) is a no-op.
//
// Note: The session referenced by SessionID must exist (foreign key constraint).
func (s *Store) RecordStep(ctx context.Context, rec ir.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps
		(session_id, seq, step, flow_id, node_id, node_type, outcome, variables_digest, response_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		rec.SessionID,
		rec.Seq,
		rec.Step,
		string(rec.FlowID),
		string(rec.NodeID),
		string(rec.NodeType),
		rec.Outcome,
		rec.VariablesDigest,
		string(rec.ResponseID),
	)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}
	return nil
}

// FinishSession stores a session's outcome: its status, final variables
// and console. A session rewound and finished again is overwritten, so
// the stored outcome is always the latest one.
//
// All writes happen in one transaction.
func (s *Store) FinishSession(ctx context.Context, out ir.SessionOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish session: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, node_id = ?, step_count = ?, error_code = ?, finish_seq = ?
		WHERE id = ?
	`,
		out.Status,
		string(out.NodeID),
		out.StepCount,
		out.ErrorCode,
		out.Seq,
		out.SessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish session: unknown session %q", out.SessionID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_variables WHERE session_id = ?`, out.SessionID); err != nil {
		return fmt.Errorf("finish session: clear variables: %w", err)
	}
	for _, ref := range ir.SortedKeys(out.Variables) {
		row, err := querysql.RowOf(out.Variables[ref])
		if err != nil {
			return fmt.Errorf("finish session: variable %s: %w", ref, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_variables
			(session_id, ref, kind, json, num, txt, truthy, empty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			out.SessionID,
			ref,
			row.Kind,
			row.JSON,
			row.Num,
			row.Txt,
			row.Truthy,
			row.Empty,
		)
		if err != nil {
			return fmt.Errorf("finish session: write variable %s: %w", ref, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM console WHERE session_id = ?`, out.SessionID); err != nil {
		return fmt.Errorf("finish session: clear console: %w", err)
	}
	for i, line := range out.Console {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO console (session_id, line, step, node_id, level, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, out.SessionID, i, line.Step, string(line.NodeID), line.Level, line.Message)
		if err != nil {
			return fmt.Errorf("finish session: write console: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish session: commit: %w", err)
	}
	return nil
}
