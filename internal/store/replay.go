package store

import (
	"context"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
)

// SessionTrace is everything recorded for one session, enough to replay
// it against a changed project and compare.
type SessionTrace struct {
	Session SessionRow
	Steps   []ir.StepRecord
}

// ReadTrace loads a session with its steps.
// Returns sql.ErrNoRows if the session does not exist.
func (s *Store) ReadTrace(ctx context.Context, sessionID string) (SessionTrace, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return SessionTrace{}, err
	}
	steps, err := s.ReadSteps(ctx, sessionID)
	if err != nil {
		return SessionTrace{}, fmt.Errorf("read trace: %w", err)
	}
	return SessionTrace{Session: sess, Steps: steps}, nil
}

// FindUnfinishedSessions returns sessions that never recorded an outcome:
// ones abandoned while waiting for a choice, or interrupted by a crash.
func (s *Store) FindUnfinishedSessions(ctx context.Context) ([]SessionRow, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.finish_seq IS NULL
		ORDER BY s.seq ASC, s.id COLLATE BINARY ASC
	`)
}

// GetLastSeq returns the highest seq number used in the store.
// Used to resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM sessions), 0),
			COALESCE((SELECT MAX(finish_seq) FROM sessions), 0),
			COALESCE((SELECT MAX(seq) FROM steps), 0)
		)
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// NodeVisits counts, per node, the sessions of a flow that ever stepped
// through it. Nodes never visited are absent.
func (s *Store) NodeVisits(ctx context.Context, flowID ir.ID) (map[ir.ID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, COUNT(DISTINCT session_id)
		FROM steps
		WHERE flow_id = ?
		GROUP BY node_id
		ORDER BY node_id COLLATE BINARY ASC
	`, string(flowID))
	if err != nil {
		return nil, fmt.Errorf("query node visits: %w", err)
	}
	defer rows.Close()

	visits := map[ir.ID]int{}
	for rows.Next() {
		var nodeID string
		var n int
		if err := rows.Scan(&nodeID, &n); err != nil {
			return nil, fmt.Errorf("scan node visits: %w", err)
		}
		visits[ir.ID(nodeID)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node visits: %w", err)
	}
	return visits, nil
}
