package containment

import (
	"context"
	"database/sql"

	"sentraguard/internal/events"
)

// StateStore is the durable side of containment. The SQL implementation is
// authoritative across processes; an in-memory fake backs the tests.
type StateStore interface {
	Upsert(ctx context.Context, s *State) error
	Delete(ctx context.Context, targetType events.TargetType, targetID string) (bool, error)
	LoadAll(ctx context.Context) ([]State, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Upsert inserts or replaces the row for the target. Last writer wins
// across processes via the primary key on (target_type, target_id).
func (s *SQLStore) Upsert(ctx context.Context, st *State) error {
	const q = `
		INSERT INTO containment_state
		(target_type, target_id, action, applied_at, expires_at, reason, incident_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (target_type, target_id) DO UPDATE SET
			action = EXCLUDED.action,
			applied_at = EXCLUDED.applied_at,
			expires_at = EXCLUDED.expires_at,
			reason = EXCLUDED.reason,
			incident_id = EXCLUDED.incident_id
	`
	_, err := s.db.ExecContext(ctx, q,
		st.TargetType, st.TargetID, st.Action, st.AppliedAt, st.ExpiresAt, st.Reason, st.IncidentID)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, targetType events.TargetType, targetID string) (bool, error) {
	const q = `DELETE FROM containment_state WHERE target_type = $1 AND target_id = $2`
	res, err := s.db.ExecContext(ctx, q, targetType, targetID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) LoadAll(ctx context.Context) ([]State, error) {
	const q = `
		SELECT target_type, target_id, action, applied_at, expires_at, reason, incident_id
		FROM containment_state
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.TargetType, &st.TargetID, &st.Action,
			&st.AppliedAt, &st.ExpiresAt, &st.Reason, &st.IncidentID); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}
