package release

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// AuditRecord is written exactly once per release attempt, success or not.
type AuditRecord struct {
	ReleaseID   string    `json:"release_id"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason"`
	SourceIP    string    `json:"source_ip"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	AuthMethod  string    `json:"auth_method"`
}

// Store is the durable side of the release pipeline: replay nonces,
// rate-limit attempts, auth failures, and the audit trail.
type Store interface {
	// InsertNonce records the nonce if it has never been seen. The insert
	// and the uniqueness check are one statement, so two concurrent
	// attempts with the same nonce cannot both succeed.
	InsertNonce(ctx context.Context, nonce string, usedAt time.Time) (bool, error)

	RecordAttempt(ctx context.Context, requestedBy, sessionID string, at time.Time) error
	CountAttempts(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error)

	RecordAuthFailure(ctx context.Context, requestedBy, sessionID string, at time.Time) error
	CountAuthFailures(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error)

	InsertAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, limit int, targetID string) ([]AuditRecord, error)

	PruneNonces(ctx context.Context, before time.Time) error
	PruneAttempts(ctx context.Context, before time.Time) error
	PruneAuthFailures(ctx context.Context, before time.Time) error
	PruneAudit(ctx context.Context, before time.Time) error
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) InsertNonce(ctx context.Context, nonce string, usedAt time.Time) (bool, error) {
	const q = `INSERT INTO used_nonces (nonce, used_at) VALUES ($1, $2) ON CONFLICT (nonce) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, nonce, usedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) RecordAttempt(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	const q = `INSERT INTO release_attempts (requested_by, session_id, attempted_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, requestedBy, sessionID, at)
	return err
}

func (s *SQLStore) CountAttempts(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	const q = `
		SELECT COUNT(*) FROM release_attempts
		WHERE (requested_by = $1 OR session_id = $2) AND attempted_at >= $3
	`
	var n int
	err := s.db.QueryRowContext(ctx, q, requestedBy, sessionID, since).Scan(&n)
	return n, err
}

func (s *SQLStore) RecordAuthFailure(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	const q = `INSERT INTO auth_failures (requested_by, session_id, failed_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, requestedBy, sessionID, at)
	return err
}

func (s *SQLStore) CountAuthFailures(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	const q = `
		SELECT COUNT(*) FROM auth_failures
		WHERE (requested_by = $1 OR session_id = $2) AND failed_at >= $3
	`
	var n int
	err := s.db.QueryRowContext(ctx, q, requestedBy, sessionID, since).Scan(&n)
	return n, err
}

func (s *SQLStore) InsertAudit(ctx context.Context, rec *AuditRecord) error {
	const q = `
		INSERT INTO release_audit
		(release_id, target_type, target_id, requested_by, reason, source_ip,
		 session_id, ts, success, auth_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := s.db.ExecContext(ctx, q,
		rec.ReleaseID, rec.TargetType, rec.TargetID, rec.RequestedBy, rec.Reason,
		rec.SourceIP, rec.SessionID, rec.Timestamp, rec.Success, rec.AuthMethod)
	return err
}

func (s *SQLStore) ListAudit(ctx context.Context, limit int, targetID string) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT release_id, target_type, target_id, requested_by, reason, source_ip,
		       session_id, ts, success, auth_method
		FROM release_audit
	`
	args := []interface{}{}
	if targetID != "" {
		query += ` WHERE target_id = $1 ORDER BY ts DESC LIMIT $2`
		args = append(args, targetID, limit)
	} else {
		query += ` ORDER BY ts DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ReleaseID, &r.TargetType, &r.TargetID, &r.RequestedBy,
			&r.Reason, &r.SourceIP, &r.SessionID, &r.Timestamp, &r.Success, &r.AuthMethod); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *SQLStore) PruneNonces(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM used_nonces WHERE used_at < $1`, before)
	return err
}

func (s *SQLStore) PruneAttempts(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM release_attempts WHERE attempted_at < $1`, before)
	return err
}

func (s *SQLStore) PruneAuthFailures(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_failures WHERE failed_at < $1`, before)
	return err
}

func (s *SQLStore) PruneAudit(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM release_audit WHERE ts < $1`, before)
	return err
}
