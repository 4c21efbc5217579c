package incidents

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
)

// Store is the durable incident record. Implemented over Postgres in
// production; the tests use an in-memory fake.
type Store interface {
	Insert(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, limit int) ([]Incident, error)
	Close(ctx context.Context, id string) (bool, error)
}

var ErrNotFound = errors.New("incident not found")

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, inc *Incident) error {
	counts, err := json.Marshal(inc.EventCounts)
	if err != nil {
		return err
	}
	evts, err := json.Marshal(inc.Events)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO incidents
		(incident_id, severity, first_seen, last_seen, event_counts, events,
		 containment, policy_trigger, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err = s.db.ExecContext(ctx, q,
		inc.ID, inc.Severity, inc.FirstSeen, inc.LastSeen, counts, evts,
		inc.Containment, inc.PolicyTrigger, inc.Status, inc.CreatedAt)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Incident, error) {
	const q = `
		SELECT incident_id, severity, first_seen, last_seen, event_counts, events,
		       containment, policy_trigger, status, created_at
		FROM incidents WHERE incident_id = $1
	`
	return scanIncident(s.db.QueryRowContext(ctx, q, id))
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
		SELECT incident_id, severity, first_seen, last_seen, event_counts, events,
		       containment, policy_trigger, status, created_at
		FROM incidents ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

// Close performs the only mutation an incident permits. Returns false if
// the incident is unknown or already closed.
func (s *SQLStore) Close(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE incidents SET status = 'closed' WHERE incident_id = $1 AND status = 'open'`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var counts, evts []byte
	if err := row.Scan(&inc.ID, &inc.Severity, &inc.FirstSeen, &inc.LastSeen,
		&counts, &evts, &inc.Containment, &inc.PolicyTrigger, &inc.Status, &inc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(counts, &inc.EventCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evts, &inc.Events); err != nil {
		return nil, err
	}
	return &inc, nil
}
