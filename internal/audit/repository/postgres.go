package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"attendguard/internal/audit/domain"
)

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit entry repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the entry. The entry must have ID and Hash set.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.Entry) error {
	var details []byte
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = b
	}
	uid := sql.NullString{String: e.UserID, Valid: e.UserID != ""}
	endpoint := sql.NullString{String: e.Endpoint, Valid: e.Endpoint != ""}
	_, err := r.db.ExecContext(ctx,
		`insert into security_audit_log
		   (id, event_type, severity, user_id, endpoint, occurred_at, details, previous_hash, hash)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Type, string(e.Severity), uid, endpoint, e.Timestamp, details, e.PreviousHash, e.Hash,
	)
	return err
}

// GetByID returns the entry for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`select id, event_type, severity, user_id, endpoint, occurred_at, details, previous_hash, hash
		   from security_audit_log where id = $1`, id,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByUser returns entries for the given user, newest first, paginated by
// limit and offset.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`select id, event_type, severity, user_id, endpoint, occurred_at, details, previous_hash, hash
		   from security_audit_log
		  where user_id = $1
		  order by occurred_at desc
		  limit $2 offset $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListSince returns entries at or after since, oldest first, paginated by
// limit and offset.
func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time, limit, offset int32) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`select id, event_type, severity, user_id, endpoint, occurred_at, details, previous_hash, hash
		   from security_audit_log
		  where occurred_at >= $1
		  order by occurred_at asc
		  limit $2 offset $3`,
		since, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.Entry, error) {
	var (
		e        domain.Entry
		severity string
		uid      sql.NullString
		endpoint sql.NullString
		details  []byte
	)
	if err := row.Scan(&e.ID, &e.Type, &severity, &uid, &endpoint, &e.Timestamp, &details, &e.PreviousHash, &e.Hash); err != nil {
		return nil, err
	}
	e.Severity = domain.Severity(severity)
	e.UserID = uid.String
	e.Endpoint = endpoint.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
