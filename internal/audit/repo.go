package audit

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	student_id     TEXT NOT NULL DEFAULT '',
	locker_id      TEXT NOT NULL DEFAULT '',
	reservation_id TEXT NOT NULL DEFAULT '',
	allowed        BOOLEAN NOT NULL DEFAULT FALSE,
	reason         TEXT NOT NULL DEFAULT '',
	occurred_at    TIMESTAMP NOT NULL,
	created_at     TIMESTAMP NOT NULL
)`

const columns = `id, type, student_id, locker_id, reservation_id, allowed, reason, occurred_at, created_at`

// Repository persists audit events. Queries use $n placeholders, which both
// pgx and sqlite3 accept when numbered in order.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the audit table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Insert writes evt, filling in the id and timestamps when missing.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.Type == "" {
		return Event{}, errors.New("event type required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	evt.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (`+columns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, evt.ID, evt.Type, evt.StudentID, evt.LockerID, evt.ReservationID, evt.Allowed, evt.Reason, evt.OccurredAt.UTC(), evt.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Get returns a single event by id.
func (r *Repository) Get(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM audit_events WHERE id = $1`, id)
	return scan(row)
}

// List returns events newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + columns + ` FROM audit_events`
	var args []any
	var clauses []string
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		clauses = append(clauses, col+" = $"+strconv.Itoa(len(args)))
	}
	add("type", f.Type)
	add("student_id", f.StudentID)
	add("locker_id", f.LockerID)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, created_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		evt, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Event, error) {
	var evt Event
	err := s.Scan(&evt.ID, &evt.Type, &evt.StudentID, &evt.LockerID, &evt.ReservationID, &evt.Allowed, &evt.Reason, &evt.OccurredAt, &evt.CreatedAt)
	return evt, err
}
