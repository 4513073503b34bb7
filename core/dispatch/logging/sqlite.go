package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luminet/dimmerd/core/model"
)

// SQLiteStore persists attempts to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS dispatch_attempts (
        id TEXT PRIMARY KEY,
        created_at INTEGER,
        updated_at INTEGER,
        target TEXT,
        outcome TEXT,
        record TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_attempts_target ON dispatch_attempts(target, updated_at);
    CREATE TABLE IF NOT EXISTS scheduler_state (
        key TEXT PRIMARY KEY,
        value TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Create inserts the attempt record.
func (s *SQLiteStore) Create(ctx context.Context, a model.DispatchAttempt) error {
	b, err := json.Marshal(record(a))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatch_attempts (id, created_at, updated_at, target, outcome, record) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.Unix(), a.UpdatedAt.Unix(), a.Target.Key(), string(a.Outcome), string(b))
	return err
}

// Update rewrites the attempt record.
func (s *SQLiteStore) Update(ctx context.Context, a model.DispatchAttempt) error {
	b, err := json.Marshal(record(a))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_attempts SET updated_at = ?, outcome = ?, record = ? WHERE id = ?`,
		a.UpdatedAt.Unix(), string(a.Outcome), string(b), a.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Latest returns the most recent attempt for the target key.
func (s *SQLiteStore) Latest(ctx context.Context, target string) (model.DispatchAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM dispatch_attempts WHERE target = ? ORDER BY updated_at DESC, created_at DESC LIMIT 1`,
		target)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return model.DispatchAttempt{}, ErrNotFound
		}
		return model.DispatchAttempt{}, err
	}
	return decode(data)
}

// Query returns attempts matching q, most recent first.
func (s *SQLiteStore) Query(ctx context.Context, q AttemptQuery) ([]model.DispatchAttempt, error) {
	query := `SELECT record FROM dispatch_attempts WHERE 1=1`
	var args []any
	if !q.Start.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND updated_at <= ?`
		args = append(args, q.End.Unix())
	}
	if q.Target != "" {
		query += ` AND target = ?`
		args = append(args, q.Target)
	}
	if q.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(q.Outcome))
	}
	query += ` ORDER BY updated_at DESC, created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.DispatchAttempt
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		a, err := decode(data)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Watermark returns the persisted fires-processed-through instant. A zero
// time means no watermark has been written yet.
func (s *SQLiteStore) Watermark(ctx context.Context) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM scheduler_state WHERE key = 'watermark'`)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// SetWatermark persists the watermark.
func (s *SQLiteStore) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (key, value) VALUES ('watermark', ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		t.UTC().Format(time.RFC3339Nano))
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// attemptRecord is the JSON shape stored in the record column.
type attemptRecord struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	TargetKind string    `json:"target_kind"`
	TargetID   string    `json:"target_id"`
	Command    string    `json:"command"`
	FireAt     time.Time `json:"fire_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	Outcome    string    `json:"outcome"`
}

func record(a model.DispatchAttempt) attemptRecord {
	return attemptRecord{
		ID:         a.ID,
		SourceID:   a.SourceID,
		TargetKind: a.Target.Kind.String(),
		TargetID:   a.Target.ID,
		Command:    a.Command.String(),
		FireAt:     a.FireAt,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		Attempts:   a.Attempts,
		LastError:  a.LastError,
		Outcome:    string(a.Outcome),
	}
}

func decode(data string) (model.DispatchAttempt, error) {
	var r attemptRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.DispatchAttempt{}, fmt.Errorf("unmarshal attempt: %w", err)
	}
	kind, err := model.ParseTargetKind(r.TargetKind)
	if err != nil {
		return model.DispatchAttempt{}, err
	}
	cmd, err := model.ParseCommand(r.Command)
	if err != nil {
		return model.DispatchAttempt{}, err
	}
	return model.DispatchAttempt{
		ID:        r.ID,
		SourceID:  r.SourceID,
		Target:    model.Target{Kind: kind, ID: r.TargetID},
		Command:   cmd,
		FireAt:    r.FireAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Outcome:   model.AttemptOutcome(r.Outcome),
	}, nil
}
