package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

// Timestamps are stored as unix milliseconds so due-time comparisons stay
// plain integer comparisons.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schedules (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	recipient       TEXT NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	media_url       TEXT NOT NULL DEFAULT '',
	caption         TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	scheduled_at    INTEGER NOT NULL,
	status          TEXT NOT NULL,
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	next_attempt_at INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (status, scheduled_at);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, sc *model.Schedule) error {
	now := time.Now().UTC()
	if !sc.ScheduledAt.After(now) {
		return ErrNotFuture
	}
	if sc.ID == "" {
		return errors.New("schedule id is required")
	}
	if !sc.Kind.Valid() {
		return fmt.Errorf("invalid schedule kind: %q", sc.Kind)
	}

	sc.Status = model.StatusPending
	sc.AttemptCount = 0
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules
			(id, kind, recipient, body, media_url, caption, subject,
			 scheduled_at, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		sc.ID, string(sc.Kind), sc.Recipient, sc.Text, sc.MediaURL, sc.Caption, sc.Subject,
		sc.ScheduledAt.UnixMilli(), string(sc.Status), now.UnixMilli(), now.UnixMilli(),
	)
	return err
}

const sqliteColumns = `id, kind, recipient, body, media_url, caption, subject,
	scheduled_at, status, attempt_count, last_error, next_attempt_at, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM schedules WHERE id = ?`, id)

	sc, err := scanSQLiteSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]model.Schedule, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + sqliteColumns + ` FROM schedules`
	args := []any{}
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY scheduled_at ASC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		sc, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time) (*model.Schedule, error) {
	nowMs := now.UTC().UnixMilli()

	// Single-statement CAS: the inner select picks the earliest due
	// pending schedule, the outer guard re-checks pending so two claimers
	// can never both win the same row.
	row := s.db.QueryRowContext(ctx, `
		UPDATE schedules
		SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM schedules
			WHERE status = ?
			  AND scheduled_at <= ?
			  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY scheduled_at ASC
			LIMIT 1
		) AND status = ?
		RETURNING `+sqliteColumns,
		string(model.StatusDispatching), nowMs,
		string(model.StatusPending), nowMs, nowMs,
		string(model.StatusPending),
	)

	sc, err := scanSQLiteSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SQLiteStore) CompleteAttempt(ctx context.Context, id string, outcome AttemptOutcome) error {
	nowMs := time.Now().UTC().UnixMilli()

	var res sql.Result
	var err error

	switch outcome.Result {
	case ResultSent:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = ?, attempt_count = attempt_count + 1,
			    last_error = NULL, next_attempt_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(model.StatusSent), nowMs, id, string(model.StatusDispatching))
	case ResultRetry:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = ?, attempt_count = attempt_count + 1,
			    last_error = ?, next_attempt_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(model.StatusPending), outcome.Error, outcome.NextAttemptAt.UTC().UnixMilli(),
			nowMs, id, string(model.StatusDispatching))
	case ResultFailed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = ?, attempt_count = attempt_count + 1,
			    last_error = ?, next_attempt_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(model.StatusFailed), outcome.Error, nowMs, id, string(model.StatusDispatching))
	default:
		return fmt.Errorf("invalid attempt result: %q", outcome.Result)
	}
	if err != nil {
		return err
	}

	return s.checkAffected(ctx, res, id)
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusCancelled), time.Now().UTC().UnixMilli(), id, string(model.StatusPending))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id)
}

func (s *SQLiteStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE status = ? AND updated_at <= ?
	`, string(model.StatusPending), now.UnixMilli(), string(model.StatusDispatching), cutoff)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// checkAffected distinguishes "wrong status" from "no such record" after a
// guarded update touched zero rows.
func (s *SQLiteStore) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		sc            model.Schedule
		kind, status  string
		scheduledAt   int64
		createdAt     int64
		updatedAt     int64
		lastErr       sql.NullString
		nextAttemptAt sql.NullInt64
	)

	if err := row.Scan(
		&sc.ID, &kind, &sc.Recipient, &sc.Text, &sc.MediaURL, &sc.Caption, &sc.Subject,
		&scheduledAt, &status, &sc.AttemptCount, &lastErr, &nextAttemptAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	sc.Kind = model.Kind(kind)
	sc.Status = model.Status(status)
	sc.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	sc.CreatedAt = time.UnixMilli(createdAt).UTC()
	sc.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if lastErr.Valid {
		v := lastErr.String
		sc.LastError = &v
	}
	if nextAttemptAt.Valid {
		t := time.UnixMilli(nextAttemptAt.Int64).UTC()
		sc.NextAttemptAt = &t
	}
	return &sc, nil
}
