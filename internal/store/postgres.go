package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS schedules (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	recipient       TEXT NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	media_url       TEXT NOT NULL DEFAULT '',
	caption         TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	scheduled_at    TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	attempt_count   INT NOT NULL DEFAULT 0,
	last_error      TEXT,
	next_attempt_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (status, scheduled_at);
`

// PostgresStore is the multi-process deployment store. Claims take row
// locks with SKIP LOCKED so concurrent orchestrators never select the
// same record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(url string) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres url is required")
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, sc *model.Schedule) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
	`,
		sc.ID, string(sc.Kind), sc.Recipient, sc.Text, sc.MediaURL, sc.Caption, sc.Subject,
		sc.ScheduledAt, string(sc.Status), now, now,
	)
	return err
}

const postgresColumns = `id, kind, recipient, body, media_url, caption, subject,
	scheduled_at, status, attempt_count, last_error, next_attempt_at, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postgresColumns+` FROM schedules WHERE id = $1`, id)

	sc, err := scanPostgresSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]model.Schedule, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + postgresColumns + ` FROM schedules`
	args := []any{}
	if f.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(f.Status))
	}
	query += fmt.Sprintf(` ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		sc, err := scanPostgresSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time) (*model.Schedule, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now = now.UTC()

	row := tx.QueryRowContext(ctx, `
		SELECT `+postgresColumns+`
		FROM schedules
		WHERE status = $1
		  AND scheduled_at <= $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(model.StatusPending), now)

	sc, err := scanPostgresSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedules SET status = $2, updated_at = $3 WHERE id = $1
	`, sc.ID, string(model.StatusDispatching), now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sc.Status = model.StatusDispatching
	sc.UpdatedAt = now
	return sc, nil
}

func (s *PostgresStore) CompleteAttempt(ctx context.Context, id string, outcome AttemptOutcome) error {
	var res sql.Result
	var err error

	switch outcome.Result {
	case ResultSent:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = $3, attempt_count = attempt_count + 1,
			    last_error = NULL, next_attempt_at = NULL, updated_at = now()
			WHERE id = $1 AND status = $2
		`, id, string(model.StatusDispatching), string(model.StatusSent))
	case ResultRetry:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = $3, attempt_count = attempt_count + 1,
			    last_error = $4, next_attempt_at = $5, updated_at = now()
			WHERE id = $1 AND status = $2
		`, id, string(model.StatusDispatching), string(model.StatusPending),
			outcome.Error, outcome.NextAttemptAt.UTC())
	case ResultFailed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = $3, attempt_count = attempt_count + 1,
			    last_error = $4, next_attempt_at = NULL, updated_at = now()
			WHERE id = $1 AND status = $2
		`, id, string(model.StatusDispatching), string(model.StatusFailed), outcome.Error)
	default:
		return fmt.Errorf("invalid attempt result: %q", outcome.Result)
	}
	if err != nil {
		return err
	}

	return s.checkAffected(ctx, res, id)
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(model.StatusPending), string(model.StatusCancelled))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id)
}

func (s *PostgresStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = $2, attempt_count = attempt_count + 1, updated_at = now()
		WHERE status = $1 AND updated_at <= now() - $3::interval
	`, string(model.StatusDispatching), string(model.StatusPending),
		fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func scanPostgresSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		sc            model.Schedule
		kind, status  string
		lastErr       sql.NullString
		nextAttemptAt sql.NullTime
	)

	if err := row.Scan(
		&sc.ID, &kind, &sc.Recipient, &sc.Text, &sc.MediaURL, &sc.Caption, &sc.Subject,
		&sc.ScheduledAt, &status, &sc.AttemptCount, &lastErr, &nextAttemptAt,
		&sc.CreatedAt, &sc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sc.Kind = model.Kind(kind)
	sc.Status = model.Status(status)

	if lastErr.Valid {
		v := lastErr.String
		sc.LastError = &v
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time.UTC()
		sc.NextAttemptAt = &t
	}
	return &sc, nil
}
