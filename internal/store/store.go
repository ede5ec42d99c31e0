package store

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

var (
	// ErrNotFound means no schedule exists with the given id.
	ErrNotFound = errors.New("schedule not found")

	// ErrConflict means the schedule is not in the status the transition
	// requires, e.g. cancelling a schedule that is already dispatching,
	// or completing an attempt on a record that was reclaimed.
	ErrConflict = errors.New("schedule status conflict")

	// ErrNotFuture is returned by Create when the scheduled time is not
	// strictly in the future.
	ErrNotFuture = errors.New("scheduled time must be in the future")
)

type AttemptResult string

const (
	ResultSent   AttemptResult = "sent"
	ResultRetry  AttemptResult = "retry"
	ResultFailed AttemptResult = "failed"
)

// AttemptOutcome describes how a dispatch attempt ended. Error is recorded
// as last_error for retry and failed. NextAttemptAt gates re-claiming for
// retry outcomes.
type AttemptOutcome struct {
	Result        AttemptResult
	Error         string
	NextAttemptAt time.Time
}

type ListFilter struct {
	Status model.Status // empty matches all statuses
	Limit  int
	Offset int
}

// Store is the durable record keeper for schedules. All state transitions
// are atomic compare-and-swaps on the current status, so concurrent
// claimers, cancellers and reclaimers never step on each other even
// across processes.
type Store interface {
	// Create persists a new schedule in pending status. The scheduled
	// time must be strictly in the future.
	Create(ctx context.Context, s *model.Schedule) error

	Get(ctx context.Context, id string) (*model.Schedule, error)

	// List returns schedules ordered by scheduled time ascending.
	List(ctx context.Context, f ListFilter) ([]model.Schedule, error)

	// ClaimDue atomically selects one pending schedule that is due at
	// now (and past any retry backoff gate) and moves it to dispatching.
	// Returns nil when no schedule is due.
	ClaimDue(ctx context.Context, now time.Time) (*model.Schedule, error)

	// CompleteAttempt moves a dispatching schedule to sent, back to
	// pending (retry) or to failed, incrementing the attempt count.
	// Returns ErrConflict if the schedule is no longer dispatching.
	CompleteAttempt(ctx context.Context, id string, outcome AttemptOutcome) error

	// Cancel moves a pending schedule to cancelled. Returns ErrConflict
	// if the schedule has already left pending.
	Cancel(ctx context.Context, id string) error

	// ReclaimStale returns schedules stuck in dispatching longer than
	// olderThan back to pending, incrementing their attempt count.
	// Reports how many records were reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}
