package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/message-scheduler/internal/channel"
	"github.com/LeventeLantos/message-scheduler/internal/model"
	"github.com/LeventeLantos/message-scheduler/internal/retry"
	"github.com/LeventeLantos/message-scheduler/internal/store"
)

type Config struct {
	// Interval between due-schedule scans.
	Interval time.Duration

	// ReclaimInterval between stale-claim sweeps.
	ReclaimInterval time.Duration

	// StaleAfter is how long a schedule may sit in dispatching before a
	// sweep assumes the claimer crashed and returns it to pending.
	StaleAfter time.Duration

	// BatchSize bounds how many schedules one tick claims, so a large
	// backlog cannot starve the tick loop.
	BatchSize int

	// Concurrency bounds the worker pool that performs sends.
	Concurrency int

	// SendTimeout bounds each individual send.
	SendTimeout time.Duration
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if c.ReclaimInterval <= 0 {
		return errors.New("reclaim interval must be > 0")
	}
	if c.StaleAfter <= 0 {
		return errors.New("stale threshold must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be > 0")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.SendTimeout <= 0 {
		return errors.New("send timeout must be > 0")
	}
	return nil
}

// OutcomeFunc observes a schedule reaching a terminal attempt outcome.
// sendErr is nil when the schedule was sent.
type OutcomeFunc func(ctx context.Context, s model.Schedule, sendErr error)

// Dispatcher is the scheduled-dispatch orchestrator: it scans the store
// for due schedules, claims them exclusively, fans deliveries out to a
// bounded worker pool and writes back sent/retry/failed state.
type Dispatcher struct {
	cfg     Config
	store   store.Store
	senders channel.Registry
	policy  retry.Policy

	onOutcome OutcomeFunc
	now       func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, st store.Store, senders channel.Registry, policy retry.Policy) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if len(senders) == 0 {
		return nil, errors.New("at least one sender is required")
	}
	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		senders: senders,
		policy:  policy,
		now:     time.Now,
		done:    make(chan struct{}),
	}, nil
}

// WithOutcomeHook registers an observer for terminal outcomes. Must be
// called before Start.
func (d *Dispatcher) WithOutcomeHook(fn OutcomeFunc) *Dispatcher {
	d.onOutcome = fn
	return d
}

func (d *Dispatcher) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	go func() {
		defer close(d.done)

		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()

		reclaim := time.NewTicker(d.cfg.ReclaimInterval)
		defer reclaim.Stop()

		slog.Info("dispatcher started",
			"interval", d.cfg.Interval.String(),
			"reclaim_interval", d.cfg.ReclaimInterval.String(),
			"batch", d.cfg.BatchSize,
			"concurrency", d.cfg.Concurrency,
		)

		d.safeRun(ctx, d.Reclaim)
		d.safeRun(ctx, d.Tick)

		for {
			select {
			case <-ctx.Done():
				slog.Info("dispatcher stopping")
				return
			case <-ticker.C:
				d.safeRun(ctx, d.Tick)
			case <-reclaim.C:
				d.safeRun(ctx, d.Reclaim)
			}
		}
	}()

	return true
}

func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return false
	}

	d.cancel()
	<-d.done
	d.running.Store(false)

	slog.Info("dispatcher stopped")
	return true
}

func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

func (d *Dispatcher) safeRun(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher pass panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	fn(ctx)
	slog.Debug("dispatcher pass completed", "duration_ms", time.Since(start).Milliseconds())
}

// Tick claims a bounded batch of due schedules and dispatches them on the
// worker pool, blocking until the whole batch has been reconciled.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()

	var claimed []model.Schedule
	for len(claimed) < d.cfg.BatchSize {
		sc, err := d.store.ClaimDue(ctx, now)
		if err != nil {
			slog.Error("claim failed", "error", err)
			break
		}
		if sc == nil {
			break
		}
		claimed = append(claimed, *sc)
	}
	if len(claimed) == 0 {
		return
	}

	slog.Info("dispatching due schedules", "count", len(claimed))

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, sc := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(sc model.Schedule) {
			defer wg.Done()
			defer func() { <-sem }()
			d.dispatch(ctx, sc)
		}(sc)
	}
	wg.Wait()
}

// Reclaim returns schedules orphaned in dispatching by a crash to
// pending.
func (d *Dispatcher) Reclaim(ctx context.Context) {
	n, err := d.store.ReclaimStale(ctx, d.cfg.StaleAfter)
	if err != nil {
		slog.Error("stale claim sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("reclaimed stale dispatching schedules", "count", n)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, sc model.Schedule) {
	sender, ok := d.senders.For(sc.Kind)
	if !ok {
		d.complete(ctx, sc, channel.Permanent(fmt.Errorf("no sender registered for kind %q", sc.Kind)))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := sender.Send(sendCtx, &sc)
	cancel()

	d.complete(ctx, sc, err)
}

func (d *Dispatcher) complete(ctx context.Context, sc model.Schedule, sendErr error) {
	if sendErr == nil {
		if err := d.store.CompleteAttempt(ctx, sc.ID, store.AttemptOutcome{Result: store.ResultSent}); err != nil {
			d.logCompleteError(sc.ID, err)
			return
		}
		slog.Info("schedule sent",
			"id", sc.ID,
			"kind", string(sc.Kind),
			"attempt", sc.AttemptCount+1,
		)
		d.notify(ctx, sc, nil)
		return
	}

	kind := channel.KindOf(sendErr)
	attempts := sc.AttemptCount + 1
	decision := d.policy.Decide(attempts, kind)

	if decision.Retry {
		outcome := store.AttemptOutcome{
			Result:        store.ResultRetry,
			Error:         sendErr.Error(),
			NextAttemptAt: d.now().Add(decision.Delay),
		}
		if err := d.store.CompleteAttempt(ctx, sc.ID, outcome); err != nil {
			d.logCompleteError(sc.ID, err)
			return
		}
		slog.Warn("schedule attempt failed, will retry",
			"id", sc.ID,
			"kind", string(sc.Kind),
			"error_kind", kind.String(),
			"attempt", attempts,
			"retry_in", decision.Delay.String(),
			"error", sendErr,
		)
		return
	}

	outcome := store.AttemptOutcome{Result: store.ResultFailed, Error: sendErr.Error()}
	if err := d.store.CompleteAttempt(ctx, sc.ID, outcome); err != nil {
		d.logCompleteError(sc.ID, err)
		return
	}
	slog.Error("schedule failed terminally",
		"id", sc.ID,
		"kind", string(sc.Kind),
		"error_kind", kind.String(),
		"attempt", attempts,
		"error", sendErr,
	)
	d.notify(ctx, sc, sendErr)
}

// logCompleteError handles the losing side of a claim/reclaim race: the
// record is no longer ours, so the outcome is dropped, not surfaced.
func (d *Dispatcher) logCompleteError(id string, err error) {
	if errors.Is(err, store.ErrConflict) {
		slog.Warn("attempt outcome discarded, claim was superseded", "id", id)
		return
	}
	slog.Error("failed to record attempt outcome", "id", id, "error", err)
}

func (d *Dispatcher) notify(ctx context.Context, sc model.Schedule, sendErr error) {
	if d.onOutcome != nil {
		d.onOutcome(ctx, sc, sendErr)
	}
}
