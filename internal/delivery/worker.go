// Package delivery drains the newsletter delivery queue. Each worker claims
// one due task at a time, sends the email and resolves the task: delete on
// success, reschedule on a transient failure, delete and log on a permanent
// one.
//
// On PostgreSQL claim, send and resolve share one transaction and the row is
// held with SKIP LOCKED. SQLite locks the whole database for a writing
// transaction, so there the claim is a lease: one statement hides the task
// until TaskTimeout has passed, the send runs outside any transaction and a
// second statement resolves it. A worker that dies mid-send leaves the task
// to reappear when the lease ends.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Outcome is the result of one TryExecuteTask call.
type Outcome int

const (
	// TaskCompleted means a task was claimed and resolved (sent, rescheduled
	// or discarded) and the outcome stored.
	TaskCompleted Outcome = iota
	// EmptyQueue means no task was due.
	EmptyQueue
	// TaskDispatchError means claiming or resolving failed; the task, if
	// any, stays queued.
	TaskDispatchError
)

func (o Outcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return "dispatch_error"
	}
}

const (
	maxErrorLen    = 1024
	resolveTimeout = 5 * time.Second
)

// Config tunes a Worker. Zero values get defaults.
type Config struct {
	Name        string
	MaxRetries  int           // failed attempts rescheduled before discarding
	RetryDelay  time.Duration // base of the exponential retry delay
	IdleMin     time.Duration // first idle sleep after an empty poll
	IdleMax     time.Duration // idle sleep cap
	TaskTimeout time.Duration // bound on one claim-send-resolve cycle, and the lease length
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "delivery-worker"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.IdleMin <= 0 {
		c.IdleMin = 200 * time.Millisecond
	}
	if c.IdleMax < c.IdleMin {
		c.IdleMax = 10 * time.Second
		if c.IdleMax < c.IdleMin {
			c.IdleMax = c.IdleMin
		}
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	return c
}

// Worker executes delivery tasks. Several workers may share one database.
type Worker struct {
	db     *gorm.DB
	sender email.Sender
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
	leased bool
}

// NewWorker builds a Worker.
func NewWorker(db *gorm.DB, sender email.Sender, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		db:     db,
		sender: sender,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With().Str("worker", cfg.Name).Logger(),
		leased: db != nil && db.Dialector.Name() != repo.DriverPostgres,
	}
}

// String names the worker for the supervisor.
func (w *Worker) String() string { return w.cfg.Name }

// TryExecuteTask claims and resolves at most one due task.
func (w *Worker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	if w.leased {
		return w.tryLeased(ctx)
	}
	return w.tryLocked(ctx)
}

// tryLocked runs claim, send and resolve in one transaction.
func (w *Worker) tryLocked(ctx context.Context) (Outcome, error) {
	now := w.now()

	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		claimErrors.Inc()
		return TaskDispatchError, fmt.Errorf("begin: %w", tx.Error)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback().Error
		}
	}()

	task, err := repo.ClaimDeliveryTask(ctx, tx, now)
	if errors.Is(err, repo.ErrNotFound) {
		return EmptyQueue, nil
	}
	if err != nil {
		claimErrors.Inc()
		return TaskDispatchError, fmt.Errorf("claim task: %w", err)
	}

	sendErr := w.deliver(ctx, tx, task)
	result, err := w.resolve(ctx, tx, task, now, sendErr)
	if err != nil {
		return TaskDispatchError, fmt.Errorf("resolve task %d: %w", task.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return TaskDispatchError, fmt.Errorf("commit task %d: %w", task.ID, err)
	}
	committed = true
	w.record(task, result, sendErr)
	return TaskCompleted, nil
}

// tryLeased claims with a lease and sends without holding a transaction.
func (w *Worker) tryLeased(ctx context.Context) (Outcome, error) {
	now := w.now()

	task, err := repo.LeaseDeliveryTask(ctx, w.db, now, now.Add(w.cfg.TaskTimeout))
	if errors.Is(err, repo.ErrNotFound) {
		return EmptyQueue, nil
	}
	if err != nil {
		claimErrors.Inc()
		return TaskDispatchError, fmt.Errorf("lease task: %w", err)
	}

	sendErr := w.deliver(ctx, w.db, task)

	// The send may have used up ctx; the outcome still has to be written.
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	result, err := w.resolve(resolveCtx, w.db, task, now, sendErr)
	if errors.Is(err, repo.ErrNotFound) {
		w.logger.Warn().Uint64("task_id", task.ID).Msg("delivery task resolved elsewhere after lease expired")
		return TaskCompleted, nil
	}
	if err != nil {
		return TaskDispatchError, fmt.Errorf("resolve task %d: %w", task.ID, err)
	}
	w.record(task, result, sendErr)
	return TaskCompleted, nil
}

// resolve deletes, discards or reschedules task according to sendErr and
// returns the tasksTotal label. A send that never reached the transport
// (email.ErrUnavailable) is pushed back without counting as an attempt.
func (w *Worker) resolve(ctx context.Context, db *gorm.DB, task *domain.DeliveryTask, now time.Time, sendErr error) (string, error) {
	switch {
	case sendErr == nil:
		return resultSent, repo.DeleteDeliveryTask(ctx, db, task.ID)
	case errors.Is(sendErr, email.ErrUnavailable):
		next := now.Add(w.cfg.RetryDelay)
		return resultRetried, repo.RescheduleDeliveryTask(ctx, db, task.ID, task.RetryCount, truncate(sendErr.Error(), maxErrorLen), next)
	case email.IsPermanent(sendErr) || task.RetryCount >= w.cfg.MaxRetries:
		return resultDiscarded, repo.DeleteDeliveryTask(ctx, db, task.ID)
	default:
		next := now.Add(w.retryDelay(task.RetryCount))
		return resultRetried, repo.RescheduleDeliveryTask(ctx, db, task.ID, task.RetryCount+1, truncate(sendErr.Error(), maxErrorLen), next)
	}
}

func (w *Worker) record(task *domain.DeliveryTask, result string, sendErr error) {
	tasksTotal.WithLabelValues(result).Inc()

	l := w.logger.With().
		Uint64("task_id", task.ID).
		Str("issue_id", task.IssueID).
		Int("retry_count", task.RetryCount).
		Logger()
	switch result {
	case resultSent:
		l.Debug().Msg("newsletter delivered")
	case resultRetried:
		l.Warn().Err(sendErr).Msg("delivery failed, rescheduled")
	case resultDiscarded:
		l.Error().Err(sendErr).
			Bool("permanent", email.IsPermanent(sendErr)).
			Msg("delivery failed, task discarded")
	}
}

// deliver sends the issue of task to its subscriber. Failures that no retry
// can fix are returned as permanent.
func (w *Worker) deliver(ctx context.Context, db *gorm.DB, task *domain.DeliveryTask) error {
	if !email.ValidAddress(task.SubscriberEmail) {
		return email.Permanent(fmt.Errorf("invalid recipient %q", task.SubscriberEmail))
	}
	issue, err := repo.GetIssue(ctx, db, task.IssueID)
	if errors.Is(err, repo.ErrNotFound) {
		return email.Permanent(fmt.Errorf("issue %s not found", task.IssueID))
	}
	if err != nil {
		return email.Transient(fmt.Errorf("load issue: %w", err))
	}
	return w.sender.Send(ctx, task.SubscriberEmail, issue.Title, issue.HTMLContent, issue.TextContent)
}

// retryDelay is RetryDelay * 2^retryCount, saturating instead of overflowing.
func (w *Worker) retryDelay(retryCount int) time.Duration {
	if retryCount > 30 {
		retryCount = 30
	}
	mult := int64(1) << retryCount
	base := int64(w.cfg.RetryDelay)
	if base > math.MaxInt64/mult {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(base * mult)
}

// Run executes tasks until ctx is canceled, sleeping with exponential
// back-off while the queue is empty or the database is failing.
//
// Cancellation never interrupts a task midway: each task runs on a context
// detached from ctx and bounded by TaskTimeout, so it is either resolved or
// left queued.
func (w *Worker) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.IdleMin
	bo.MaxInterval = w.cfg.IdleMax
	bo.Reset()

	w.logger.Info().Msg("delivery worker started")
	defer w.logger.Info().Msg("delivery worker stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := w.runOne(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("delivery dispatch failed")
		}
		if outcome == TaskCompleted {
			bo.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error { return w.Run(ctx) }

func (w *Worker) runOne(ctx context.Context) (Outcome, error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.TaskTimeout)
	defer cancel()
	return w.TryExecuteTask(taskCtx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
