package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

var (
	// ErrConflictRetryLater means another request with the same key is still
	// in flight. Clients should retry after a short delay.
	ErrConflictRetryLater = errors.New("request with this idempotency key is in progress")

	// ErrStorage wraps database failures while reserving, reading or saving.
	ErrStorage = errors.New("idempotency storage error")

	// ErrTxnClosed is returned when a Txn is used after Complete or Rollback.
	ErrTxnClosed = errors.New("idempotency transaction already closed")
)

// Store persists idempotency records.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Outcome is the result of BeginOrReplay. Exactly one field is set: Txn when
// the caller owns the key and must run the request, Replay when a stored
// response should be returned instead.
type Outcome struct {
	Txn    *Txn
	Replay *Response
}

// BeginOrReplay opens a transaction and reserves (userID, key) inside it.
//
// If this call reserved the key, the returned Txn holds the open transaction;
// side effects must run on Txn.Tx() and finish with Complete. Otherwise the
// transaction is rolled back and the stored record decides: a completed record
// is replayed, a pending one yields ErrConflictRetryLater.
func (s *Store) BeginOrReplay(ctx context.Context, userID string, key Key) (Outcome, error) {
	if key.IsZero() {
		return Outcome{}, ErrInvalidKey
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		outcomesTotal.WithLabelValues(outcomeError).Inc()
		return Outcome{}, fmt.Errorf("%w: begin: %w", ErrStorage, tx.Error)
	}

	inserted, err := repo.InsertIdempotencyPlaceholder(ctx, tx, userID, key.String(), s.now())
	if err != nil {
		_ = tx.Rollback().Error
		outcomesTotal.WithLabelValues(outcomeError).Inc()
		return Outcome{}, fmt.Errorf("%w: reserve key: %w", ErrStorage, err)
	}
	if inserted {
		outcomesTotal.WithLabelValues(outcomeStart).Inc()
		return Outcome{Txn: &Txn{tx: tx, userID: userID, key: key}}, nil
	}
	_ = tx.Rollback().Error

	rec, err := repo.GetIdempotency(ctx, s.db, userID, key.String())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// The holder rolled back after our insert saw its row.
		outcomesTotal.WithLabelValues(outcomeConflict).Inc()
		return Outcome{}, ErrConflictRetryLater
	case err != nil:
		outcomesTotal.WithLabelValues(outcomeError).Inc()
		return Outcome{}, fmt.Errorf("%w: read record: %w", ErrStorage, err)
	}

	if rec.State() == domain.IdempotencyPending {
		outcomesTotal.WithLabelValues(outcomeConflict).Inc()
		return Outcome{}, ErrConflictRetryLater
	}

	resp, err := responseFromRecord(rec)
	if err != nil {
		outcomesTotal.WithLabelValues(outcomeError).Inc()
		return Outcome{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	outcomesTotal.WithLabelValues(outcomeReplay).Inc()
	return Outcome{Replay: &resp}, nil
}

// Lookup reports whether a completed response is stored for (userID, key).
func (s *Store) Lookup(ctx context.Context, userID, key string) (bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, key)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return rec.State() == domain.IdempotencyCompleted, nil
}

func responseFromRecord(rec *domain.IdempotencyRecord) (Response, error) {
	headers, err := decodeHeaders(rec.ResponseHeaders)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: *rec.ResponseStatusCode,
		Headers:    headers,
		Body:       rec.ResponseBody,
	}, nil
}

// Txn is an open transaction that owns an idempotency key. It must end with
// Complete or Rollback; Rollback is a no-op after either, so
//
//	defer txn.Rollback()
//
// is always safe.
type Txn struct {
	tx     *gorm.DB
	userID string
	key    Key
	closed bool
}

// Tx returns the transaction that side effects must run on.
func (t *Txn) Tx() *gorm.DB { return t.tx }

// Complete stores resp for the key and commits. Any failure rolls the whole
// transaction back, side effects included, and is wrapped in ErrStorage.
func (t *Txn) Complete(ctx context.Context, resp Response) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true

	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		_ = t.tx.Rollback().Error
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	if err := repo.SaveIdempotencyResponse(ctx, t.tx, t.userID, t.key.String(), resp.StatusCode, headers, body); err != nil {
		_ = t.tx.Rollback().Error
		return fmt.Errorf("%w: save response: %w", ErrStorage, err)
	}
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	return nil
}

// Rollback aborts the transaction, releasing the key for a later retry.
func (t *Txn) Rollback() error {
	if t == nil || t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %w", ErrStorage, err)
	}
	return nil
}
