package idempotency

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	k, err := ParseKey(s)
	if err != nil {
		t.Fatalf("ParseKey(%q): %v", s, err)
	}
	return k
}

func sampleResponse() Response {
	return Response{
		StatusCode: http.StatusSeeOther,
		Headers: []HeaderPair{
			{Name: "Location", Value: "/admin/newsletters"},
			{Name: "Content-Type", Value: "application/json; charset=utf-8"},
		},
		Body: []byte(`{"issue_id":"x","message":"published"}`),
	}
}

func TestBeginOrReplay_StartCompleteThenReplay(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "abc")

	startsBefore := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeStart))
	replaysBefore := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeReplay))

	out, err := s.BeginOrReplay(ctx, "U1", key)
	if err != nil {
		t.Fatalf("BeginOrReplay: %v", err)
	}
	if out.Txn == nil || out.Replay != nil {
		t.Fatalf("expected Start outcome, got %+v", out)
	}
	defer out.Txn.Rollback()

	want := sampleResponse()
	if err := out.Txn.Complete(ctx, want); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	for i := 0; i < 2; i++ {
		again, err := s.BeginOrReplay(ctx, "U1", key)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if again.Replay == nil || again.Txn != nil {
			t.Fatalf("expected Replay outcome, got %+v", again)
		}
		if !reflect.DeepEqual(*again.Replay, want) {
			t.Fatalf("replay mismatch:\n got %+v\nwant %+v", *again.Replay, want)
		}
	}

	if d := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeStart)) - startsBefore; d != 1 {
		t.Fatalf("start metric delta = %v", d)
	}
	if d := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeReplay)) - replaysBefore; d != 2 {
		t.Fatalf("replay metric delta = %v", d)
	}

	ok, err := s.Lookup(ctx, "U1", "abc")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
}

func TestBeginOrReplay_KeysAreScopedPerUser(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "shared")

	a, err := s.BeginOrReplay(ctx, "U1", key)
	if err != nil || a.Txn == nil {
		t.Fatalf("U1: %+v %v", a, err)
	}
	if err := a.Txn.Complete(ctx, sampleResponse()); err != nil {
		t.Fatalf("U1 complete: %v", err)
	}

	b, err := s.BeginOrReplay(ctx, "U2", key)
	if err != nil || b.Txn == nil {
		t.Fatalf("U2 should start fresh: %+v %v", b, err)
	}
	_ = b.Txn.Rollback()
}

func TestBeginOrReplay_PendingRecordConflicts(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()

	// A committed placeholder looks exactly like a request still in flight.
	if err := db.Create(&domain.IdempotencyRecord{UserID: "U1", IdempotencyKey: "busy", CreatedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	before := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeConflict))
	_, err := s.BeginOrReplay(ctx, "U1", mustKey(t, "busy"))
	if !errors.Is(err, ErrConflictRetryLater) {
		t.Fatalf("expected ErrConflictRetryLater, got %v", err)
	}
	if d := testutil.ToFloat64(outcomesTotal.WithLabelValues(outcomeConflict)) - before; d != 1 {
		t.Fatalf("conflict metric delta = %v", d)
	}

	ok, err := s.Lookup(ctx, "U1", "busy")
	if err != nil || ok {
		t.Fatalf("pending record must not count as replayable: ok=%v err=%v", ok, err)
	}
}

func TestTxn_RollbackReleasesKeyAndSideEffects(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "retry-me")

	out, err := s.BeginOrReplay(ctx, "U1", key)
	if err != nil || out.Txn == nil {
		t.Fatalf("start: %+v %v", out, err)
	}
	issue := &domain.NewsletterIssue{ID: "i1", Title: "t", TextContent: "x", HTMLContent: "<p>x</p>", PublishedAt: time.Now().UTC()}
	if err := out.Txn.Tx().Create(issue).Error; err != nil {
		t.Fatalf("side effect: %v", err)
	}
	if err := out.Txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := out.Txn.Rollback(); err != nil {
		t.Fatalf("second Rollback should be a no-op: %v", err)
	}
	if err := out.Txn.Complete(ctx, sampleResponse()); !errors.Is(err, ErrTxnClosed) {
		t.Fatalf("Complete after Rollback: %v", err)
	}

	var n int64
	db.Model(&domain.NewsletterIssue{}).Count(&n)
	if n != 0 {
		t.Fatalf("side effect survived rollback: %d issues", n)
	}

	again, err := s.BeginOrReplay(ctx, "U1", key)
	if err != nil || again.Txn == nil {
		t.Fatalf("key should be free after rollback: %+v %v", again, err)
	}
	_ = again.Txn.Rollback()
}

func TestTxn_CompleteCommitsSideEffects(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()

	out, err := s.BeginOrReplay(ctx, "U1", mustKey(t, "k"))
	if err != nil || out.Txn == nil {
		t.Fatalf("start: %+v %v", out, err)
	}
	defer out.Txn.Rollback()

	issue := &domain.NewsletterIssue{ID: "i1", Title: "t", TextContent: "x", HTMLContent: "<p>x</p>", PublishedAt: time.Now().UTC()}
	if err := out.Txn.Tx().Create(issue).Error; err != nil {
		t.Fatalf("side effect: %v", err)
	}
	if err := out.Txn.Complete(ctx, Response{StatusCode: http.StatusNoContent}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := out.Txn.Complete(ctx, sampleResponse()); !errors.Is(err, ErrTxnClosed) {
		t.Fatalf("second Complete: %v", err)
	}

	var n int64
	db.Model(&domain.NewsletterIssue{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected committed issue, got %d", n)
	}

	replay, err := s.BeginOrReplay(ctx, "U1", mustKey(t, "k"))
	if err != nil || replay.Replay == nil {
		t.Fatalf("expected replay: %+v %v", replay, err)
	}
	if replay.Replay.StatusCode != http.StatusNoContent || len(replay.Replay.Body) != 0 || len(replay.Replay.Headers) != 0 {
		t.Fatalf("unexpected replay: %+v", replay.Replay)
	}
}

func TestBeginOrReplay_ConcurrentDuplicateWaitsThenReplays(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	ctx := context.Background()
	key := mustKey(t, "race")

	first, err := s.BeginOrReplay(ctx, "U1", key)
	if err != nil || first.Txn == nil {
		t.Fatalf("first: %+v %v", first, err)
	}

	var (
		wg     sync.WaitGroup
		second Outcome
		secErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secErr = s.BeginOrReplay(ctx, "U1", key)
	}()

	// Give the duplicate a moment to block on the held key.
	time.Sleep(100 * time.Millisecond)
	want := sampleResponse()
	if err := first.Txn.Complete(ctx, want); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	wg.Wait()

	if secErr != nil {
		t.Fatalf("duplicate: %v", secErr)
	}
	if second.Replay == nil || !reflect.DeepEqual(*second.Replay, want) {
		t.Fatalf("duplicate should replay the stored response, got %+v", second)
	}
}

func TestBeginOrReplay_StorageFailure(t *testing.T) {
	db := newStoreDB(t)
	s := NewStore(db)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	_, err := s.BeginOrReplay(context.Background(), "U1", mustKey(t, "k"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, err := s.Lookup(context.Background(), "U1", "k"); !errors.Is(err, ErrStorage) {
		t.Fatalf("Lookup: expected ErrStorage, got %v", err)
	}
}

func TestBeginOrReplay_ZeroKey(t *testing.T) {
	s := NewStore(newStoreDB(t))
	if _, err := s.BeginOrReplay(context.Background(), "U1", Key{}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
