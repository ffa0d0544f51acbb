package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ---------- test helpers ----------

func newWorkerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "delivery.db"))
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

// publish stores an issue at publishedAt and enqueues it for the given
// confirmed subscribers.
func publish(t *testing.T, db *gorm.DB, publishedAt time.Time, emails ...string) *domain.NewsletterIssue {
	t.Helper()
	for _, e := range emails {
		s := &domain.Subscriber{ID: uuid.NewString(), Email: e, Name: e, Status: domain.StatusConfirmed, SubscribedAt: publishedAt}
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed subscriber: %v", err)
		}
	}
	issue := &domain.NewsletterIssue{ID: uuid.NewString(), Title: "Issue", TextContent: "text", HTMLContent: "<p>html</p>", PublishedAt: publishedAt}
	if err := repo.CreateIssue(context.Background(), db, issue); err != nil {
		t.Fatalf("create issue: %v", err)
	}
	if _, err := repo.EnqueueDeliveryTasks(context.Background(), db, issue.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return issue
}

type fakeSender struct {
	mu    sync.Mutex
	sent  map[string]int
	errFn func(recipient string) error
}

func newFakeSender() *fakeSender { return &fakeSender{sent: map[string]int{}} }

func (f *fakeSender) Send(_ context.Context, to, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFn != nil {
		if err := f.errFn(to); err != nil {
			return err
		}
	}
	f.sent[to]++
	return nil
}

func (f *fakeSender) count(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[to]
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		n += c
	}
	return n
}

func pending(t *testing.T, db *gorm.DB) []domain.DeliveryTask {
	t.Helper()
	var tasks []domain.DeliveryTask
	if err := db.Order("id").Find(&tasks).Error; err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	return tasks
}

func metric(outcome string) float64 {
	return testutil.ToFloat64(tasksTotal.WithLabelValues(outcome))
}

// ---------- tests ----------

func TestTryExecuteTask_SendsAndDeletes(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "a@example.com", "b@example.com")
	sender := newFakeSender()
	w := NewWorker(db, sender, Config{MaxRetries: 3})
	ctx := context.Background()
	before := metric(resultSent)

	for i := 0; i < 2; i++ {
		out, err := w.TryExecuteTask(ctx)
		if err != nil || out != TaskCompleted {
			t.Fatalf("run %d: out=%v err=%v", i, out, err)
		}
	}
	out, err := w.TryExecuteTask(ctx)
	if err != nil || out != EmptyQueue {
		t.Fatalf("expected EmptyQueue, got %v %v", out, err)
	}

	if sender.count("a@example.com") != 1 || sender.count("b@example.com") != 1 {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
	if n := len(pending(t, db)); n != 0 {
		t.Fatalf("queue should be empty, %d left", n)
	}
	if d := metric(resultSent) - before; d != 2 {
		t.Fatalf("sent metric delta = %v", d)
	}
}

func TestTryExecuteTask_TransientFailureRetriesThenDiscards(t *testing.T) {
	db := newWorkerDB(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	publish(t, db, base, "a@example.com")

	sender := newFakeSender()
	sender.errFn = func(string) error { return email.Transient(errors.New("451 try later")) }

	w := NewWorker(db, sender, Config{MaxRetries: 2, RetryDelay: time.Minute})
	clock := base
	w.now = func() time.Time { return clock }
	ctx := context.Background()
	retriedBefore, discardedBefore := metric(resultRetried), metric(resultDiscarded)

	// Attempt 1 fails: retry_count 0 -> 1, due in 1m.
	if out, err := w.TryExecuteTask(ctx); err != nil || out != TaskCompleted {
		t.Fatalf("attempt 1: %v %v", out, err)
	}
	tasks := pending(t, db)
	if len(tasks) != 1 || tasks[0].RetryCount != 1 || tasks[0].LastError == nil {
		t.Fatalf("unexpected task after attempt 1: %+v", tasks)
	}
	if !tasks[0].ExecuteAfter.Equal(base.Add(time.Minute)) {
		t.Fatalf("execute_after = %v, want %v", tasks[0].ExecuteAfter, base.Add(time.Minute))
	}

	// Not due yet.
	if out, _ := w.TryExecuteTask(ctx); out != EmptyQueue {
		t.Fatalf("task should not be due, got %v", out)
	}

	// Attempt 2 fails: retry_count 1 -> 2, delay doubles.
	clock = base.Add(time.Minute)
	if out, err := w.TryExecuteTask(ctx); err != nil || out != TaskCompleted {
		t.Fatalf("attempt 2: %v %v", out, err)
	}
	tasks = pending(t, db)
	if len(tasks) != 1 || tasks[0].RetryCount != 2 || !tasks[0].ExecuteAfter.Equal(clock.Add(2*time.Minute)) {
		t.Fatalf("unexpected task after attempt 2: %+v", tasks)
	}

	// Attempt 3 fails with retries exhausted: discarded.
	clock = clock.Add(2 * time.Minute)
	if out, err := w.TryExecuteTask(ctx); err != nil || out != TaskCompleted {
		t.Fatalf("attempt 3: %v %v", out, err)
	}
	if n := len(pending(t, db)); n != 0 {
		t.Fatalf("exhausted task should be gone, %d left", n)
	}
	if d := metric(resultRetried) - retriedBefore; d != 2 {
		t.Fatalf("retried metric delta = %v", d)
	}
	if d := metric(resultDiscarded) - discardedBefore; d != 1 {
		t.Fatalf("discarded metric delta = %v", d)
	}
}

func TestTryExecuteTask_PermanentFailureDiscards(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "gone@example.com", "ok@example.com")

	sender := newFakeSender()
	sender.errFn = func(to string) error {
		if to == "gone@example.com" {
			return email.Permanent(errors.New("550 mailbox unavailable"))
		}
		return nil
	}
	w := NewWorker(db, sender, Config{MaxRetries: 5})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if out, err := w.TryExecuteTask(ctx); err != nil || out != TaskCompleted {
			t.Fatalf("run %d: %v %v", i, out, err)
		}
	}
	if n := len(pending(t, db)); n != 0 {
		t.Fatalf("permanent failure must not be retried, %d left", n)
	}
	if sender.count("ok@example.com") != 1 || sender.count("gone@example.com") != 0 {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
}

func TestTryExecuteTask_InvalidRecipientDiscardedWithoutSending(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "not-an-email")
	sender := newFakeSender()
	w := NewWorker(db, sender, Config{MaxRetries: 5})

	if out, err := w.TryExecuteTask(context.Background()); err != nil || out != TaskCompleted {
		t.Fatalf("run: %v %v", out, err)
	}
	if sender.total() != 0 {
		t.Fatalf("invalid recipient must not be sent to")
	}
	if n := len(pending(t, db)); n != 0 {
		t.Fatalf("invalid recipient task should be discarded")
	}
}

func TestTryExecuteTask_ClaimErrorOnClosedDB(t *testing.T) {
	db := newWorkerDB(t)
	w := NewWorker(db, newFakeSender(), Config{})
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	before := testutil.ToFloat64(claimErrors)
	out, err := w.TryExecuteTask(context.Background())
	if err == nil || out != TaskDispatchError {
		t.Fatalf("expected dispatch error, got %v %v", out, err)
	}
	if d := testutil.ToFloat64(claimErrors) - before; d != 1 {
		t.Fatalf("claim error metric delta = %v", d)
	}
}

func TestConcurrentWorkers_EachTaskSentOnce(t *testing.T) {
	db := newWorkerDB(t)
	var emails []string
	for i := 0; i < 20; i++ {
		emails = append(emails, fmt.Sprintf("s%02d@example.com", i))
	}
	publish(t, db, time.Now().UTC().Add(-time.Second), emails...)

	sender := newFakeSender()
	const workers = 3
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := NewWorker(db, sender, Config{Name: fmt.Sprintf("w%d", i), MaxRetries: 1})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				out, err := w.TryExecuteTask(context.Background())
				if err != nil {
					t.Errorf("%s: %v", w, err)
					return
				}
				if out == EmptyQueue {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range emails {
		if c := sender.count(e); c != 1 {
			t.Fatalf("%s sent %d times", e, c)
		}
	}
	if n := len(pending(t, db)); n != 0 {
		t.Fatalf("%d tasks left", n)
	}
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "a@example.com", "b@example.com", "c@example.com")
	sender := newFakeSender()
	w := NewWorker(db, sender, Config{IdleMin: 5 * time.Millisecond, IdleMax: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for sender.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if sender.total() != 3 {
		t.Fatalf("expected 3 sends, got %d", sender.total())
	}
}

func TestRunOne_FinishesTaskAfterShutdownSignal(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "a@example.com")
	sender := newFakeSender()
	w := NewWorker(db, sender, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := w.runOne(ctx)
	if err != nil || out != TaskCompleted {
		t.Fatalf("in-flight task should complete despite cancellation: %v %v", out, err)
	}
	if sender.count("a@example.com") != 1 {
		t.Fatalf("task not sent")
	}
}

func TestRetryDelay_Saturates(t *testing.T) {
	w := NewWorker(nil, nil, Config{RetryDelay: time.Second})
	if got := w.retryDelay(0); got != time.Second {
		t.Fatalf("retryDelay(0) = %v", got)
	}
	if got := w.retryDelay(3); got != 8*time.Second {
		t.Fatalf("retryDelay(3) = %v", got)
	}
	if got := w.retryDelay(1000); got <= 0 {
		t.Fatalf("retryDelay must not overflow, got %v", got)
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{TaskCompleted: "task_completed", EmptyQueue: "empty_queue", TaskDispatchError: "dispatch_error"} {
		if o.String() != want {
			t.Fatalf("%d.String() = %q", o, o.String())
		}
	}
}

// blockingSender parks every Send until release is closed.
type blockingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSender) Send(ctx context.Context, _, _, _, _ string) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return email.Transient(ctx.Err())
	}
}

func TestTryExecuteTask_SlowSendDoesNotBlockPublishing(t *testing.T) {
	db := newWorkerDB(t)
	first := publish(t, db, time.Now().UTC().Add(-time.Second), "a@example.com")

	sender := &blockingSender{entered: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWorker(db, sender, Config{Name: "slow", TaskTimeout: time.Minute})

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := w.TryExecuteTask(context.Background())
		done <- result{out, err}
	}()

	select {
	case <-sender.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("send never started")
	}

	// The in-flight task is hidden from other workers.
	other := NewWorker(db, newFakeSender(), Config{Name: "other"})
	if out, err := other.TryExecuteTask(context.Background()); err != nil || out != EmptyQueue {
		t.Fatalf("leased task must not be claimable: %v %v", out, err)
	}

	// While the email is in flight a new issue must commit promptly.
	start := time.Now()
	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := db.WithContext(writeCtx).Transaction(func(tx *gorm.DB) error {
		issue := &domain.NewsletterIssue{ID: uuid.NewString(), Title: "Next", TextContent: "t", HTMLContent: "<p>t</p>", PublishedAt: time.Now().UTC()}
		if err := repo.CreateIssue(writeCtx, tx, issue); err != nil {
			return err
		}
		_, err := repo.EnqueueDeliveryTasks(writeCtx, tx, issue.ID)
		return err
	})
	if err != nil {
		t.Fatalf("publish during send: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish waited %v for the in-flight send", elapsed)
	}

	close(sender.release)
	select {
	case r := <-done:
		if r.err != nil || r.out != TaskCompleted {
			t.Fatalf("in-flight task: %v %v", r.out, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not finish")
	}
	if n, _ := repo.CountPendingDeliveriesForIssue(context.Background(), db, first.ID); n != 0 {
		t.Fatalf("sent task should be deleted, %d left", n)
	}
}

func TestTryExecuteTask_BadAPITokenKeepsQueue(t *testing.T) {
	db := newWorkerDB(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	publish(t, db, base, "a@example.com", "b@example.com", "c@example.com")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ErrorCode":10,"Message":"Bad or missing Server API token."}`))
	}))
	defer srv.Close()

	sender := email.NewBreakerSender(
		email.NewAPISender(email.APIConfig{BaseURL: srv.URL, Token: "wrong", From: "news@example.com"}),
		email.BreakerConfig{Name: "bad-token", FailureThreshold: 2, Timeout: time.Hour},
	)
	w := NewWorker(db, sender, Config{MaxRetries: 1, RetryDelay: time.Minute})
	clock := base
	w.now = func() time.Time { return clock }
	discardedBefore := metric(resultDiscarded)

	// Two rounds over the whole queue: the first two calls trip the breaker,
	// everything after fails fast without using up retries.
	for round := 0; round < 2; round++ {
		for i := 0; i < 3; i++ {
			if out, err := w.TryExecuteTask(context.Background()); err != nil || out != TaskCompleted {
				t.Fatalf("round %d run %d: %v %v", round, i, out, err)
			}
		}
		clock = clock.Add(time.Hour)
	}

	if n := len(pending(t, db)); n != 3 {
		t.Fatalf("auth failures must not drain the queue, %d left", n)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("API called %d times, want 2 before the breaker opened", got)
	}
	if d := metric(resultDiscarded) - discardedBefore; d != 0 {
		t.Fatalf("discarded %v tasks on a bad token", d)
	}
}

func TestTryExecuteTask_LockedClaimPath(t *testing.T) {
	db := newWorkerDB(t)
	publish(t, db, time.Now().UTC().Add(-time.Second), "a@example.com")
	sender := newFakeSender()
	w := NewWorker(db, sender, Config{})
	w.leased = false

	if out, err := w.TryExecuteTask(context.Background()); err != nil || out != TaskCompleted {
		t.Fatalf("run: %v %v", out, err)
	}
	if out, err := w.TryExecuteTask(context.Background()); err != nil || out != EmptyQueue {
		t.Fatalf("expected EmptyQueue, got %v %v", out, err)
	}
	if sender.count("a@example.com") != 1 {
		t.Fatalf("task not sent")
	}
}

func TestNewWorker_LeasesOnSQLite(t *testing.T) {
	if w := NewWorker(newWorkerDB(t), newFakeSender(), Config{}); !w.leased {
		t.Fatalf("sqlite workers must claim with a lease")
	}
}
