package handlers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
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

func seedConfirmed(t *testing.T, db *gorm.DB, emails ...string) {
	t.Helper()
	for _, e := range emails {
		if err := db.Create(&domain.Subscriber{
			ID:           uuid.NewString(),
			Email:        e,
			Name:         e,
			Status:       domain.StatusConfirmed,
			SubscribedAt: time.Now().UTC(),
		}).Error; err != nil {
			t.Fatalf("seed subscriber: %v", err)
		}
	}
}

// ---------- email stub ----------

type capturedMail struct{ To, Text string }

type captureSender struct {
	mu   sync.Mutex
	sent []capturedMail
}

func (s *captureSender) Send(_ context.Context, to, _, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, capturedMail{To: to, Text: text})
	return nil
}

func (s *captureSender) last() capturedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return capturedMail{}
	}
	return s.sent[len(s.sent)-1]
}

// ---------- service stub for error paths ----------

type stubNews struct {
	publishErr error
	listErr    error
	statsErr   error
	pending    int64
}

func (s stubNews) Publish(context.Context, string, idempotency.Key, services.IssueInput, services.Responder) (services.PublishResult, error) {
	return services.PublishResult{}, s.publishErr
}

func (s stubNews) ListIssues(context.Context, int, int) ([]domain.NewsletterIssue, int64, error) {
	return nil, 0, s.listErr
}

func (s stubNews) IssuesStats(context.Context) (int64, *time.Time, error) {
	return 0, nil, s.statsErr
}

func (s stubNews) PendingDeliveries(context.Context) (int64, error) {
	return s.pending, s.listErr
}

// ---------- router ----------

func newTestRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.IdempotencyValidator(nil))

	r.POST("/subscriptions", h.Subscribe)
	r.GET("/subscriptions/confirm", h.ConfirmSubscription)

	admin := r.Group("/admin", middleware.RequireUser())
	admin.POST("/newsletters", h.PublishNewsletter)
	admin.GET("/newsletters", h.ListNewsletters)
	admin.GET("/deliveries", h.PendingDeliveries)
	return r
}
