package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
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
		s := &domain.Subscriber{
			ID:           uuid.NewString(),
			Email:        e,
			Name:         e,
			Status:       domain.StatusConfirmed,
			SubscribedAt: time.Now().UTC(),
		}
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed subscriber: %v", err)
		}
	}
}

type sentMail struct {
	To, Subject, HTML, Text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, subject, html, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMail{To: to, Subject: subject, HTML: html, Text: text})
	return nil
}

func (r *recordingSender) Sent() []sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMail(nil), r.sent...)
}
