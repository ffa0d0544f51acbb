package repo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// newTestDB opens a fresh file-backed database per test, migrated unless
// bare is requested. File-backed so that multiple pool connections see the
// same data and the same locking as production.
func newTestDB(t *testing.T, bare ...bool) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(bare) == 0 || !bare[0] {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedSubscriber(t *testing.T, db *gorm.DB, email, status string) *domain.Subscriber {
	t.Helper()
	s := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "name " + email,
		Status:       status,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	return s
}

func seedIssue(t *testing.T, db *gorm.DB, title string, at time.Time) *domain.NewsletterIssue {
	t.Helper()
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       title,
		TextContent: "text " + title,
		HTMLContent: "<p>" + title + "</p>",
		PublishedAt: at,
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	return issue
}
