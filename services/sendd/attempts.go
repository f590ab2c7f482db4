package sendd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt is the audit row written for every accepted submission.
type Attempt struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkflowID  string    `gorm:"index;not null"`
	Fingerprint string    `gorm:"index;not null"`
	AmountSat   int64     `gorm:"not null"`
	Outcome     string    `gorm:"index;not null"`
	Message     string
	StartedAt   time.Time
	FinishedAt  time.Time
	CreatedAt   time.Time
}

// AttemptStore persists submission attempts.
type AttemptStore struct {
	db *gorm.DB
}

// OpenAttemptStore connects to dsn. postgres:// and postgresql:// DSNs use the
// Postgres driver; everything else is treated as a SQLite path.
func OpenAttemptStore(dsn string) (*AttemptStore, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("sendd: audit dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return NewAttemptStore(db)
}

// NewAttemptStore wraps an existing connection and migrates the schema.
func NewAttemptStore(db *gorm.DB) (*AttemptStore, error) {
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("migrate attempts: %w", err)
	}
	return &AttemptStore{db: db}, nil
}

// Record inserts attempt, assigning an ID when missing.
func (s *AttemptStore) Record(ctx context.Context, attempt *Attempt) error {
	if s == nil {
		return nil
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ForWorkflow lists the attempts made within a workflow, oldest first.
func (s *AttemptStore) ForWorkflow(ctx context.Context, workflowID string) ([]Attempt, error) {
	var attempts []Attempt
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at asc").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// Close releases the underlying connection pool.
func (s *AttemptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
