package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/taskdesk/taskdesk/internal/session"
)

// Record is one persisted value in the key/value table
type Record struct {
	Name      string    `gorm:"primaryKey;type:varchar(128)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Record) TableName() string {
	return "session_records"
}

// SQLiteRepository keeps the session in a local SQLite database
type SQLiteRepository struct {
	db  *gorm.DB
	key string
}

// NewSQLiteRepository opens (and migrates) the database at path
func NewSQLiteRepository(path, key string, zlog zerolog.Logger) (*SQLiteRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// busy_timeout lets concurrent CLI invocations wait instead of failing
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		zlog.Warn().Err(err).Msg("Failed to apply pragma")
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}

	return &SQLiteRepository{db: db, key: key}, nil
}

func (s *SQLiteRepository) Load(ctx context.Context) (*session.Blob, error) {
	var rec Record
	if err := s.db.WithContext(ctx).Where("name = ?", s.key).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	return decode([]byte(rec.Value))
}

func (s *SQLiteRepository) Save(ctx context.Context, blob *session.Blob) error {
	if blob.Empty() {
		return s.db.WithContext(ctx).Where("name = ?", s.key).Delete(&Record{}).Error
	}

	data, err := encode(blob)
	if err != nil {
		return err
	}

	rec := Record{Name: s.key, Value: string(data)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *SQLiteRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
