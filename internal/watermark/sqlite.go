package watermark

import (
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Entry is one watermark row. Each connector instance owns one key.
type Entry struct {
	Name      string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "watermarks" }

// SQLiteStore keeps the watermark in a row of a SQLite database, which lets
// several connectors share one state file under distinct keys.
type SQLiteStore struct {
	db  *gorm.DB
	key string
}

func OpenSQLite(path, key string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening watermark database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating watermark database %s: %w", path, err)
	}
	log.Debug().Str("path", path).Str("key", key).Msg("watermark: sqlite store ready")
	return &SQLiteStore{db: db, key: key}, nil
}

func (s *SQLiteStore) Load() (string, bool, error) {
	var entry Entry
	err := s.db.Where("name = ?", s.key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *SQLiteStore) Save(value string) error {
	entry := Entry{Name: s.key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *SQLiteStore) Reset() error {
	return s.db.Where("name = ?", s.key).Delete(&Entry{}).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
