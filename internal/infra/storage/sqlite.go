// Package storage persists OHLCV bars in SQLite. The cache is keyed by
// (symbol, timeframe, timestamp); writes are idempotent upserts so refetching
// a range never duplicates rows. Concurrent readers are fine; writers should
// stay single per (symbol, timeframe) partition.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trader_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// BarRecord is the persisted form of a domain.Bar.
type BarRecord struct {
	Symbol    string    `gorm:"primaryKey;size:16"`
	Timeframe string    `gorm:"primaryKey;size:8"`
	Timestamp time.Time `gorm:"primaryKey"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// TableName keeps the table name stable regardless of struct renames.
func (BarRecord) TableName() string { return "bars" }

func (r *BarRecord) toBar() *domain.Bar {
	return &domain.Bar{
		Symbol:    r.Symbol,
		Timestamp: r.Timestamp.UTC(),
		Timeframe: domain.Timeframe(r.Timeframe),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// BarStore is the SQLite-backed bar cache.
type BarStore struct {
	db *gorm.DB
}

// NewBarStore opens (creating if needed) the bar database at dbPath.
func NewBarStore(dbPath string) (*BarStore, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&BarRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &BarStore{db: db}, nil
}

// SaveBars upserts bars by primary key and returns the number written.
func (s *BarStore) SaveBars(bars []*domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return 0, err
		}
		records = append(records, BarRecord{
			Symbol:    b.Symbol,
			Timeframe: string(b.Timeframe),
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"},
		},
		UpdateAll: true,
	}).Create(&records).Error
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// GetBars range-scans [start, end] for (symbol, timeframe), ordered by
// timestamp ascending.
func (s *BarStore) GetBars(symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Bar, error) {
	var records []BarRecord
	err := s.db.
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?",
			symbol, string(tf), start.UTC(), end.UTC()).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	bars := make([]*domain.Bar, 0, len(records))
	for i := range records {
		bars = append(bars, records[i].toBar())
	}
	return bars, nil
}

// LatestTimestamp returns the newest stored timestamp for (symbol, timeframe);
// ok=false when the partition is empty.
func (s *BarStore) LatestTimestamp(symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	var record BarRecord
	err := s.db.
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("timestamp DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return record.Timestamp.UTC(), true, nil
}

// BarCount returns the stored bar count for (symbol, timeframe).
func (s *BarStore) BarCount(symbol string, tf domain.Timeframe) (int64, error) {
	var count int64
	err := s.db.Model(&BarRecord{}).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Count(&count).Error
	return count, err
}

// Symbols lists all distinct symbols in the cache.
func (s *BarStore) Symbols() ([]string, error) {
	var symbols []string
	err := s.db.Model(&BarRecord{}).Distinct("symbol").Order("symbol").Pluck("symbol", &symbols).Error
	return symbols, err
}

// DeleteBars drops the (symbol, timeframe) partition.
func (s *BarStore) DeleteBars(symbol string, tf domain.Timeframe) error {
	return s.db.
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Delete(&BarRecord{}).Error
}

// Close releases the underlying connection pool.
func (s *BarStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
