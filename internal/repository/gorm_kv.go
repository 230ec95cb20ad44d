package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVRecord is one persisted key-value row.
type KVRecord struct {
	Key       string    `gorm:"column:key;primaryKey;size:128"`
	Value     []byte    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (KVRecord) TableName() string {
	return "kv_records"
}

// GormKV stores values as rows of a single table, one row per key.
type GormKV struct {
	retrier
	db *gorm.DB
}

// NewGormKV creates a new repository instance.
func NewGormKV(db *gorm.DB, logger *zap.Logger) *GormKV {
	return &GormKV{retrier: newRetrier(logger.Named("gorm_kv")), db: db}
}

// AutoMigrate ensures the schema is available.
func (r *GormKV) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&KVRecord{})
}

// Get loads the value stored under key.
func (r *GormKV) Get(ctx context.Context, key string) ([]byte, error) {
	var record KVRecord
	err := r.executeWithRetry(ctx, "repository.gorm.get", key, func() error {
		err := r.db.WithContext(ctx).First(&record, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return record.Value, nil
}

// Put upserts the row for key in a single statement.
func (r *GormKV) Put(ctx context.Context, key string, value []byte) error {
	record := &KVRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return r.executeWithRetry(ctx, "repository.gorm.put", key, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(record).Error
	})
}
