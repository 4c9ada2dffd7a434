// Package gormstore implements the local store on top of GORM. The sqlite and
// postgres plugins share this implementation and differ only in the dialector.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/notification-cache/internal/model"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	batchSize = 200
	// keeps IN (...) lists under the sqlite host-parameter limit
	deleteChunk = 500
)

// Models lists every table owned by the local store, in migration order.
func Models() []any {
	return []any{
		&model.Bucket{},
		&model.Notification{},
		&model.MediaItem{},
		&model.Setting{},
	}
}

// Migrate creates or updates the local store schema.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("gormstore: auto-migrate: %w", err)
	}
	return nil
}

// Store implements registrystore.LocalStore using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	stopGauges context.CancelFunc
	gaugesDone chan struct{}
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) GetAllBuckets(ctx context.Context) ([]model.Bucket, error) {
	var buckets []model.Bucket
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list buckets: %w", err)
	}
	return buckets, nil
}

func (s *Store) UpsertBuckets(ctx context.Context, buckets []model.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	for i := range buckets {
		if buckets[i].ID == "" {
			return &registrystore.ValidationError{Field: "bucket.id", Message: "must not be empty"}
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(buckets, batchSize).Error
	if err != nil {
		return fmt.Errorf("gormstore: upsert buckets: %w", err)
	}
	return nil
}

func (s *Store) DeleteBuckets(ctx context.Context, ids []string) error {
	return deleteByColumn(ctx, s.db, &model.Bucket{}, "id", ids)
}

func (s *Store) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	return s.GetNotifications(ctx, registrystore.NotificationQuery{})
}

func (s *Store) GetNotifications(ctx context.Context, query registrystore.NotificationQuery) ([]model.Notification, error) {
	tx := s.db.WithContext(ctx).Order("created_at DESC, id ASC")
	if query.BucketID != "" {
		tx = tx.Where("bucket_id = ?", query.BucketID)
	}
	if query.CreatedBefore != nil {
		tx = tx.Where("created_at < ?", *query.CreatedBefore)
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}
	var notifications []model.Notification
	if err := tx.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "notification", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get notification: %w", err)
	}
	return &n, nil
}

func (s *Store) UpsertNotifications(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	now := s.now()
	for i := range notifications {
		if notifications[i].ID == "" {
			return &registrystore.ValidationError{Field: "notification.id", Message: "must not be empty"}
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
		if notifications[i].UpdatedAt.IsZero() {
			notifications[i].UpdatedAt = notifications[i].CreatedAt
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(notifications, batchSize).Error
	if err != nil {
		return fmt.Errorf("gormstore: upsert notifications: %w", err)
	}
	return nil
}

func (s *Store) DeleteNotifications(ctx context.Context, ids []string) error {
	return deleteByColumn(ctx, s.db, &model.Notification{}, "id", ids)
}

func (s *Store) ListMediaItems(ctx context.Context) ([]model.MediaItem, error) {
	var items []model.MediaItem
	if err := s.db.WithContext(ctx).Order("downloaded_at DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list media items: %w", err)
	}
	return items, nil
}

func (s *Store) GetMediaItem(ctx context.Context, key string) (*model.MediaItem, error) {
	var item model.MediaItem
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "media item", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get media item: %w", err)
	}
	return &item, nil
}

func (s *Store) UpsertMediaItem(ctx context.Context, item model.MediaItem) error {
	if item.Key == "" {
		return &registrystore.ValidationError{Field: "media.key", Message: "must not be empty"}
	}
	if item.DownloadedAt.IsZero() {
		item.DownloadedAt = s.now()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&item).Error
	if err != nil {
		return fmt.Errorf("gormstore: upsert media item: %w", err)
	}
	return nil
}

func (s *Store) DeleteMediaItems(ctx context.Context, keys []string) error {
	return deleteByColumn(ctx, s.db, &model.MediaItem{}, "cache_key", keys)
}

func (s *Store) TouchMediaItem(ctx context.Context, key string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.MediaItem{}).
		Where("cache_key = ?", key).
		Update("last_accessed_at", at)
	if res.Error != nil {
		return fmt.Errorf("gormstore: touch media item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "media item", ID: key}
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var setting model.Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("gormstore: get setting %s: %w", key, err)
	}
	return setting.Value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	setting := model.Setting{Key: key, Value: value, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&setting).Error
	if err != nil {
		return fmt.Errorf("gormstore: set setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("setting_key = ?", key).Delete(&model.Setting{}).Error; err != nil {
		return fmt.Errorf("gormstore: delete setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.stopGauges != nil {
		s.stopGauges()
		<-s.gaugesDone
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func deleteByColumn(ctx context.Context, db *gorm.DB, table any, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(values); start += deleteChunk {
			end := min(start+deleteChunk, len(values))
			if err := tx.Where(column+" IN ?", values[start:end]).Delete(table).Error; err != nil {
				return fmt.Errorf("gormstore: delete by %s: %w", column, err)
			}
		}
		return nil
	})
}

var _ registrystore.LocalStore = (*Store)(nil)
