package metrics

import (
	"context"
	"time"

	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
	"github.com/chirino/notification-cache/internal/registry/store"
)

// Wrap returns a LocalStore that records StoreLatency for every operation.
func Wrap(inner store.LocalStore) store.LocalStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.LocalStore
}

func observe(op string, start time.Time) {
	metrics.ObserveStore(op, start)
}

func (m *metricsStore) GetAllBuckets(ctx context.Context) ([]model.Bucket, error) {
	defer observe("get_all_buckets", time.Now())
	return m.inner.GetAllBuckets(ctx)
}

func (m *metricsStore) UpsertBuckets(ctx context.Context, buckets []model.Bucket) error {
	defer observe("upsert_buckets", time.Now())
	return m.inner.UpsertBuckets(ctx, buckets)
}

func (m *metricsStore) DeleteBuckets(ctx context.Context, ids []string) error {
	defer observe("delete_buckets", time.Now())
	return m.inner.DeleteBuckets(ctx, ids)
}

func (m *metricsStore) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	defer observe("get_all_notifications", time.Now())
	return m.inner.GetAllNotifications(ctx)
}

func (m *metricsStore) GetNotifications(ctx context.Context, query store.NotificationQuery) ([]model.Notification, error) {
	defer observe("get_notifications", time.Now())
	return m.inner.GetNotifications(ctx, query)
}

func (m *metricsStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	defer observe("get_notification", time.Now())
	return m.inner.GetNotification(ctx, id)
}

func (m *metricsStore) UpsertNotifications(ctx context.Context, notifications []model.Notification) error {
	defer observe("upsert_notifications", time.Now())
	return m.inner.UpsertNotifications(ctx, notifications)
}

func (m *metricsStore) DeleteNotifications(ctx context.Context, ids []string) error {
	defer observe("delete_notifications", time.Now())
	return m.inner.DeleteNotifications(ctx, ids)
}

func (m *metricsStore) ListMediaItems(ctx context.Context) ([]model.MediaItem, error) {
	defer observe("list_media_items", time.Now())
	return m.inner.ListMediaItems(ctx)
}

func (m *metricsStore) GetMediaItem(ctx context.Context, key string) (*model.MediaItem, error) {
	defer observe("get_media_item", time.Now())
	return m.inner.GetMediaItem(ctx, key)
}

func (m *metricsStore) UpsertMediaItem(ctx context.Context, item model.MediaItem) error {
	defer observe("upsert_media_item", time.Now())
	return m.inner.UpsertMediaItem(ctx, item)
}

func (m *metricsStore) DeleteMediaItems(ctx context.Context, keys []string) error {
	defer observe("delete_media_items", time.Now())
	return m.inner.DeleteMediaItems(ctx, keys)
}

func (m *metricsStore) TouchMediaItem(ctx context.Context, key string, at time.Time) error {
	defer observe("touch_media_item", time.Now())
	return m.inner.TouchMediaItem(ctx, key, at)
}

func (m *metricsStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	defer observe("get_setting", time.Now())
	return m.inner.GetSetting(ctx, key)
}

func (m *metricsStore) SetSetting(ctx context.Context, key, value string) error {
	defer observe("set_setting", time.Now())
	return m.inner.SetSetting(ctx, key, value)
}

func (m *metricsStore) DeleteSetting(ctx context.Context, key string) error {
	defer observe("delete_setting", time.Now())
	return m.inner.DeleteSetting(ctx, key)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
