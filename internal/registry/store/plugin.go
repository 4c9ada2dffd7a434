package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/notification-cache/internal/model"
)

// NotificationQuery narrows GetNotifications results.
type NotificationQuery struct {
	BucketID      string
	CreatedBefore *time.Time
	Limit         int
}

// LocalStore is the on-device persisted cache of notifications, buckets,
// media-cache metadata and settings.
type LocalStore interface {
	// Buckets
	GetAllBuckets(ctx context.Context) ([]model.Bucket, error)
	UpsertBuckets(ctx context.Context, buckets []model.Bucket) error
	DeleteBuckets(ctx context.Context, ids []string) error

	// Notifications
	GetAllNotifications(ctx context.Context) ([]model.Notification, error)
	GetNotifications(ctx context.Context, query NotificationQuery) ([]model.Notification, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	UpsertNotifications(ctx context.Context, notifications []model.Notification) error
	DeleteNotifications(ctx context.Context, ids []string) error

	// Media cache metadata
	ListMediaItems(ctx context.Context) ([]model.MediaItem, error)
	GetMediaItem(ctx context.Context, key string) (*model.MediaItem, error)
	UpsertMediaItem(ctx context.Context, item model.MediaItem) error
	DeleteMediaItems(ctx context.Context, keys []string) error
	TouchMediaItem(ctx context.Context, key string, at time.Time) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	Close() error
}

// Loader creates a LocalStore from config.
type Loader func(ctx context.Context) (LocalStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
