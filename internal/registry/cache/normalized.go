package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
)

// Entity types stored by the typed helpers.
const (
	TypeBucket       = "bucket"
	TypeNotification = "notification"
)

// PublishBuckets writes buckets as entities and replaces the app-state list.
func PublishBuckets(ctx context.Context, c NormalizedCache, buckets []model.Bucket) error {
	entities := make(map[string][]byte, len(buckets))
	refs := make([]Ref, 0, len(buckets))
	for _, b := range buckets {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("cache: encode bucket %s: %w", b.ID, err)
		}
		entities[b.ID] = data
		refs = append(refs, Ref{Type: TypeBucket, ID: b.ID})
	}
	if err := c.PutEntities(ctx, TypeBucket, entities); err != nil {
		return err
	}
	return c.SetList(ctx, ListAppState, refs)
}

// LoadBuckets reads the app-state list. ok is false when the list is absent
// or any referenced entity has been evicted.
func LoadBuckets(ctx context.Context, c NormalizedCache) ([]model.Bucket, bool, error) {
	return loadList[model.Bucket](ctx, c, ListAppState)
}

// PublishNotifications writes notifications as entities and replaces the notifications list.
func PublishNotifications(ctx context.Context, c NormalizedCache, notifications []model.Notification) error {
	entities := make(map[string][]byte, len(notifications))
	refs := make([]Ref, 0, len(notifications))
	for _, n := range notifications {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("cache: encode notification %s: %w", n.ID, err)
		}
		if _, dup := entities[n.ID]; !dup {
			refs = append(refs, Ref{Type: TypeNotification, ID: n.ID})
		}
		entities[n.ID] = data
	}
	if err := c.PutEntities(ctx, TypeNotification, entities); err != nil {
		return err
	}
	return c.SetList(ctx, ListNotifications, refs)
}

// LoadNotifications reads the notifications list.
func LoadNotifications(ctx context.Context, c NormalizedCache) ([]model.Notification, bool, error) {
	return loadList[model.Notification](ctx, c, ListNotifications)
}

// EvictNotifications removes notification entities and drops them from the list.
func EvictNotifications(ctx context.Context, c NormalizedCache, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.DeleteEntities(ctx, TypeNotification, ids...); err != nil {
		return err
	}
	refs, ok, err := c.GetList(ctx, ListNotifications)
	if err != nil || !ok {
		return err
	}
	kept := slices.DeleteFunc(refs, func(r Ref) bool {
		return r.Type == TypeNotification && slices.Contains(ids, r.ID)
	})
	return c.SetList(ctx, ListNotifications, kept)
}

func loadList[T any](ctx context.Context, c NormalizedCache, key string) ([]T, bool, error) {
	refs, ok, err := c.GetList(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.CountCacheLookup(false)
		return nil, false, nil
	}
	out := make([]T, 0, len(refs))
	for _, ref := range refs {
		data, found, err := c.GetEntity(ctx, ref.Type, ref.ID)
		if err != nil {
			return nil, false, err
		}
		if !found {
			metrics.CountCacheLookup(false)
			return nil, false, nil
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, false, fmt.Errorf("cache: decode %s: %w", ref, err)
		}
		out = append(out, v)
	}
	metrics.CountCacheLookup(true)
	return out, true, nil
}
