// Package reconcile merges server state into the local store and republishes
// it to the normalized cache.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/model"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
)

// Remote fetches the server's current state.
type Remote interface {
	FetchBuckets(ctx context.Context) ([]model.Bucket, error)
	FetchNotifications(ctx context.Context) ([]model.Notification, error)
}

// RefreshTimings reports how long the fetch and the merge took.
type RefreshTimings struct {
	Network time.Duration
	Merge   time.Duration
}

// MergeResult counts what a network refresh changed.
type MergeResult struct {
	Upserted       int
	Deleted        int
	Kept           int
	BucketsDeleted int
}

// ImagePrefetcher queues downloads for the images of merged notifications.
type ImagePrefetcher interface {
	PrefetchNotificationImages(ctx context.Context, notifications []model.Notification) (int, error)
}

type Refresher struct {
	store  registrystore.LocalStore
	cache  registrycache.NormalizedCache
	remote Remote
	media  ImagePrefetcher
}

func New(store registrystore.LocalStore, cache registrycache.NormalizedCache, remote Remote) *Refresher {
	return &Refresher{store: store, cache: cache, remote: remote}
}

// SetImagePrefetcher makes every network merge queue the images of the rows
// it upserted.
func (r *Refresher) SetImagePrefetcher(media ImagePrefetcher) { r.media = media }

// RefreshAll republishes the local store to the cache when cacheOnly is set;
// otherwise it fetches from the server, merges, and then republishes.
func (r *Refresher) RefreshAll(ctx context.Context, cacheOnly bool) (RefreshTimings, error) {
	var timings RefreshTimings
	if cacheOnly || r.remote == nil {
		return timings, r.publish(ctx)
	}

	start := time.Now()
	buckets, err := r.remote.FetchBuckets(ctx)
	if err != nil {
		return timings, fmt.Errorf("reconcile: fetch buckets: %w", err)
	}
	notifications, err := r.remote.FetchNotifications(ctx)
	if err != nil {
		return timings, fmt.Errorf("reconcile: fetch notifications: %w", err)
	}
	timings.Network = time.Since(start)

	start = time.Now()
	result, err := r.merge(ctx, buckets, notifications)
	if err != nil {
		return timings, err
	}
	if err := r.publish(ctx); err != nil {
		return timings, err
	}
	timings.Merge = time.Since(start)
	log.Debug("Reconcile: merged server state",
		"upserted", result.Upserted, "deleted", result.Deleted, "kept", result.Kept,
		"bucketsDeleted", result.BucketsDeleted)
	return timings, nil
}

func (r *Refresher) merge(ctx context.Context, remoteBuckets []model.Bucket, remote []model.Notification) (MergeResult, error) {
	var res MergeResult
	local, err := r.store.GetAllNotifications(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: load local notifications: %w", err)
	}
	merged, deleted, kept := MergeNotifications(local, remote)
	res.Upserted, res.Deleted, res.Kept = len(merged), len(deleted), kept

	if err := r.store.UpsertNotifications(ctx, merged); err != nil {
		return res, fmt.Errorf("reconcile: upsert notifications: %w", err)
	}
	if len(deleted) > 0 {
		if err := r.store.DeleteNotifications(ctx, deleted); err != nil {
			return res, fmt.Errorf("reconcile: delete notifications: %w", err)
		}
		if r.cache != nil {
			if err := registrycache.EvictNotifications(ctx, r.cache, deleted); err != nil {
				log.Warn("Reconcile: cache eviction failed", "err", err)
			}
		}
	}

	if err := r.store.UpsertBuckets(ctx, remoteBuckets); err != nil {
		return res, fmt.Errorf("reconcile: upsert buckets: %w", err)
	}
	goneBuckets, err := r.goneBuckets(ctx, remoteBuckets)
	if err != nil {
		return res, err
	}
	if err := r.store.DeleteBuckets(ctx, goneBuckets); err != nil {
		return res, fmt.Errorf("reconcile: delete buckets: %w", err)
	}
	res.BucketsDeleted = len(goneBuckets)

	if r.media != nil {
		queued, err := r.media.PrefetchNotificationImages(ctx, merged)
		if err != nil {
			log.Warn("Reconcile: image prefetch failed", "err", err)
		} else if queued > 0 {
			log.Debug("Reconcile: queued notification images", "count", queued)
		}
	}
	return res, nil
}

// goneBuckets lists local buckets the server no longer returns. An empty
// remote list deletes nothing, and a bucket still holding local
// notifications is kept.
func (r *Refresher) goneBuckets(ctx context.Context, remoteBuckets []model.Bucket) ([]string, error) {
	if len(remoteBuckets) == 0 {
		return nil, nil
	}
	localBuckets, err := r.store.GetAllBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load local buckets: %w", err)
	}
	remoteIDs := make(map[string]struct{}, len(remoteBuckets))
	for _, b := range remoteBuckets {
		remoteIDs[b.ID] = struct{}{}
	}
	var gone []string
	for _, b := range localBuckets {
		if _, ok := remoteIDs[b.ID]; ok {
			continue
		}
		inUse, err := r.store.GetNotifications(ctx, registrystore.NotificationQuery{BucketID: b.ID, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("reconcile: notifications of bucket %s: %w", b.ID, err)
		}
		if len(inUse) > 0 {
			continue
		}
		gone = append(gone, b.ID)
	}
	return gone, nil
}

// MergeNotifications combines local and remote rows. It returns the rows to
// upsert, the IDs to delete and how many local rows were left untouched.
//
//   - Remote rows are de-duplicated by ID, keeping the latest UpdatedAt.
//   - A remote row replaces the local one when remote.UpdatedAt >= local.UpdatedAt;
//     either way the newer ReadAt survives and the row is marked Synced.
//   - A Synced local row absent remotely is deleted when it was created at or
//     after the oldest remote row; older rows are outside the server's window.
//   - Unsynced local rows are never deleted.
func MergeNotifications(local, remote []model.Notification) (upserts []model.Notification, deleted []string, kept int) {
	localByID := make(map[string]model.Notification, len(local))
	for _, n := range local {
		localByID[n.ID] = n
	}

	remoteByID := make(map[string]model.Notification, len(remote))
	order := make([]string, 0, len(remote))
	var oldest time.Time
	for _, n := range remote {
		if prev, dup := remoteByID[n.ID]; dup {
			if n.UpdatedAt.After(prev.UpdatedAt) {
				remoteByID[n.ID] = n
			}
			continue
		}
		remoteByID[n.ID] = n
		order = append(order, n.ID)
		if oldest.IsZero() || n.CreatedAt.Before(oldest) {
			oldest = n.CreatedAt
		}
	}

	for _, id := range order {
		rn := remoteByID[id]
		row := rn
		if ln, ok := localByID[id]; ok {
			if ln.UpdatedAt.After(rn.UpdatedAt) {
				row = ln
			}
			row.ReadAt = newer(ln.ReadAt, rn.ReadAt)
		}
		row.Synced = true
		upserts = append(upserts, row)
	}

	for _, ln := range local {
		if _, ok := remoteByID[ln.ID]; ok {
			continue
		}
		if ln.Synced && !oldest.IsZero() && !ln.CreatedAt.Before(oldest) {
			deleted = append(deleted, ln.ID)
			continue
		}
		kept++
	}
	return upserts, deleted, kept
}

func newer(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}

// publish writes the store's buckets and notifications to the cache lists
// and drops orphaned entities.
func (r *Refresher) publish(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	buckets, err := r.store.GetAllBuckets(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: load buckets: %w", err)
	}
	notifications, err := r.store.GetAllNotifications(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: load notifications: %w", err)
	}
	if err := registrycache.PublishBuckets(ctx, r.cache, buckets); err != nil {
		return fmt.Errorf("reconcile: publish buckets: %w", err)
	}
	if err := registrycache.PublishNotifications(ctx, r.cache, notifications); err != nil {
		return fmt.Errorf("reconcile: publish notifications: %w", err)
	}
	removed, err := r.cache.GC(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: cache gc: %w", err)
	}
	if removed > 0 {
		log.Debug("Reconcile: cache gc", "removed", removed)
	}
	return nil
}
