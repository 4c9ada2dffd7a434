// Package media keeps the cached media blobs and their metadata rows in sync
// and downloads new blobs in the background.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/model"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"golang.org/x/sync/errgroup"
)

const defaultPreloadConcurrency = 4

// Key returns the cache key of a media URL. Scheme and host are case
// insensitive and surrounding whitespace is ignored.
func Key(rawURL string) string {
	normalized := strings.TrimSpace(rawURL)
	if u, err := url.Parse(normalized); err == nil && u.Host != "" {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		normalized = u.String()
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// ClassifyContentType maps a MIME type to a MediaType.
func ClassifyContentType(contentType string) model.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.MediaTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return model.MediaTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return model.MediaTypeAudio
	default:
		return model.MediaTypeOther
	}
}

// Manager owns the in-memory index of cached media.
type Manager struct {
	store   registrystore.LocalStore
	blobs   registrymedia.BlobStore
	queue   *DownloadQueue
	now     func() time.Time
	preload int

	mu    sync.RWMutex
	index map[string]model.MediaItem
}

// NewManager wires the manager as the queue's sink. queue may be nil, in
// which case preloading only reports what is missing.
func NewManager(store registrystore.LocalStore, blobs registrymedia.BlobStore, queue *DownloadQueue) *Manager {
	m := &Manager{
		store:   store,
		blobs:   blobs,
		queue:   queue,
		now:     time.Now,
		preload: defaultPreloadConcurrency,
		index:   map[string]model.MediaItem{},
	}
	if queue != nil {
		queue.SetSink(m.record)
	}
	return m
}

// ReloadMetadata rebuilds the index from the store. Rows whose blob is gone
// are deleted.
func (m *Manager) ReloadMetadata(ctx context.Context) error {
	items, err := m.store.ListMediaItems(ctx)
	if err != nil {
		return fmt.Errorf("media: list items: %w", err)
	}

	index := make(map[string]model.MediaItem, len(items))
	var missing []string
	for _, item := range items {
		ok, err := m.blobs.Exists(ctx, item.StorageKey)
		if err != nil {
			return fmt.Errorf("media: check blob %s: %w", item.StorageKey, err)
		}
		if !ok {
			missing = append(missing, item.Key)
			continue
		}
		index[item.Key] = item
	}
	if len(missing) > 0 {
		log.Info("Dropping media rows with missing blobs", "count", len(missing))
		if err := m.store.DeleteMediaItems(ctx, missing); err != nil {
			return fmt.Errorf("media: delete orphaned rows: %w", err)
		}
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()
	log.Debug("Media metadata reloaded", "items", len(index))
	return nil
}

// PreloadBucketIcons queues downloads for bucket icons that are not cached
// yet. It returns how many downloads were queued.
func (m *Manager) PreloadBucketIcons(ctx context.Context, buckets []model.Bucket) (int, error) {
	var reqs []Request
	for _, b := range buckets {
		if strings.TrimSpace(b.IconURL) == "" {
			continue
		}
		reqs = append(reqs, Request{URL: b.IconURL, BucketID: b.ID, MediaType: model.MediaTypeIcon})
	}
	return m.prefetch(ctx, reqs)
}

// PrefetchNotificationImages queues downloads for notification images that
// are not cached yet. The stored rows link back to their notification so
// retention can drop them together.
func (m *Manager) PrefetchNotificationImages(ctx context.Context, notifications []model.Notification) (int, error) {
	var reqs []Request
	for _, n := range notifications {
		if strings.TrimSpace(n.ImageURL) == "" {
			continue
		}
		reqs = append(reqs, Request{URL: n.ImageURL, BucketID: n.BucketID, NotificationID: n.ID})
	}
	return m.prefetch(ctx, reqs)
}

func (m *Manager) prefetch(ctx context.Context, reqs []Request) (int, error) {
	var (
		mu     sync.Mutex
		queued int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.preload)
	for _, req := range reqs {
		g.Go(func() error {
			cached, err := m.isCached(gctx, req.URL)
			if err != nil {
				return fmt.Errorf("media: %s: %w", req.URL, err)
			}
			if cached || m.queue == nil {
				return nil
			}
			if m.queue.Enqueue(req) {
				mu.Lock()
				queued++
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return queued, err
}

// isCached checks the index first and then the blob store. A hit counts as
// a use of the item.
func (m *Manager) isCached(ctx context.Context, rawURL string) (bool, error) {
	item, ok := m.Lookup(rawURL)
	if !ok {
		return false, nil
	}
	exists, err := m.blobs.Exists(ctx, item.StorageKey)
	if err != nil || !exists {
		return false, err
	}
	if err := m.Touch(ctx, item.Key); err != nil {
		log.Warn("Media: failed to record access", "key", item.Key, "err", err)
	}
	return true, nil
}

// DeleteCachedMedia removes blobs, rows and index entries for keys. Unknown
// keys are ignored.
func (m *Manager) DeleteCachedMedia(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	var errs []error
	for _, key := range keys {
		item, ok := m.get(key)
		if !ok {
			row, err := m.store.GetMediaItem(ctx, key)
			var nf *registrystore.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			item = *row
		}
		if err := m.blobs.Delete(ctx, item.StorageKey); err != nil {
			errs = append(errs, fmt.Errorf("media: delete blob %s: %w", item.StorageKey, err))
		}
	}
	if err := m.store.DeleteMediaItems(ctx, keys); err != nil {
		errs = append(errs, fmt.Errorf("media: delete rows: %w", err))
	}
	m.mu.Lock()
	for _, key := range keys {
		delete(m.index, key)
	}
	m.mu.Unlock()
	return errors.Join(errs...)
}

// Lookup returns the cached item for a URL.
func (m *Manager) Lookup(rawURL string) (model.MediaItem, bool) {
	return m.get(Key(rawURL))
}

func (m *Manager) get(key string) (model.MediaItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.index[key]
	return item, ok
}

// Touch records an access for LRU retention.
func (m *Manager) Touch(ctx context.Context, key string) error {
	at := m.now()
	if err := m.store.TouchMediaItem(ctx, key, at); err != nil {
		return err
	}
	m.mu.Lock()
	if item, ok := m.index[key]; ok {
		item.LastAccessedAt = &at
		m.index[key] = item
	}
	m.mu.Unlock()
	return nil
}

// record stores a finished download. A notification image whose
// notification was pruned while downloading is discarded.
func (m *Manager) record(ctx context.Context, item model.MediaItem) error {
	if item.NotificationID != "" {
		_, err := m.store.GetNotification(ctx, item.NotificationID)
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			log.Debug("Media: notification gone, discarding download", "notification", item.NotificationID)
			return m.blobs.Delete(ctx, item.StorageKey)
		}
		if err != nil {
			return err
		}
	}
	if err := m.store.UpsertMediaItem(ctx, item); err != nil {
		return err
	}
	m.mu.Lock()
	m.index[item.Key] = item
	m.mu.Unlock()
	return nil
}
