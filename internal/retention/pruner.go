// Package retention prunes cached notifications and media according to the
// user's retention policy.
package retention

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"github.com/chirino/notification-cache/internal/settings"
)

// PolicySource supplies the effective policy.
type PolicySource interface {
	RetentionPolicy(ctx context.Context) (settings.RetentionPolicy, error)
}

// MediaDeleter removes cached blobs together with their rows.
type MediaDeleter interface {
	DeleteCachedMedia(ctx context.Context, keys ...string) error
}

// Result summarizes one pruning pass.
type Result struct {
	ByAge   int
	ByCount int
	Media   int
}

func (r Result) Total() int { return r.ByAge + r.ByCount }

type Pruner struct {
	store  registrystore.LocalStore
	cache  registrycache.NormalizedCache
	media  MediaDeleter
	policy PolicySource
	now    func() time.Time
}

func New(store registrystore.LocalStore, cache registrycache.NormalizedCache, media MediaDeleter, policy PolicySource) *Pruner {
	return &Pruner{store: store, cache: cache, media: media, policy: policy, now: time.Now}
}

// SetClock replaces time.Now, for tests.
func (p *Pruner) SetClock(now func() time.Time) { p.now = now }

// CleanupNotificationsBySettings deletes notifications older than
// MaxNotificationAge and all but the newest MaxNotifications, evicts them from
// the normalized cache and deletes media attached to them.
func (p *Pruner) CleanupNotificationsBySettings(ctx context.Context) (Result, error) {
	var res Result
	policy, err := p.policy.RetentionPolicy(ctx)
	if err != nil {
		return res, err
	}
	if policy.MaxNotificationAge <= 0 && policy.MaxNotifications <= 0 {
		return res, nil
	}

	var doomed []string
	aged := map[string]struct{}{}
	if policy.MaxNotificationAge > 0 {
		cutoff := p.now().Add(-policy.MaxNotificationAge)
		rows, err := p.store.GetNotifications(ctx, registrystore.NotificationQuery{CreatedBefore: &cutoff})
		if err != nil {
			return res, fmt.Errorf("retention: load expired notifications: %w", err)
		}
		for _, n := range rows {
			aged[n.ID] = struct{}{}
			doomed = append(doomed, n.ID)
		}
		res.ByAge = len(rows)
	}
	if policy.MaxNotifications > 0 {
		// newest first
		all, err := p.store.GetAllNotifications(ctx)
		if err != nil {
			return res, fmt.Errorf("retention: load notifications: %w", err)
		}
		kept := 0
		for _, n := range all {
			if _, ok := aged[n.ID]; ok {
				continue
			}
			if kept < policy.MaxNotifications {
				kept++
				continue
			}
			doomed = append(doomed, n.ID)
			res.ByCount++
		}
	}
	if len(doomed) == 0 {
		return res, nil
	}

	if err := p.store.DeleteNotifications(ctx, doomed); err != nil {
		return res, fmt.Errorf("retention: delete notifications: %w", err)
	}
	if p.cache != nil {
		if err := registrycache.EvictNotifications(ctx, p.cache, doomed); err != nil {
			log.Warn("Retention: cache eviction failed", "err", err)
		}
	}
	metrics.CountRetention("notifications", len(doomed))

	media, err := p.linkedMedia(ctx, doomed)
	if err != nil {
		return res, err
	}
	if len(media) > 0 {
		if err := p.media.DeleteCachedMedia(ctx, media...); err != nil {
			return res, fmt.Errorf("retention: delete linked media: %w", err)
		}
		res.Media = len(media)
		metrics.CountRetention("media", len(media))
	}
	log.Info("Retention: pruned notifications", "byAge", res.ByAge, "byCount", res.ByCount, "media", res.Media)
	return res, nil
}

func (p *Pruner) linkedMedia(ctx context.Context, notificationIDs []string) ([]string, error) {
	items, err := p.store.ListMediaItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: list media: %w", err)
	}
	var keys []string
	for _, item := range items {
		if item.NotificationID != "" && slices.Contains(notificationIDs, item.NotificationID) {
			keys = append(keys, item.Key)
		}
	}
	return keys, nil
}

// CleanupGalleryBySettings deletes media not used within MaxMediaAge and all
// but the MaxMediaItems most recently used. Bucket icons are never pruned.
func (p *Pruner) CleanupGalleryBySettings(ctx context.Context) (Result, error) {
	var res Result
	policy, err := p.policy.RetentionPolicy(ctx)
	if err != nil {
		return res, err
	}
	if policy.MaxMediaAge <= 0 && policy.MaxMediaItems <= 0 {
		return res, nil
	}

	items, err := p.store.ListMediaItems(ctx)
	if err != nil {
		return res, fmt.Errorf("retention: list media: %w", err)
	}
	items = slices.DeleteFunc(items, func(m model.MediaItem) bool { return m.MediaType == model.MediaTypeIcon })
	slices.SortStableFunc(items, func(a, b model.MediaItem) int { return b.LastUsed().Compare(a.LastUsed()) })

	var doomed []string
	kept := 0
	cutoff := p.now().Add(-policy.MaxMediaAge)
	for _, item := range items {
		switch {
		case policy.MaxMediaAge > 0 && item.LastUsed().Before(cutoff):
			doomed = append(doomed, item.Key)
			res.ByAge++
		case policy.MaxMediaItems > 0 && kept >= policy.MaxMediaItems:
			doomed = append(doomed, item.Key)
			res.ByCount++
		default:
			kept++
		}
	}
	if len(doomed) == 0 {
		return res, nil
	}
	if err := p.media.DeleteCachedMedia(ctx, doomed...); err != nil {
		return res, fmt.Errorf("retention: delete media: %w", err)
	}
	res.Media = len(doomed)
	metrics.CountRetention("media", len(doomed))
	log.Info("Retention: pruned gallery", "byAge", res.ByAge, "byCount", res.ByCount)
	return res, nil
}
