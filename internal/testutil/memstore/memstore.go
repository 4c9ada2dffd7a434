// Package memstore is an in-memory LocalStore for unit tests.
package memstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chirino/notification-cache/internal/model"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
)

// Store keeps every table in maps. Set Fail to make the named operation error.
type Store struct {
	mu            sync.Mutex
	buckets       map[string]model.Bucket
	notifications map[string]model.Notification
	media         map[string]model.MediaItem
	settings      map[string]string
	fail          map[string]error
	calls         map[string]int
}

func New() *Store {
	return &Store{
		buckets:       map[string]model.Bucket{},
		notifications: map[string]model.Notification{},
		media:         map[string]model.MediaItem{},
		settings:      map[string]string{},
		fail:          map[string]error{},
		calls:         map[string]int{},
	}
}

// Fail makes op return err until cleared with a nil err.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Mutations sums the calls of every writing operation.
func (s *Store) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for op, n := range s.calls {
		if strings.HasPrefix(op, "Upsert") || strings.HasPrefix(op, "Delete") || strings.HasPrefix(op, "Set") || strings.HasPrefix(op, "Touch") {
			total += n
		}
	}
	return total
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.fail[op]
}

func (s *Store) GetAllBuckets(context.Context) ([]model.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAllBuckets"); err != nil {
		return nil, err
	}
	out := make([]model.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b model.Bucket) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UpsertBuckets(_ context.Context, buckets []model.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertBuckets"); err != nil {
		return err
	}
	for _, b := range buckets {
		s.buckets[b.ID] = b
	}
	return nil
}

func (s *Store) DeleteBuckets(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteBuckets"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.buckets, id)
	}
	return nil
}

func (s *Store) GetAllNotifications(context.Context) ([]model.Notification, error) {
	return s.listNotifications("GetAllNotifications", registrystore.NotificationQuery{})
}

func (s *Store) GetNotifications(_ context.Context, query registrystore.NotificationQuery) ([]model.Notification, error) {
	return s.listNotifications("GetNotifications", query)
}

func (s *Store) listNotifications(op string, query registrystore.NotificationQuery) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(op); err != nil {
		return nil, err
	}
	out := make([]model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if query.BucketID != "" && n.BucketID != query.BucketID {
			continue
		}
		if query.CreatedBefore != nil && !n.CreatedAt.Before(*query.CreatedBefore) {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b model.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetNotification"); err != nil {
		return nil, err
	}
	n, ok := s.notifications[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "notification", ID: id}
	}
	return &n, nil
}

func (s *Store) UpsertNotifications(_ context.Context, notifications []model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertNotifications"); err != nil {
		return err
	}
	for _, n := range notifications {
		if n.ID == "" {
			return &registrystore.ValidationError{Field: "notification.id", Message: "must not be empty"}
		}
		s.notifications[n.ID] = n
	}
	return nil
}

func (s *Store) DeleteNotifications(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteNotifications"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.notifications, id)
	}
	return nil
}

func (s *Store) ListMediaItems(context.Context) ([]model.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListMediaItems"); err != nil {
		return nil, err
	}
	out := make([]model.MediaItem, 0, len(s.media))
	for _, m := range s.media {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b model.MediaItem) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *Store) GetMediaItem(_ context.Context, key string) (*model.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetMediaItem"); err != nil {
		return nil, err
	}
	m, ok := s.media[key]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "media item", ID: key}
	}
	return &m, nil
}

func (s *Store) UpsertMediaItem(_ context.Context, item model.MediaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertMediaItem"); err != nil {
		return err
	}
	s.media[item.Key] = item
	return nil
}

func (s *Store) DeleteMediaItems(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteMediaItems"); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.media, k)
	}
	return nil
}

func (s *Store) TouchMediaItem(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("TouchMediaItem"); err != nil {
		return err
	}
	m, ok := s.media[key]
	if !ok {
		return &registrystore.NotFoundError{Resource: "media item", ID: key}
	}
	m.LastAccessedAt = &at
	s.media[key] = m
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetSetting"); err != nil {
		return "", false, err
	}
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetSetting"); err != nil {
		return err
	}
	s.settings[key] = value
	return nil
}

func (s *Store) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteSetting"); err != nil {
		return err
	}
	delete(s.settings, key)
	return nil
}

func (s *Store) Close() error { return nil }

// ErrInjected is a ready-made error for Fail.
var ErrInjected = errors.New("injected failure")

var _ registrystore.LocalStore = (*Store)(nil)
