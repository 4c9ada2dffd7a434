// Package settings exposes typed access to the key/value settings table:
// auth material, retention policy and maintenance bookkeeping.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/model"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
)

// Setting keys.
const (
	KeyAccessToken      = "accessToken"
	KeyDeviceID         = "deviceId"
	KeyDeviceToken      = "deviceToken"
	KeyLastCleanup      = "lastCleanup"
	KeyLastKeysRotation = "lastKeysRotation"
	KeyDevicePrivateKey = "devicePrivateKey"

	KeyMaxNotifications   = "retention.maxNotifications"
	KeyMaxNotificationAge = "retention.maxNotificationAge"
	KeyMaxMediaItems      = "retention.maxMediaItems"
	KeyMaxMediaAge        = "retention.maxMediaAge"
	KeyCleanupInterval    = "retention.cleanupInterval"
)

// RetentionPolicy bounds the local cache. A zero value disables that rule.
type RetentionPolicy struct {
	MaxNotifications   int
	MaxNotificationAge time.Duration
	MaxMediaItems      int
	MaxMediaAge        time.Duration
	CleanupInterval    time.Duration
}

// PolicyFromConfig returns the configured default policy.
func PolicyFromConfig(cfg *config.Config) RetentionPolicy {
	return RetentionPolicy{
		MaxNotifications:   cfg.MaxNotifications,
		MaxNotificationAge: cfg.MaxNotificationAge,
		MaxMediaItems:      cfg.MaxMediaItems,
		MaxMediaAge:        cfg.MaxMediaAge,
		CleanupInterval:    cfg.CleanupInterval,
	}
}

// Service reads and writes settings through the local store.
type Service struct {
	store    registrystore.LocalStore
	defaults RetentionPolicy
	now      func() time.Time
}

func New(store registrystore.LocalStore, defaults RetentionPolicy) *Service {
	return &Service{store: store, defaults: defaults, now: time.Now}
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) get(ctx context.Context, key string) (string, error) {
	v, _, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, nil
}

// AuthData returns the stored credentials, trimmed. Missing or blank values
// are empty strings.
func (s *Service) AuthData(ctx context.Context) (model.AuthData, error) {
	var auth model.AuthData
	for key, dst := range map[string]*string{
		KeyAccessToken: &auth.AccessToken,
		KeyDeviceID:    &auth.DeviceID,
		KeyDeviceToken: &auth.DeviceToken,
	} {
		v, err := s.get(ctx, key)
		if err != nil {
			return model.AuthData{}, err
		}
		*dst = strings.TrimSpace(v)
	}
	return auth, nil
}

// MergeAuthData stores the non-blank fields of auth and leaves the others as
// they are.
func (s *Service) MergeAuthData(ctx context.Context, auth model.AuthData) error {
	for key, value := range map[string]string{
		KeyAccessToken: auth.AccessToken,
		KeyDeviceID:    auth.DeviceID,
		KeyDeviceToken: auth.DeviceToken,
	} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("settings: store %s: %w", key, err)
		}
	}
	return nil
}

// SetAuthData stores credentials. Empty fields delete the stored value.
func (s *Service) SetAuthData(ctx context.Context, auth model.AuthData) error {
	for key, value := range map[string]string{
		KeyAccessToken: auth.AccessToken,
		KeyDeviceID:    auth.DeviceID,
		KeyDeviceToken: auth.DeviceToken,
	} {
		var err error
		if value == "" {
			err = s.store.DeleteSetting(ctx, key)
		} else {
			err = s.store.SetSetting(ctx, key, value)
		}
		if err != nil {
			return fmt.Errorf("settings: store %s: %w", key, err)
		}
	}
	return nil
}

// AccessToken satisfies backend.TokenSource.
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	auth, err := s.AuthData(ctx)
	return auth.AccessToken, err
}

// HasValidAccessToken reports whether a non-blank token is stored. Lookup
// errors count as no token.
func (s *Service) HasValidAccessToken(ctx context.Context) bool {
	token, err := s.AccessToken(ctx)
	if err != nil {
		log.Warn("Settings: could not read access token", "err", err)
		return false
	}
	return token != ""
}

func (s *Service) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		log.Warn("Settings: ignoring unparsable timestamp", "key", key, "value", raw)
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func (s *Service) setTime(ctx context.Context, key string, t time.Time) error {
	if err := s.store.SetSetting(ctx, key, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// LastKeysRotation returns the last successful rotation. ok is false when
// the value is missing or invalid.
func (s *Service) LastKeysRotation(ctx context.Context) (time.Time, bool, error) {
	return s.getTime(ctx, KeyLastKeysRotation)
}

func (s *Service) SetLastKeysRotation(ctx context.Context, t time.Time) error {
	return s.setTime(ctx, KeyLastKeysRotation, t)
}

func (s *Service) LastCleanup(ctx context.Context) (time.Time, bool, error) {
	return s.getTime(ctx, KeyLastCleanup)
}

func (s *Service) SetLastCleanup(ctx context.Context, t time.Time) error {
	return s.setTime(ctx, KeyLastCleanup, t)
}

// ShouldRunCleanup is true when no valid last-cleanup time is stored or at
// least CleanupInterval has passed since it.
func (s *Service) ShouldRunCleanup(ctx context.Context) (bool, error) {
	policy, err := s.RetentionPolicy(ctx)
	if err != nil {
		return false, err
	}
	last, ok, err := s.LastCleanup(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) >= policy.CleanupInterval, nil
}

// RetentionPolicy returns the configured defaults overridden by any values
// the user stored.
func (s *Service) RetentionPolicy(ctx context.Context) (RetentionPolicy, error) {
	p := s.defaults
	ints := map[string]*int{
		KeyMaxNotifications: &p.MaxNotifications,
		KeyMaxMediaItems:    &p.MaxMediaItems,
	}
	for key, dst := range ints {
		raw, ok, err := s.store.GetSetting(ctx, key)
		if err != nil {
			return p, fmt.Errorf("settings: get %s: %w", key, err)
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			log.Warn("Settings: ignoring invalid retention value", "key", key, "value", raw)
			continue
		}
		*dst = n
	}
	durations := map[string]*time.Duration{
		KeyMaxNotificationAge: &p.MaxNotificationAge,
		KeyMaxMediaAge:        &p.MaxMediaAge,
		KeyCleanupInterval:    &p.CleanupInterval,
	}
	for key, dst := range durations {
		raw, ok, err := s.store.GetSetting(ctx, key)
		if err != nil {
			return p, fmt.Errorf("settings: get %s: %w", key, err)
		}
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "0" {
			*dst = 0
			continue
		}
		d, err := config.ParseDuration(raw)
		if err != nil {
			log.Warn("Settings: ignoring invalid retention value", "key", key, "value", raw)
			continue
		}
		*dst = d
	}
	return p, nil
}

// SetRetentionPolicy stores every field of p as a user override.
func (s *Service) SetRetentionPolicy(ctx context.Context, p RetentionPolicy) error {
	values := map[string]string{
		KeyMaxNotifications:   strconv.Itoa(p.MaxNotifications),
		KeyMaxMediaItems:      strconv.Itoa(p.MaxMediaItems),
		KeyMaxNotificationAge: p.MaxNotificationAge.String(),
		KeyMaxMediaAge:        p.MaxMediaAge.String(),
		KeyCleanupInterval:    p.CleanupInterval.String(),
	}
	for key, value := range values {
		if value == "0s" {
			value = "0"
		}
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("settings: set %s: %w", key, err)
		}
	}
	return nil
}

func (s *Service) SetDevicePrivateKey(ctx context.Context, key string) error {
	if err := s.store.SetSetting(ctx, KeyDevicePrivateKey, key); err != nil {
		return fmt.Errorf("settings: set %s: %w", KeyDevicePrivateKey, err)
	}
	return nil
}
