package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads environment variables that are not represented by dedicated
// CLI flags, mostly retention tuning and size limits.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("NOTIFICATION_CACHE_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyDurationEnv("NOTIFICATION_CACHE_CACHE_ENTITY_TTL", &c.CacheEntityTTL); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("NOTIFICATION_CACHE_CACHE_MAX_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid NOTIFICATION_CACHE_CACHE_MAX_SIZE: %w", parseErr)
		}
		c.CacheMaxCost = size
	}
	if raw := strings.TrimSpace(os.Getenv("NOTIFICATION_CACHE_MEDIA_MAX_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid NOTIFICATION_CACHE_MEDIA_MAX_SIZE: %w", parseErr)
		}
		c.MediaMaxSize = size
	}
	if err = applyIntEnv("NOTIFICATION_CACHE_MEDIA_DOWNLOAD_WORKERS", &c.MediaDownloadWorkers); err != nil {
		return err
	}
	if err = applyIntEnv("NOTIFICATION_CACHE_MEDIA_QUEUE_SIZE", &c.MediaQueueSize); err != nil {
		return err
	}
	applyStringEnv("NOTIFICATION_CACHE_MEDIA_S3_PREFIX", &c.S3Prefix)

	if err = applyIntEnv("NOTIFICATION_CACHE_RETENTION_MAX_NOTIFICATIONS", &c.MaxNotifications); err != nil {
		return err
	}
	if err = applyDurationEnv("NOTIFICATION_CACHE_RETENTION_MAX_NOTIFICATION_AGE", &c.MaxNotificationAge); err != nil {
		return err
	}
	if err = applyIntEnv("NOTIFICATION_CACHE_RETENTION_MAX_MEDIA_ITEMS", &c.MaxMediaItems); err != nil {
		return err
	}
	if err = applyDurationEnv("NOTIFICATION_CACHE_RETENTION_MAX_MEDIA_AGE", &c.MaxMediaAge); err != nil {
		return err
	}
	if err = applyDurationEnv("NOTIFICATION_CACHE_RETENTION_CLEANUP_INTERVAL", &c.CleanupInterval); err != nil {
		return err
	}
	if err = applyDurationEnv("NOTIFICATION_CACHE_BRIDGE_TIMEOUT", &c.BridgeTimeout); err != nil {
		return err
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// ParseDuration accepts Go durations (30s, 5m) and a minimal ISO-8601 subset
// (P#D, PT#H#M#S, P#DT#H).
func ParseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}

	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "P")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	inTime := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			inTime = true
			rest = rest[1:]
			continue
		}
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch {
		case !inTime && rest[i] == 'D':
			total += time.Duration(n) * 24 * time.Hour
		case inTime && rest[i] == 'H':
			total += time.Duration(n) * time.Hour
		case inTime && rest[i] == 'M':
			total += time.Duration(n) * time.Minute
		case inTime && rest[i] == 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

func parseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "GB"), strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "GB"), "G")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
