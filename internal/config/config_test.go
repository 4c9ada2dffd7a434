package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvedTempDir_DefaultsToOSTempDir(t *testing.T) {
	var cfg Config
	require.Equal(t, os.TempDir(), cfg.ResolvedTempDir())
}

func TestResolvedTempDir_UsesConfiguredValue(t *testing.T) {
	cfg := Config{TempDir: " /tmp/custom-dir "}
	require.Equal(t, "/tmp/custom-dir", cfg.ResolvedTempDir())
}

func TestIsIOS(t *testing.T) {
	var nilCfg *Config
	require.False(t, nilCfg.IsIOS())
	require.True(t, (&Config{Platform: " iOS "}).IsIOS())
	require.False(t, (&Config{Platform: PlatformAndroid}).IsIOS())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NOTIFICATION_CACHE_MEDIA_MAX_SIZE", "12M")
	t.Setenv("NOTIFICATION_CACHE_CACHE_MAX_SIZE", "512K")
	t.Setenv("NOTIFICATION_CACHE_RETENTION_MAX_NOTIFICATIONS", "42")
	t.Setenv("NOTIFICATION_CACHE_RETENTION_MAX_NOTIFICATION_AGE", "P7D")
	t.Setenv("NOTIFICATION_CACHE_RETENTION_MAX_MEDIA_AGE", "PT36H")
	t.Setenv("NOTIFICATION_CACHE_RETENTION_CLEANUP_INTERVAL", "6h")
	t.Setenv("NOTIFICATION_CACHE_DB_MIGRATE_AT_START", "false")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, int64(12*1024*1024), cfg.MediaMaxSize)
	require.Equal(t, int64(512*1024), cfg.CacheMaxCost)
	require.Equal(t, 42, cfg.MaxNotifications)
	require.Equal(t, 7*24*time.Hour, cfg.MaxNotificationAge)
	require.Equal(t, 36*time.Hour, cfg.MaxMediaAge)
	require.Equal(t, 6*time.Hour, cfg.CleanupInterval)
	require.False(t, cfg.DatastoreMigrateAtStart)
}

func TestApplyEnv_RejectsInvalidValues(t *testing.T) {
	t.Setenv("NOTIFICATION_CACHE_RETENTION_MAX_NOTIFICATIONS", "lots")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":    30 * time.Second,
		"PT2H":   2 * time.Hour,
		"PT1H5M": time.Hour + 5*time.Minute,
		"P2D":    48 * time.Hour,
		"P1DT2H": 26 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	for _, bad := range []string{"", "P", "PT", "2 days", "P1H", "PT0S"} {
		_, err := ParseDuration(bad)
		require.Error(t, err, bad)
	}
}
