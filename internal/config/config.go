package config

import (
	"context"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the settings for the management HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// Config holds all configuration for the notification cache daemon.
type Config struct {
	// Platform the client shell runs on: "ios", "android" or "web".
	// Companion-device sync only runs on "ios".
	Platform string

	// Build metadata reported as device metadata.
	AppVersion    string
	NativeVersion string

	// Local store
	DBKind                  string // "sqlite" or "postgres"
	DBURL                   string // file path for sqlite, DSN for postgres
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Normalized cache
	CacheType      string // "memory", "redis" or "none"
	RedisURL       string
	CacheMaxCost   int64
	CacheEntityTTL time.Duration

	// Media cache
	MediaType            string // "fs" or "s3"
	MediaDir             string
	MediaMaxSize         int64
	MediaDownloadWorkers int
	MediaQueueSize       int

	// S3
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// Backend
	BackendURL     string
	BackendTimeout time.Duration

	// Device registration seeded into the settings table at startup. Empty
	// values leave whatever is stored untouched.
	AccessToken string
	DeviceID    string
	DeviceToken string

	// Retention defaults, used until the user stores their own policy.
	MaxNotifications   int
	MaxNotificationAge time.Duration
	MaxMediaItems      int
	MaxMediaAge        time.Duration
	CleanupInterval    time.Duration

	// BackgroundInterval is the period of the background-task tick that triggers cleanup.
	BackgroundInterval time.Duration
	// RotateDeviceKeys lets daemon-triggered runs rotate the device key pair when due.
	RotateDeviceKeys bool

	// Platform bridge
	BridgeType    string // "none" or "nats"
	BridgeTimeout time.Duration

	// NATS
	NATSURL           string
	NATSSubjectPrefix string

	// Management server
	ManagementListener  ListenerConfig
	ManagementAccessLog bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Temporary file directory. Empty uses platform default temp directory.
	TempDir string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Platform:                PlatformIOS,
		AppVersion:              "dev",
		DBKind:                  "sqlite",
		DBURL:                   "notification-cache.db",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          4,
		DBMaxIdleConns:          2,
		CacheType:               "memory",
		CacheMaxCost:            64 * 1024 * 1024, // 64 MB
		CacheEntityTTL:          24 * time.Hour,
		MediaType:               "fs",
		MediaDir:                "media-cache",
		MediaMaxSize:            25 * 1024 * 1024, // 25 MB
		MediaDownloadWorkers:    2,
		MediaQueueSize:          50,
		BackendTimeout:          30 * time.Second,
		MaxNotifications:        500,
		MaxNotificationAge:      30 * 24 * time.Hour,
		MaxMediaItems:           300,
		MaxMediaAge:             14 * 24 * time.Hour,
		CleanupInterval:         24 * time.Hour,
		BackgroundInterval:      15 * time.Minute,
		RotateDeviceKeys:        true,
		BridgeType:              "none",
		BridgeTimeout:           10 * time.Second,
		NATSSubjectPrefix:       "notification-cache",
		ManagementListener: ListenerConfig{
			Port:              8089,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MetricsLabels: "service=notification-cache",
		DrainTimeout:  10,
	}
}

// IsIOS reports whether companion-device sync applies to this client.
func (c *Config) IsIOS() bool {
	return c != nil && strings.EqualFold(strings.TrimSpace(c.Platform), PlatformIOS)
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}
