package run

import (
	"strings"

	"github.com/chirino/notification-cache/internal/config"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"github.com/urfave/cli/v3"
)

// Flags returns the flags shared by every command that wires the cleanup
// pipeline. Values are written into cfg.
func Flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Client ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "platform",
			Category:    "Client:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_PLATFORM"),
			Destination: &cfg.Platform,
			Value:       cfg.Platform,
			Usage:       "Client platform (ios|android|web); companion sync only runs on ios",
		},
		&cli.StringFlag{
			Name:        "app-version",
			Category:    "Client:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_APP_VERSION"),
			Destination: &cfg.AppVersion,
			Value:       cfg.AppVersion,
			Usage:       "Application version reported in device metadata",
		},
		&cli.StringFlag{
			Name:        "native-version",
			Category:    "Client:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_NATIVE_VERSION"),
			Destination: &cfg.NativeVersion,
			Usage:       "Native build version reported in device metadata",
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Client:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_TEMP_DIR"),
			Destination: &cfg.TempDir,
			Usage:       "Directory for temporary files; defaults to OS temp directory",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "Local store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "SQLite file path or PostgreSQL DSN",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Normalized cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis cache (redis://host:port/db)",
		},

		// ── Media ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "media-kind",
			Category:    "Media:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_MEDIA_KIND"),
			Destination: &cfg.MediaType,
			Value:       cfg.MediaType,
			Usage:       "Media blob store (" + strings.Join(registrymedia.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "media-dir",
			Category:    "Media:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_MEDIA_DIR"),
			Destination: &cfg.MediaDir,
			Value:       cfg.MediaDir,
			Usage:       "Directory for the fs media store",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Media:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for the s3 media store",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Media:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (MinIO, LocalStack)",
		},

		// ── Backend ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "backend-url",
			Category:    "Backend:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_BACKEND_URL"),
			Destination: &cfg.BackendURL,
			Usage:       "Notification backend base URL; when unset every run is cache-only",
		},
		&cli.DurationFlag{
			Name:        "backend-timeout",
			Category:    "Backend:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_BACKEND_TIMEOUT"),
			Destination: &cfg.BackendTimeout,
			Value:       cfg.BackendTimeout,
			Usage:       "Timeout for backend requests and media downloads",
		},

		&cli.StringFlag{
			Name:        "access-token",
			Category:    "Backend:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_ACCESS_TOKEN"),
			Destination: &cfg.AccessToken,
			Usage:       "Access token stored in settings at startup; network refresh needs one",
		},
		&cli.StringFlag{
			Name:        "device-id",
			Category:    "Backend:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DEVICE_ID"),
			Destination: &cfg.DeviceID,
			Usage:       "Registered device id stored in settings at startup",
		},
		&cli.StringFlag{
			Name:        "device-token",
			Category:    "Backend:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DEVICE_TOKEN"),
			Destination: &cfg.DeviceToken,
			Usage:       "Push token of the device stored in settings at startup",
		},

		// ── Scheduling ────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "background-interval",
			Category:    "Scheduling:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_BACKGROUND_INTERVAL"),
			Destination: &cfg.BackgroundInterval,
			Value:       cfg.BackgroundInterval,
			Usage:       "Period of the background tick that triggers cleanup (0 disables)",
		},
		&cli.BoolFlag{
			Name:        "rotate-device-keys",
			Category:    "Scheduling:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_ROTATE_DEVICE_KEYS"),
			Destination: &cfg.RotateDeviceKeys,
			Value:       cfg.RotateDeviceKeys,
			Usage:       "Rotate the device key pair when due during daemon-triggered runs",
		},

		// ── Platform Bridge ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "bridge-kind",
			Category:    "Platform Bridge:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_BRIDGE_KIND"),
			Destination: &cfg.BridgeType,
			Value:       cfg.BridgeType,
			Usage:       "Companion-device bridge (" + strings.Join(registryplatform.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "nats-url",
			Category:    "Platform Bridge:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_NATS_URL"),
			Destination: &cfg.NATSURL,
			Usage:       "NATS server URL for the bridge and push triggers",
		},
		&cli.StringFlag{
			Name:        "nats-subject-prefix",
			Category:    "Platform Bridge:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_NATS_SUBJECT_PREFIX"),
			Destination: &cfg.NATSSubjectPrefix,
			Value:       cfg.NATSSubjectPrefix,
			Usage:       "Subject prefix for bridge requests and push triggers",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Port for health, metrics and the cleanup trigger (0 = OS-assigned random port)",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Also log probe requests (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight work on shutdown",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("NOTIFICATION_CACHE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value constant labels for all metrics",
		},
	}
}
