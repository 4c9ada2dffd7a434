package platform

import (
	"context"
	"fmt"
)

// Bridge is the native shell's companion-device sync surface: WatchConnectivity
// delivery to a paired watch, and CloudKit as the alternative transport.
type Bridge interface {
	IsWatchSupported(ctx context.Context) (bool, error)

	// WatchConnectivity mode
	IsWCSyncEnabled(ctx context.Context) (bool, error)
	RetryNSENotificationsToWatch(ctx context.Context) error

	// CloudKit mode
	IsCloudKitEnabled(ctx context.Context) (bool, error)
	InitializeCloudKitSchema(ctx context.Context) error
	SetupCloudKitSubscriptions(ctx context.Context) error
	IsInitialSyncCompleted(ctx context.Context) (bool, error)
	SyncFromCloudKitIncremental(ctx context.Context, force bool) error
	RetryNSENotificationsToCloudKit(ctx context.Context) error

	Close() error
}

// Operation names, also used as the last token of bridge request subjects.
const (
	OpIsWatchSupported                = "isWatchSupported"
	OpIsWCSyncEnabled                 = "isWCSyncEnabled"
	OpRetryNSENotificationsToWatch    = "retryNSENotificationsToWatch"
	OpIsCloudKitEnabled               = "isCloudKitEnabled"
	OpInitializeCloudKitSchema        = "initializeCloudKitSchema"
	OpSetupCloudKitSubscriptions      = "setupCloudKitSubscriptions"
	OpIsInitialSyncCompleted          = "isInitialSyncCompleted"
	OpSyncFromCloudKitIncremental     = "syncFromCloudKitIncremental"
	OpRetryNSENotificationsToCloudKit = "retryNSENotificationsToCloudKit"
)

// Loader creates a bridge from config.
type Loader func(ctx context.Context) (Bridge, error)

// Plugin represents a platform bridge plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a platform bridge plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered bridge plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named bridge plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown platform bridge %q; valid: %v", name, Names())
}
