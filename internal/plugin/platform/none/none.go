// Package none is the bridge for shells without a companion device. Every
// probe answers false and every action is a no-op.
package none

import (
	"context"

	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
)

func init() {
	registryplatform.Register(registryplatform.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registryplatform.Bridge, error) {
			return Bridge{}, nil
		},
	})
}

type Bridge struct{}

var _ registryplatform.Bridge = Bridge{}

func (Bridge) IsWatchSupported(context.Context) (bool, error) { return false, nil }
func (Bridge) IsWCSyncEnabled(context.Context) (bool, error) { return false, nil }
func (Bridge) RetryNSENotificationsToWatch(context.Context) error { return nil }
func (Bridge) IsCloudKitEnabled(context.Context) (bool, error) { return false, nil }
func (Bridge) InitializeCloudKitSchema(context.Context) error { return nil }
func (Bridge) SetupCloudKitSubscriptions(context.Context) error { return nil }
func (Bridge) IsInitialSyncCompleted(context.Context) (bool, error) { return false, nil }
func (Bridge) SyncFromCloudKitIncremental(context.Context, bool) error { return nil }
func (Bridge) RetryNSENotificationsToCloudKit(context.Context) error { return nil }
func (Bridge) Close() error { return nil }
