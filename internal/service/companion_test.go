package service

import (
	"errors"
	"testing"
	"time"

	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	"github.com/stretchr/testify/require"
)

func withCompanionSync(_ *fixture, d *Deps) { d.CompanionSync = true }

func TestCompanionSyncDisabledLeavesGateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.bridge.watchSupported = true
	f.bridge.cloudKitEnabled = true

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{Force: true}))

	require.Empty(t, f.bridgeOps.list())
	state := f.orch.CompanionState()
	require.True(t, state.LastStartedAt.IsZero())
	require.False(t, state.InFlight)
}

func TestCompanionSyncWatchConnectivityModeSkipsCloudKit(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.wcEnabled = true
	f.bridge.cloudKitEnabled = true
	f.bridge.initialSynced = true

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Equal(t, []string{
		registryplatform.OpIsWatchSupported,
		registryplatform.OpIsWCSyncEnabled,
		registryplatform.OpRetryNSENotificationsToWatch,
	}, f.bridgeOps.list())
}

func TestCompanionSyncUnsupportedDevice(t *testing.T) {
	f := newFixture(t, withCompanionSync)

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Equal(t, []string{registryplatform.OpIsWatchSupported}, f.bridgeOps.list())
	require.False(t, f.orch.CompanionState().LastStartedAt.IsZero())
}

func TestCompanionSyncCloudKitMode(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.cloudKitEnabled = true
	f.bridge.initialSynced = true

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{Force: true}))

	require.Equal(t, []string{
		registryplatform.OpIsWatchSupported,
		registryplatform.OpIsWCSyncEnabled,
		registryplatform.OpIsCloudKitEnabled,
		registryplatform.OpInitializeCloudKitSchema,
		registryplatform.OpSetupCloudKitSubscriptions,
		registryplatform.OpIsInitialSyncCompleted,
		registryplatform.OpSyncFromCloudKitIncremental,
		registryplatform.OpRetryNSENotificationsToCloudKit,
	}, f.bridgeOps.list())
	require.Equal(t, []bool{true}, f.bridge.forced)

	for _, key := range []string{registrycache.ListNotifications, registrycache.ListAppState} {
		_, ok, err := f.cache.GetList(f.ctx, key)
		require.NoError(t, err)
		require.False(t, ok, "%s should be invalidated after an incremental sync", key)
	}
	require.Empty(t, f.lastRun(t).Failed())
}

func TestCompanionSyncWithoutInitialSyncOnlyRetriesUploads(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.cloudKitEnabled = true

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	ops := f.bridgeOps.list()
	require.NotContains(t, ops, registryplatform.OpSyncFromCloudKitIncremental)
	require.Equal(t, registryplatform.OpRetryNSENotificationsToCloudKit, ops[len(ops)-1])

	_, ok, err := f.cache.GetList(f.ctx, registrycache.ListNotifications)
	require.NoError(t, err)
	require.True(t, ok, "lists stay cached when no incremental sync ran")
}

func TestCompanionSyncSubscriptionFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.cloudKitEnabled = true
	f.bridge.initialSynced = true
	f.bridge.errs = map[string]error{
		registryplatform.OpSetupCloudKitSubscriptions: errors.New("not signed in"),
	}

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Contains(t, f.bridgeOps.list(), registryplatform.OpSyncFromCloudKitIncremental)
	require.Empty(t, f.lastRun(t).Failed())
}

func TestCompanionSyncFailedIncrementalSyncStillRetriesUploads(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.cloudKitEnabled = true
	f.bridge.initialSynced = true
	f.bridge.errs = map[string]error{
		registryplatform.OpSyncFromCloudKitIncremental: errors.New("zone busy"),
	}

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	ops := f.bridgeOps.list()
	require.Equal(t, registryplatform.OpRetryNSENotificationsToCloudKit, ops[len(ops)-1])
	require.Equal(t, []string{StageCompanionSync}, f.lastRun(t).Failed())

	_, ok, err := f.cache.GetList(f.ctx, registrycache.ListNotifications)
	require.NoError(t, err)
	require.True(t, ok, "a failed sync does not invalidate the cache")
}

func TestCompanionGateThrottlesIndependently(t *testing.T) {
	f := newFixture(t, withCompanionSync)
	f.bridge.watchSupported = true
	f.bridge.wcEnabled = true

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))
	first := len(f.bridgeOps.list())

	f.clock.Advance(CleanupMinInterval + time.Second)
	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Equal(t, 2, f.calls.count("refresh"), "the cleanup run itself went ahead")
	require.Len(t, f.bridgeOps.list(), first, "the companion stage was throttled")
	require.Empty(t, f.lastRun(t).Failed())

	f.clock.Advance(CloudKitMinInterval)
	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))
	require.Len(t, f.bridgeOps.list(), 2*first)
}
