package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/metrics"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
)

const (
	modeWatch    = "watch"
	modeCloudKit = "cloudkit"
	modeNone     = "none"
)

// companionSync is stage 9. It runs behind its own gate, so it may be
// skipped even though the surrounding run went ahead.
func (o *Orchestrator) companionSync(ctx context.Context, force bool) error {
	if !o.deps.CompanionSync || o.deps.Bridge == nil {
		return nil
	}
	decision, f := o.cloudKitGate.TryAcquire(force)
	metrics.CountGate(o.cloudKitGate.Name(), decision.String())
	switch decision {
	case flight.Skip:
		log.Debug("Companion: throttled", "minInterval", CloudKitMinInterval)
		return nil
	case flight.Join:
		return f.Wait(ctx)
	}
	defer o.cloudKitGate.Release(f)

	mode, err := o.syncCompanion(ctx, force)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CountCompanionSync(mode, outcome)
	return err
}

// syncCompanion runs exactly one of the two modes. WatchConnectivity is
// checked first; when it is enabled CloudKit is not touched.
func (o *Orchestrator) syncCompanion(ctx context.Context, force bool) (string, error) {
	bridge := o.deps.Bridge
	supported, err := bridge.IsWatchSupported(ctx)
	if err != nil {
		return modeNone, fmt.Errorf("probe watch support: %w", err)
	}
	if !supported {
		return modeNone, nil
	}

	wc, err := bridge.IsWCSyncEnabled(ctx)
	if err != nil {
		return modeNone, fmt.Errorf("probe watch connectivity: %w", err)
	}
	if wc {
		if err := bridge.RetryNSENotificationsToWatch(ctx); err != nil {
			return modeWatch, fmt.Errorf("retry notifications to watch: %w", err)
		}
		return modeWatch, nil
	}

	enabled, err := bridge.IsCloudKitEnabled(ctx)
	if err != nil {
		return modeNone, fmt.Errorf("probe cloudkit: %w", err)
	}
	if !enabled {
		return modeNone, nil
	}
	if err := bridge.InitializeCloudKitSchema(ctx); err != nil {
		return modeCloudKit, fmt.Errorf("initialize cloudkit schema: %w", err)
	}
	if err := bridge.SetupCloudKitSubscriptions(ctx); err != nil {
		log.Warn("Companion: CloudKit subscription setup failed, retrying next run", "err", err)
	}

	var syncErr error
	completed, err := bridge.IsInitialSyncCompleted(ctx)
	if err != nil {
		syncErr = fmt.Errorf("probe initial sync: %w", err)
	} else if completed {
		if err := bridge.SyncFromCloudKitIncremental(ctx, force); err != nil {
			syncErr = fmt.Errorf("incremental cloudkit sync: %w", err)
		} else if o.deps.Cache != nil {
			if err := o.deps.Cache.Invalidate(ctx, registrycache.ListNotifications, registrycache.ListAppState); err != nil {
				log.Warn("Companion: cache invalidation failed", "err", err)
			}
		}
	}

	var retryErr error
	if err := bridge.RetryNSENotificationsToCloudKit(ctx); err != nil {
		retryErr = fmt.Errorf("retry notifications to cloudkit: %w", err)
	}
	return modeCloudKit, errors.Join(syncErr, retryErr)
}
