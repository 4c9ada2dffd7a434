package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/model"
)

// updateDeviceMetadata reports build and server versions on the device
// record. Without an access token or device id there is nothing to update.
func (o *Orchestrator) updateDeviceMetadata(ctx context.Context) error {
	if o.deps.Device == nil {
		return nil
	}
	auth, err := o.deps.Settings.AuthData(ctx)
	if err != nil {
		return err
	}
	if auth.AccessToken == "" || auth.DeviceID == "" {
		log.Debug("Cleanup: no device registration, skipping device metadata")
		return nil
	}

	info := model.DeviceVersionsInfo{
		AppVersion:    o.deps.Build.AppVersion,
		NativeVersion: o.deps.Build.NativeVersion,
	}
	versions, err := o.deps.Device.ServerVersions(ctx)
	if err != nil {
		log.Warn("Cleanup: server versions unavailable", "err", err)
	} else if versions != nil {
		info.BackendVersion = versions.BackendVersion
		info.DockerVersion = versions.DockerVersion
	}

	metadata, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode device metadata: %w", err)
	}
	if err := o.deps.Device.UpdateUserDevice(ctx, auth.DeviceID, string(metadata)); err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}
