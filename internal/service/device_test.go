package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chirino/notification-cache/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDeviceMetadataReportsVersions(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Equal(t, "device-1", f.device.deviceID)
	var info model.DeviceVersionsInfo
	require.NoError(t, json.Unmarshal([]byte(f.device.metadata), &info))
	require.Equal(t, model.DeviceVersionsInfo{
		AppVersion:     "3.2.1",
		NativeVersion:  "321",
		BackendVersion: "1.9.0",
		DockerVersion:  "1.9.0-docker",
	}, info)
}

func TestDeviceMetadataWithoutServerVersions(t *testing.T) {
	f := newFixture(t, nil)
	f.device.versionsErr = errors.New("502")

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	var info model.DeviceVersionsInfo
	require.NoError(t, json.Unmarshal([]byte(f.device.metadata), &info))
	require.Equal(t, "3.2.1", info.AppVersion)
	require.Empty(t, info.BackendVersion)
	require.Empty(t, f.lastRun(t).Failed())
}

func TestDeviceMetadataSkippedWithoutRegistration(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.settings.SetAuthData(f.ctx, model.AuthData{AccessToken: "token"}))

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{}))

	require.Zero(t, f.calls.count("update-device"))
	require.Empty(t, f.lastRun(t).Failed())
}

func TestBlankTokenSkipsEveryAuthenticatedStage(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.settings.SetAuthData(f.ctx, model.AuthData{
		AccessToken: "   ",
		DeviceID:    "device-1",
		DeviceToken: "apns-token",
	}))
	rotations := 0

	require.NoError(t, f.orch.Cleanup(f.ctx, CleanupOptions{
		OnRotateDeviceKeys: func(context.Context) (bool, error) {
			rotations++
			return true, nil
		},
	}))

	require.Equal(t, []bool{true}, f.refresher.modes())
	require.Zero(t, f.calls.count("update-device"))
	require.Zero(t, rotations)
	require.Empty(t, f.lastRun(t).Failed())
}
