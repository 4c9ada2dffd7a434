package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDaemonServesManagementAPI(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Start(ctx, cfg)
	require.NoError(t, err)
	base := fmt.Sprintf("http://127.0.0.1:%d", d.ManagementAddr.(*net.TCPAddr).Port)

	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The startup run holds the throttle window.
	require.Eventually(t, func() bool {
		return !d.App.Orchestrator.CleanupState().InFlight
	}, 10*time.Second, 10*time.Millisecond)
	resp, err = http.Post(base+"/v1/cleanup", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(base+"/v1/cleanup", "application/json", strings.NewReader(`{"force":true,"wait":true}`))
	require.NoError(t, err)
	var report struct {
		ID     string `json:"id"`
		Force  bool   `json:"force"`
		Stages []any  `json:"stages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, report.Force)
	require.Len(t, report.Stages, 9)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))
}
