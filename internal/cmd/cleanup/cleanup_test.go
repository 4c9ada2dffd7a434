package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/chirino/notification-cache/internal/service"
	"github.com/stretchr/testify/require"
)

func TestCleanupCommandPrintsReport(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := Command()
	cmd.Writer = &out

	err := cmd.Run(context.Background(), []string{
		"cleanup",
		"--platform", "web",
		"--db-url", filepath.Join(dir, "cache.db"),
		"--media-dir", filepath.Join(dir, "media"),
		"--force",
		"--skip-network",
	})
	require.NoError(t, err)

	var report service.RunReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.True(t, report.Force)
	require.True(t, report.SkipNetwork)
	require.Len(t, report.Stages, 9)
	require.Empty(t, report.Failed())
}

func TestCleanupCommandFailsOnBadConfig(t *testing.T) {
	cmd := Command()
	err := cmd.Run(context.Background(), []string{
		"cleanup",
		"--db-kind", "oracle",
		"--media-dir", t.TempDir(),
	})
	require.Error(t, err)
}
