package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/model"
	registrymigrate "github.com/chirino/notification-cache/internal/registry/migrate"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"github.com/chirino/notification-cache/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	dsn := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBKind = "postgres"
	cfg.DBURL = dsn
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpsertNotifications(ctx, []model.Notification{
		{ID: "n1", BucketID: "b1", Title: "hello", CreatedAt: now, UpdatedAt: now, Synced: true},
	}))
	got, err := store.GetNotification(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Title)
	require.True(t, got.UpdatedAt.Equal(now))

	require.NoError(t, store.SetSetting(ctx, "lastCleanup", now.Format(time.RFC3339Nano)))
	v, ok, err := store.GetSetting(ctx, "lastCleanup")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, now.Format(time.RFC3339Nano), v)
}
