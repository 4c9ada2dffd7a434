package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/notification-cache/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrateCreatesSQLiteSchema(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, Command().Run(context.Background(), []string{"migrate", "--db-url", dsn}))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []any{&model.Bucket{}, &model.Notification{}, &model.MediaItem{}} {
		require.True(t, db.Migrator().HasTable(table))
	}
}
