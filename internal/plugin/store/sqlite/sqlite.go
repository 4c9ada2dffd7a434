// Package sqlite registers the embedded sqlite local store. It is the default
// for single-device deployments.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/notification-cache/internal/registry/migrate"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func dialect(dsn string) gorm.Dialector {
	return sqlite.Open(dsn)
}

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.LocalStore, error) {
			cfg := config.FromContext(ctx)
			if err := ensureParentDir(cfg.DBURL); err != nil {
				return nil, err
			}
			store, err := gormstore.Open(ctx, "sqlite", dialect, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &gormstore.Migrator{Kind: "sqlite", Dialect: dialect}})
}

func ensureParentDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqlite: create data dir %s: %w", dir, err)
	}
	return nil
}
