// Package postgres registers a PostgreSQL local store for deployments that
// share one cache database between processes.
package postgres

import (
	"context"

	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/notification-cache/internal/registry/migrate"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dialect(dsn string) gorm.Dialector {
	return postgres.Open(dsn)
}

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.LocalStore, error) {
			cfg := config.FromContext(ctx)
			store, err := gormstore.Open(ctx, "postgres", dialect, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &gormstore.Migrator{Kind: "postgres", Dialect: dialect}})
}
