package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/metrics"
	"gorm.io/gorm"
)

// Dialector opens the driver for a database URL.
type Dialector func(dsn string) gorm.Dialector

// Open connects with the given dialector, applies pool settings and starts
// the pool gauge reporter. The reporter stops when ctx is cancelled or the
// store is closed.
func Open(ctx context.Context, kind string, dialect Dialector, cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(dialect(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if metrics.DBPoolMaxConnections != nil {
		metrics.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	s := New(db)
	gaugeCtx, stop := context.WithCancel(ctx)
	s.stopGauges = stop
	s.gaugesDone = make(chan struct{})
	go func() {
		defer close(s.gaugesDone)
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				if metrics.DBPoolOpenConnections != nil {
					metrics.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return s, nil
}

// Migrator runs AutoMigrate for one database kind. It is a no-op when the
// configured DBKind differs or migrate-at-start is disabled.
type Migrator struct {
	Kind    string
	Dialect Dialector
}

func (m *Migrator) Name() string { return m.Kind + "-schema" }

func (m *Migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DBKind != "" && cfg.DBKind != m.Kind {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(m.Dialect(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := Migrate(ctx, db); err != nil {
		return err
	}
	log.Info("Schema migration complete", "kind", m.Kind)
	return nil
}
