package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/metrics"
	cleanuproute "github.com/chirino/notification-cache/internal/plugin/route/cleanup"
	settingsroute "github.com/chirino/notification-cache/internal/plugin/route/settings"
	registryroute "github.com/chirino/notification-cache/internal/registry/route"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/gin-gonic/gin"
)

// newRouter builds the management router: probes, metrics, the cleanup
// trigger and the settings routes.
func newRouter(cfg *config.Config, orch cleanuproute.Orchestrator, options func() service.CleanupOptions, store settingsroute.Store) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(accessLogMiddleware())
	} else {
		router.Use(accessLogMiddleware(probePaths...))
	}
	router.Use(metrics.MetricsMiddleware())

	if err := registryroute.MountAll(router); err != nil {
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}
	cleanuproute.MountRoutes(router, orch, options)
	settingsroute.MountRoutes(router, store)
	return router, nil
}

// startManagementServer serves handler on the management port. It returns the
// bound address and a shutdown function.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (net.Addr, func(context.Context) error, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("management listen failed: %w", err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("management server failed", "err", err)
		}
	}()

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				shutdownErr = err
			}
		})
		return shutdownErr
	}

	log.Info("Management server listening", "addr", lis.Addr())
	return lis.Addr(), closeFn, nil
}
