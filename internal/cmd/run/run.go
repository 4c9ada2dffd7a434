package run

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/config"
	routesystem "github.com/chirino/notification-cache/internal/plugin/route/system"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
)

// Command returns the run sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "run",
		Usage: "Run the notification cache daemon",
		Flags: Flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	d, err := Start(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := d.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Daemon stopped")
	return nil
}

// Daemon holds the running pipeline and the triggers that feed it.
type Daemon struct {
	App    *App
	Router *gin.Engine
	// ManagementAddr is the bound management address; useful when the port was 0.
	ManagementAddr net.Addr

	stopTicker      context.CancelFunc
	pushConn        *nats.Conn
	pushSub         *nats.Subscription
	closeManagement func(context.Context) error
}

// Start wires the pipeline, starts every trigger source and kicks off the
// startup cleanup. Readiness flips once the first run was triggered.
func Start(ctx context.Context, cfg *config.Config) (_ *Daemon, err error) {
	app, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := &Daemon{App: app}
	defer func() {
		if err != nil {
			_ = d.Shutdown(context.Background())
		}
	}()
	app.Start(ctx)

	d.Router, err = newRouter(cfg, app.Orchestrator, app.Options, app.Settings)
	if err != nil {
		return nil, err
	}
	d.ManagementAddr, d.closeManagement, err = startManagementServer(cfg.ManagementListener, d.Router)
	if err != nil {
		return nil, fmt.Errorf("failed to start management server: %w", err)
	}

	if cfg.NATSURL != "" {
		d.pushConn, err = nats.Connect(cfg.NATSURL, nats.Name("notification-cache-push"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.pushSub, err = subscribePush(ctx, d.pushConn, PushSubject(cfg.NATSSubjectPrefix), app.Orchestrator)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to push triggers: %w", err)
		}
	}

	tickerCtx, stopTicker := context.WithCancel(ctx)
	d.stopTicker = stopTicker
	go service.NewBackgroundTask(app.Orchestrator, cfg.BackgroundInterval, app.Options).Start(tickerCtx)

	if f := app.Orchestrator.Trigger(ctx, app.Options()); f != nil {
		log.Info("Startup cleanup triggered", "startedAt", f.StartedAt())
	}
	routesystem.MarkReady()
	return d, nil
}

// Shutdown stops the triggers, waits for a cleanup in flight, and closes the
// pipeline. A run still going when ctx expires is abandoned.
func (d *Daemon) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if d.stopTicker != nil {
		d.stopTicker()
	}
	if d.pushSub != nil {
		_ = d.pushSub.Unsubscribe()
	}
	if d.pushConn != nil {
		d.pushConn.Close()
	}
	if d.App != nil && d.App.Orchestrator != nil {
		if err := d.App.Orchestrator.Drain(ctx); err != nil {
			log.Warn("Cleanup still running at shutdown", "err", err)
		}
	}
	if d.closeManagement != nil {
		if err := d.closeManagement(ctx); err != nil {
			log.Warn("Management server shutdown", "err", err)
		}
	}
	return d.App.Close()
}
