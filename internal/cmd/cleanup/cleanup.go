package cleanup

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/cmd/run"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the cleanup sub-command, which performs one run in the
// foreground and prints its report.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var force, skipNetwork, rotateKeys bool
	flags := append(run.Flags(&cfg),
		&cli.BoolFlag{
			Name:        "force",
			Category:    "Run:",
			Destination: &force,
			Usage:       "Bypass the throttle window and the retention interval",
		},
		&cli.BoolFlag{
			Name:        "skip-network",
			Category:    "Run:",
			Destination: &skipNetwork,
			Usage:       "Republish the local store without contacting the backend",
		},
		&cli.BoolFlag{
			Name:        "rotate-keys",
			Category:    "Run:",
			Destination: &rotateKeys,
			Usage:       "Rotate the device key pair if the last rotation is older than a week",
		},
	)
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Run one cleanup pass and print its report",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			app, err := run.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					log.Warn("Close error", "err", err)
				}
			}()
			app.Start(ctx)

			opts := service.CleanupOptions{Force: force, SkipNetwork: skipNetwork}
			if rotateKeys {
				opts.OnRotateDeviceKeys = app.Options().OnRotateDeviceKeys
			}
			if err := app.Orchestrator.Cleanup(ctx, opts); err != nil {
				return err
			}

			report, ok := app.Orchestrator.LastRun()
			if !ok {
				return nil
			}
			if failed := report.Failed(); len(failed) > 0 {
				log.Warn("Cleanup finished with failed stages", "stages", failed)
			}
			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
