package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crconsync/internal/exporter"
	"crconsync/pkg/server"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single export (for cron)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Sync.Enabled {
			appLogger.Info("export is disabled")
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		appLogger.Info("crconsync one-time export")
		db, err := connectSource(ctx, cfg, appLogger)
		if err != nil {
			return err
		}
		rt, err := build(cfg, appLogger, db)
		if err != nil {
			db.Close()
			return err
		}
		defer rt.Close()

		out := rt.svc.RunOnce(ctx)
		if out.Phase == exporter.Failed {
			return out.Err
		}
		return nil
	},
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Export continuously every sync interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Sync.Enabled {
			appLogger.Info("export is disabled")
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		appLogger.Info("crconsync started",
			zap.String("db", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Name),
			zap.Duration("interval", cfg.Sync.Interval()),
			zap.String("sink", cfg.Delivery.Sink),
			zap.Int("batch_maps", cfg.Sync.BatchSize.MapHistory),
			zap.Int("batch_log_lines", cfg.Sync.BatchSize.LogLines),
			zap.Int("batch_player_sessions", cfg.Sync.BatchSize.PlayerSessions),
			zap.Int("batch_player_stats", cfg.Sync.BatchSize.PlayerStats))

		db, err := connectSource(ctx, cfg, appLogger)
		if err != nil {
			return err
		}
		rt, err := build(cfg, appLogger, db)
		if err != nil {
			db.Close()
			return err
		}
		defer rt.Close()

		var obsServer *server.Server
		if cfg.Server.Addr != "" {
			obsServer = server.New(cfg.Server.Addr, appLogger,
				func(ctx context.Context) (any, error) { return rt.svc.Status(ctx) },
				func(ctx context.Context) error { return db.PingContext(ctx) })
			go func() {
				if err := obsServer.Start(); err != nil {
					appLogger.Error("observability server failed", err)
				}
			}()
		}

		err = rt.svc.Loop(ctx, cfg.Sync.Interval())
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("export loop failed", err)
		}
		appLogger.Info("crconsync stopping")

		if obsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obsServer.Shutdown(shutdownCtx)
		}
		return err
	},
}

var testDBCmd = &cobra.Command{
	Use:   "test-db",
	Short: "Check the database connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connectSource(cmd.Context(), cfg, appLogger)
		if err != nil {
			return err
		}
		return db.Close()
	},
}
