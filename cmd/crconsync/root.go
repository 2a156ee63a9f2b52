package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crconsync/pkg/config"
	"crconsync/pkg/logger"
)

var (
	version = "dev"

	configPath string

	cfg       *config.AppConfig
	appLogger *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "crconsync",
	Short:         "Incremental export of CRCON game data to an external endpoint",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if appLogger, err = logger.New(logger.Config{
			Level:       cfg.LogLevel,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		appLogger.Debug("configuration loaded", zap.String("command", cmd.Name()))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appLogger != nil {
			_ = appLogger.Sync()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file (yaml, json or toml)")
	rootCmd.AddCommand(onceCmd, loopCmd, statusCmd, resetCmd, testDBCmd)
}
