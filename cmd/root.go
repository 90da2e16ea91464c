package cmd

import (
	"fmt"

	"github.com/richoz-sanitaire/intervention-service/internal/config"
	"github.com/richoz-sanitaire/intervention-service/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "intervention-service",
	Short:         "Field-service interventions: inbox, calendar sync, reports, invoices",
	RunE:          runAPI,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(republishEventsCmd)
	rootCmd.AddCommand(issueTokenCmd)
}

// bootstrap загружает конфиг и строит логгер для любой команды.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
