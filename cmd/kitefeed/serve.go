package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kitefeed/internal/api"
	"kitefeed/internal/config"
	"kitefeed/internal/metrics"
	"kitefeed/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if cfg.IncludeRedirectURL && cfg.CallbackURL == "" {
		return fmt.Errorf("callback-url is required with include-redirect-url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	pg, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	server := api.NewServer(api.ServerConfig{
		ListenAddr:         cfg.ListenAddr,
		OSType:             cfg.OSType,
		CallbackURL:        cfg.CallbackURL,
		IncludeRedirectURL: cfg.IncludeRedirectURL,
		Profiles:           pg,
		DB:                 pg,
	}, logger)

	logger.Info("serve start",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("os_type", cfg.OSType),
		zap.String("database_url", postgres.RedactDSN(cfg.DatabaseURL)),
	)

	return server.Run(ctx)
}
