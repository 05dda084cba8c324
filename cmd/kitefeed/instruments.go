package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kitefeed/internal/config"
	"kitefeed/internal/instruments"
	"kitefeed/internal/kite"
	"kitefeed/internal/model"
	"kitefeed/internal/storage/postgres"
)

func runInstruments(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadInstruments(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	creds := model.Credentials{APIKey: cfg.APIKey, AccessToken: cfg.AccessToken}
	if creds.APIKey == "" || creds.AccessToken == "" {
		if cfg.UserID == "" {
			return fmt.Errorf("api-key and access-token, or user-id, are required")
		}
		profile, ok, err := pg.GetProfile(ctx, cfg.UserID, cfg.OSType)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if !ok {
			return fmt.Errorf("no profile for user %s os %s", cfg.UserID, cfg.OSType)
		}
		creds = profile.Credentials()
		if creds.APIKey == "" || creds.AccessToken == "" {
			return fmt.Errorf("profile %s/%s is missing api key or access token", cfg.UserID, cfg.OSType)
		}
	}

	client := kite.NewClient(creds.APIKey, creds.AccessToken)
	refresher := instruments.NewRefresher(client, pg, instruments.RefreshConfig{
		ExpiryDays: cfg.ExpiryDays,
	}, logger)

	logger.Info("instrument refresh start",
		zap.String("database_url", postgres.RedactDSN(cfg.DatabaseURL)),
		zap.Int("expiry_days", cfg.ExpiryDays),
	)

	n, err := refresher.Refresh(ctx)
	if err != nil {
		return err
	}

	total, err := pg.CountInstruments(ctx)
	if err != nil {
		return err
	}
	logger.Info("instruments refreshed", zap.Int64("written", n), zap.Int64("total", total))
	return nil
}
