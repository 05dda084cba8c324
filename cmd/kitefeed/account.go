package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kitefeed/internal/config"
	"kitefeed/internal/kite"
	"kitefeed/internal/model"
	"kitefeed/internal/storage/postgres"
)

func runProfile(cmd *cobra.Command, _ []string) error {
	client, ctx, cleanup, err := accountClient(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	profile, err := client.Profile(ctx)
	if err != nil {
		return err
	}
	return printJSON(profile)
}

func runHoldings(cmd *cobra.Command, _ []string) error {
	client, ctx, cleanup, err := accountClient(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	holdings, err := client.Holdings(ctx)
	if err != nil {
		return err
	}
	return printJSON(holdings)
}

// accountClient resolves credentials for the one-shot account probes and
// builds a REST client. cleanup releases the signal context and flushes
// the logger.
func accountClient(cmd *cobra.Command) (*kite.Client, context.Context, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadTicker(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cleanup := func() {
		stop()
		logger.Sync()
	}

	creds, err := resolveCredentials(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return kite.NewClient(creds.APIKey, creds.AccessToken), ctx, cleanup, nil
}

// resolveCredentials returns the static pair when both values are set,
// otherwise reads the user's profile row.
func resolveCredentials(ctx context.Context, cfg config.TickerConfig) (model.Credentials, error) {
	if cfg.APIKey != "" && cfg.AccessToken != "" {
		return model.Credentials{APIKey: cfg.APIKey, AccessToken: cfg.AccessToken}, nil
	}
	if cfg.UserID == "" || cfg.DatabaseURL == "" {
		return model.Credentials{}, fmt.Errorf("either api-key plus access-token, or user-id plus database-url, is required")
	}

	pg, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	profile, ok, err := pg.GetProfile(ctx, cfg.UserID, cfg.OSType)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return model.Credentials{}, fmt.Errorf("no profile for user %s os %s", cfg.UserID, cfg.OSType)
	}
	creds := profile.Credentials()
	if creds.APIKey == "" || creds.AccessToken == "" {
		return model.Credentials{}, fmt.Errorf("profile %s/%s is missing api key or access token", cfg.UserID, cfg.OSType)
	}
	return creds, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
