package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kitefeed/internal/config"
	"kitefeed/internal/instruments"
	"kitefeed/internal/metrics"
	"kitefeed/internal/model"
	"kitefeed/internal/storage/postgres"
	"kitefeed/internal/ticker"
)

func main() {
	root := &cobra.Command{
		Use:          "kitefeed",
		Short:        "Zerodha Kite market data feed",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	tickerCmd := &cobra.Command{
		Use:   "ticker",
		Short: "Stream live ticks for the nearest weekly option chain",
		RunE:  runTicker,
	}

	tickerCmd.Flags().String("api-key", "", "Kite API key (static credentials)")
	tickerCmd.Flags().String("access-token", "", "Kite access token (static credentials)")
	tickerCmd.Flags().String("user-id", "", "profile user id for DB-backed credentials")
	tickerCmd.Flags().String("os-type", config.DefaultOSType(), "profile os_type row selector")
	tickerCmd.Flags().String("database-url", "", "Postgres DSN for profiles and instruments")
	tickerCmd.Flags().Duration("cred-poll-interval", 15*time.Second, "poll interval while waiting for refreshed credentials")
	tickerCmd.Flags().String("instruments-csv", "", "local instrument dump CSV for database-less runs")
	tickerCmd.Flags().String("underlying", "NIFTY", "index underlying for the option chain")
	tickerCmd.Flags().Uint32("anchor-token", 0, "index instrument token, 0 derives it from the underlying")
	tickerCmd.Flags().StringSlice("exclude-prefixes", []string{"NIFTYNXT"}, "tradingsymbol prefixes to exclude (comma-separated)")
	tickerCmd.Flags().String("stream-url", "wss://ws.kite.trade", "websocket endpoint")
	tickerCmd.Flags().String("mode", "full", "subscription mode (ltp, quote, full)")
	tickerCmd.Flags().Duration("run-duration", 0, "stop streaming after this long, 0 means run until signaled")
	tickerCmd.Flags().Duration("read-timeout", 15*time.Second, "liveness window without any server frame")
	tickerCmd.Flags().Duration("backoff-base", 250*time.Millisecond, "initial reconnect backoff")
	tickerCmd.Flags().Duration("backoff-cap", 30*time.Second, "maximum reconnect backoff")
	tickerCmd.Flags().Bool("tick-log", true, "log throttled tick samples")
	tickerCmd.Flags().Duration("tick-log-interval", 500*time.Millisecond, "minimum delay between tick log lines")
	tickerCmd.Flags().Duration("stats-interval", 30*time.Second, "coverage stats logging interval")
	tickerCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(tickerCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control-plane HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen-addr", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().String("database-url", "", "Postgres DSN for profiles")
	serveCmd.Flags().String("os-type", config.DefaultOSType(), "profile os_type row selector")
	serveCmd.Flags().String("callback-url", "", "login redirect template ({userid} or {user_id} substituted)")
	serveCmd.Flags().Bool("include-redirect-url", false, "pass redirect_url on minted login URLs")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	instrumentsCmd := &cobra.Command{
		Use:   "instruments",
		Short: "Refresh the instrument reference set from the Kite dump",
		RunE:  runInstruments,
	}

	instrumentsCmd.Flags().String("database-url", "", "Postgres DSN for instruments")
	instrumentsCmd.Flags().String("api-key", "", "Kite API key (static credentials)")
	instrumentsCmd.Flags().String("access-token", "", "Kite access token (static credentials)")
	instrumentsCmd.Flags().String("user-id", "", "profile user id for DB-backed credentials")
	instrumentsCmd.Flags().String("os-type", config.DefaultOSType(), "profile os_type row selector")
	instrumentsCmd.Flags().Int("expiry-days", 0, "keep only options expiring within N days, 0 keeps all")
	instrumentsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(instrumentsCmd)

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Fetch the user profile as a credential probe",
		RunE:  runProfile,
	}
	holdingsCmd := &cobra.Command{
		Use:   "holdings",
		Short: "Fetch portfolio holdings",
		RunE:  runHoldings,
	}
	for _, cmd := range []*cobra.Command{profileCmd, holdingsCmd} {
		cmd.Flags().String("api-key", "", "Kite API key (static credentials)")
		cmd.Flags().String("access-token", "", "Kite access token (static credentials)")
		cmd.Flags().String("user-id", "", "profile user id for DB-backed credentials")
		cmd.Flags().String("os-type", config.DefaultOSType(), "profile os_type row selector")
		cmd.Flags().String("database-url", "", "Postgres DSN for profiles")
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
		root.AddCommand(cmd)
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTicker(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadTicker(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Underlying == "" {
		return fmt.Errorf("underlying is required")
	}
	switch cfg.Mode {
	case model.ModeLTP, model.ModeQuote, model.ModeFull:
	default:
		return fmt.Errorf("invalid mode %q (want ltp, quote, or full)", cfg.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	var pg *postgres.Store
	if cfg.DatabaseURL != "" {
		pg, err = postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
	}

	var source ticker.CredentialSource
	if pg != nil && cfg.UserID != "" {
		source = postgres.NewCredentialWatcher(pg, cfg.UserID, cfg.OSType, cfg.CredPollInterval, logger)
	} else {
		if cfg.APIKey == "" || cfg.AccessToken == "" {
			return fmt.Errorf("api-key and access-token are required without user-id and database-url")
		}
		source = ticker.StaticCredentials{Creds: model.Credentials{
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
		}}
	}

	dump, err := loadInstrumentDump(ctx, cfg, pg)
	if err != nil {
		return err
	}

	universe, err := instruments.SelectWeekly(dump, instruments.Selection{
		Underlying:      cfg.Underlying,
		AnchorToken:     cfg.AnchorToken,
		ExcludePrefixes: cfg.ExcludePrefixes,
	})
	if err != nil {
		return err
	}

	store := ticker.NewStore()
	seed := make([]model.Instrument, 0, len(universe.Instruments)+1)
	seed = append(seed, universe.Instruments...)
	for _, inst := range dump {
		if inst.InstrumentToken == universe.AnchorToken {
			seed = append(seed, inst)
			break
		}
	}
	store.SeedMeta(seed)

	var sink ticker.TickSink
	if cfg.TickLog {
		printSink := ticker.NewPrintSink(store, cfg.TickLogInterval, logger)
		go printSink.Run(ctx)
		sink = printSink
	}

	stats := ticker.NewStatsReporter(store, len(universe.Tokens), cfg.StatsInterval, logger)
	go stats.Run(ctx)

	sup := ticker.NewSupervisor(ticker.SupervisorConfig{
		Session: ticker.SessionConfig{
			URL:         cfg.StreamURL,
			Tokens:      universe.Tokens,
			Mode:        cfg.Mode,
			ReadTimeout: cfg.ReadTimeout,
		},
		RunDuration: cfg.RunDuration,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, source, store, sink, logger)

	logger.Info("ticker start",
		zap.String("underlying", universe.Underlying),
		zap.String("expiry", universe.Expiry),
		zap.Uint32("anchor_token", universe.AnchorToken),
		zap.Int("universe", len(universe.Tokens)),
		zap.String("mode", cfg.Mode),
		zap.Duration("run_duration", cfg.RunDuration),
		zap.Duration("read_timeout", cfg.ReadTimeout),
	)

	return sup.Run(ctx)
}

// loadInstrumentDump prefers a local CSV, then the database. The selection
// itself happens later and is source-agnostic.
func loadInstrumentDump(ctx context.Context, cfg config.TickerConfig, pg *postgres.Store) ([]model.Instrument, error) {
	if cfg.InstrumentsCSV != "" {
		raw, err := os.ReadFile(cfg.InstrumentsCSV)
		if err != nil {
			return nil, fmt.Errorf("read instrument csv: %w", err)
		}
		return instruments.ParseCSV(raw)
	}
	if pg != nil {
		rows, err := pg.LoadInstruments(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("load instruments: %w", err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("instruments-csv or a database profile is required to build the universe")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
