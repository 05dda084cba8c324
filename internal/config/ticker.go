package config

import (
	"time"

	"github.com/spf13/pflag"
)

// TickerConfig holds configuration for the streaming command.
type TickerConfig struct {
	// Static credentials. When UserID is set and a database is configured,
	// credentials come from trade.profile instead.
	APIKey      string
	AccessToken string

	UserID           string
	OSType           string
	DatabaseURL      string
	CredPollInterval time.Duration

	// InstrumentsCSV points at a local instrument dump for database-less
	// runs.
	InstrumentsCSV string

	Underlying      string
	AnchorToken     uint32
	ExcludePrefixes []string

	StreamURL   string
	Mode        string
	RunDuration time.Duration
	ReadTimeout time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration

	TickLog         bool
	TickLogInterval time.Duration
	StatsInterval   time.Duration
	LogLevel        string
}

// LoadTicker merges config file, environment variables, and flags into
// TickerConfig.
func LoadTicker(cfgFile string, flags *pflag.FlagSet) (TickerConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return TickerConfig{}, err
	}

	v.SetDefault("os-type", DefaultOSType())
	v.SetDefault("cred-poll-interval", 15*time.Second)
	v.SetDefault("underlying", "NIFTY")
	v.SetDefault("exclude-prefixes", []string{"NIFTYNXT"})
	v.SetDefault("stream-url", "wss://ws.kite.trade")
	v.SetDefault("mode", "full")
	v.SetDefault("read-timeout", 15*time.Second)
	v.SetDefault("backoff-base", 250*time.Millisecond)
	v.SetDefault("backoff-cap", 30*time.Second)
	v.SetDefault("tick-log", true)
	v.SetDefault("tick-log-interval", 500*time.Millisecond)
	v.SetDefault("stats-interval", 30*time.Second)
	v.SetDefault("log-level", "info")

	cfg := TickerConfig{
		APIKey:           v.GetString("api-key"),
		AccessToken:      v.GetString("access-token"),
		UserID:           v.GetString("user-id"),
		OSType:           v.GetString("os-type"),
		DatabaseURL:      v.GetString("database-url"),
		CredPollInterval: v.GetDuration("cred-poll-interval"),
		InstrumentsCSV:   v.GetString("instruments-csv"),
		Underlying:       v.GetString("underlying"),
		AnchorToken:      v.GetUint32("anchor-token"),
		ExcludePrefixes:  getStringSlice(v, "exclude-prefixes"),
		StreamURL:        v.GetString("stream-url"),
		Mode:             v.GetString("mode"),
		RunDuration:      v.GetDuration("run-duration"),
		ReadTimeout:      v.GetDuration("read-timeout"),
		BackoffBase:      v.GetDuration("backoff-base"),
		BackoffCap:       v.GetDuration("backoff-cap"),
		TickLog:          v.GetBool("tick-log"),
		TickLogInterval:  v.GetDuration("tick-log-interval"),
		StatsInterval:    v.GetDuration("stats-interval"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}
