package config

import (
	"github.com/spf13/pflag"
)

// InstrumentsConfig holds configuration for the instrument refresh command.
type InstrumentsConfig struct {
	DatabaseURL string

	// Credentials for the dump download. When UserID is set the pair is
	// read from trade.profile.
	APIKey      string
	AccessToken string
	UserID      string
	OSType      string

	// ExpiryDays limits the refresh to options expiring within the window.
	// Zero keeps every expiry and replaces the whole table.
	ExpiryDays int

	LogLevel string
}

// LoadInstruments merges config file, environment variables, and flags
// into InstrumentsConfig.
func LoadInstruments(cfgFile string, flags *pflag.FlagSet) (InstrumentsConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return InstrumentsConfig{}, err
	}

	v.SetDefault("os-type", DefaultOSType())
	v.SetDefault("expiry-days", 0)
	v.SetDefault("log-level", "info")

	cfg := InstrumentsConfig{
		DatabaseURL: v.GetString("database-url"),
		APIKey:      v.GetString("api-key"),
		AccessToken: v.GetString("access-token"),
		UserID:      v.GetString("user-id"),
		OSType:      v.GetString("os-type"),
		ExpiryDays:  v.GetInt("expiry-days"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}
