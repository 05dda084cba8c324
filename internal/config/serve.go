package config

import (
	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the HTTP API command.
type ServeConfig struct {
	ListenAddr  string
	DatabaseURL string
	OSType      string

	// CallbackURL is the redirect target template for login URLs. Supports
	// {userid} and {user_id} placeholders.
	CallbackURL        string
	IncludeRedirectURL bool

	LogLevel string
}

// LoadServe merges config file, environment variables, and flags into
// ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}

	v.SetDefault("listen-addr", "127.0.0.1:8080")
	v.SetDefault("os-type", DefaultOSType())
	v.SetDefault("include-redirect-url", false)
	v.SetDefault("log-level", "info")

	cfg := ServeConfig{
		ListenAddr:         v.GetString("listen-addr"),
		DatabaseURL:        v.GetString("database-url"),
		OSType:             v.GetString("os-type"),
		CallbackURL:        v.GetString("callback-url"),
		IncludeRedirectURL: v.GetBool("include-redirect-url"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}
