package storage

import (
	"context"

	"kitefeed/internal/model"
)

// ProfileStore reads and updates broker session credentials.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID, osType string) (model.Profile, bool, error)
	UpdateSessionTokens(ctx context.Context, userID, osType, requestToken, accessToken, publicToken string) (int64, error)
}

// InstrumentStore persists the tradable instrument reference set.
type InstrumentStore interface {
	ReplaceInstruments(ctx context.Context, rows []model.Instrument, deleteAll bool) (int64, error)
	LoadInstruments(ctx context.Context, segments []string) ([]model.Instrument, error)
	CountInstruments(ctx context.Context) (int64, error)
}

// Pinger reports storage health.
type Pinger interface {
	Health(ctx context.Context) error
}
