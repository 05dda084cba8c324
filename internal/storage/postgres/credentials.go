package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/model"
)

const defaultPollInterval = 15 * time.Second

// CredentialWatcher serves streaming credentials from trade.profile and
// waits out token refreshes done elsewhere, such as the login callback or
// an operator updating the row directly.
type CredentialWatcher struct {
	store    *Store
	userID   string
	osType   string
	interval time.Duration
	logger   *zap.Logger
}

func NewCredentialWatcher(store *Store, userID, osType string, interval time.Duration, logger *zap.Logger) *CredentialWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialWatcher{store: store, userID: userID, osType: osType, interval: interval, logger: logger}
}

// Current returns the credentials stored for the profile.
func (w *CredentialWatcher) Current(ctx context.Context) (model.Credentials, error) {
	profile, ok, err := w.store.GetProfile(ctx, w.userID, w.osType)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return model.Credentials{}, fmt.Errorf("no profile for user %s os %s", w.userID, w.osType)
	}
	if profile.APIKey == "" {
		return model.Credentials{}, fmt.Errorf("profile %s/%s has no api key", w.userID, w.osType)
	}
	return profile.Credentials(), nil
}

// AwaitFresh polls the profile until its credentials differ from the
// rejected pair.
func (w *CredentialWatcher) AwaitFresh(ctx context.Context, stale model.Credentials) (model.Credentials, error) {
	w.logger.Info("waiting for refreshed credentials",
		zap.String("user_id", w.userID),
		zap.String("os_type", w.osType),
		zap.Duration("poll_interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		creds, err := w.Current(ctx)
		if err != nil {
			w.logger.Warn("credential poll failed", zap.Error(err))
		} else if creds.AccessToken != "" && !creds.Equal(stale) {
			w.logger.Info("refreshed credentials found", zap.String("user_id", w.userID))
			return creds, nil
		}

		select {
		case <-ctx.Done():
			return model.Credentials{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
