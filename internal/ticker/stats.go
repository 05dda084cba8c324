package ticker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/metrics"
)

// StatsReporter periodically logs how much of the subscribed universe has
// delivered data, so a silent feed is visible without tick logging on.
type StatsReporter struct {
	store    *Store
	universe int
	interval time.Duration
	logger   *zap.Logger
}

func NewStatsReporter(store *Store, universe int, interval time.Duration, logger *zap.Logger) *StatsReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StatsReporter{
		store:    store,
		universe: universe,
		interval: interval,
		logger:   logger,
	}
}

// Run reports until the context ends.
func (r *StatsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *StatsReporter) report() {
	received := r.store.ReceivedTokenCount()
	metrics.ReceivedTokens.Set(float64(received))
	r.logger.Info("stream stats",
		zap.Int("received_tokens", received),
		zap.Int("universe", r.universe),
	)
}
