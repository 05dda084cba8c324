package ticker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/metrics"
	"kitefeed/internal/model"
)

// ErrNoFreshCredentials is returned by credential sources that cannot
// produce replacements, such as a static environment-backed source.
var ErrNoFreshCredentials = errors.New("no fresh credentials available")

// CredentialSource supplies streaming credentials. After the feed rejects a
// pair, AwaitFresh must block until credentials differing from stale are
// available, the context ends, or the source knows it can never produce
// any.
type CredentialSource interface {
	Current(ctx context.Context) (model.Credentials, error)
	AwaitFresh(ctx context.Context, stale model.Credentials) (model.Credentials, error)
}

// StaticCredentials is an environment-backed credential source. It can
// never mint a replacement, so a rejection is fatal and surfaces to the
// operator instead of retrying.
type StaticCredentials struct {
	Creds model.Credentials
}

func (s StaticCredentials) Current(ctx context.Context) (model.Credentials, error) {
	if s.Creds.APIKey == "" || s.Creds.AccessToken == "" {
		return model.Credentials{}, fmt.Errorf("api key and access token are required")
	}
	return s.Creds, nil
}

func (s StaticCredentials) AwaitFresh(ctx context.Context, stale model.Credentials) (model.Credentials, error) {
	return model.Credentials{}, ErrNoFreshCredentials
}

// SupervisorConfig controls the reconnect loop around sessions.
type SupervisorConfig struct {
	Session SessionConfig // Credentials field is filled per attempt

	// RunDuration bounds total streaming time; zero means unbounded.
	RunDuration time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Supervisor owns the session lifecycle: it dials sessions, classifies
// their outcomes, and decides whether and when to try again.
//
//   - transport errors reconnect with capped exponential backoff plus
//     jitter, reset after any session that delivered ticks
//   - an auth rejection is never redialed with the same credentials; the
//     credential source must produce a fresh pair first
//   - stop and run-duration expiry end the loop cleanly
type Supervisor struct {
	cfg    SupervisorConfig
	creds  CredentialSource
	store  *Store
	sink   TickSink
	logger *zap.Logger
}

func NewSupervisor(cfg SupervisorConfig, creds CredentialSource, store *Store, sink TickSink, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		creds:  creds,
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// Run streams until stopped, the run duration elapses, or a fatal
// condition is hit. It returns nil on a clean exit.
func (sup *Supervisor) Run(ctx context.Context) error {
	if len(sup.cfg.Session.Tokens) == 0 {
		return fmt.Errorf("subscription universe is empty")
	}

	if sup.cfg.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sup.cfg.RunDuration)
		defer cancel()
	}

	creds, err := sup.creds.Current(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	delay := sup.cfg.BackoffBase
	gen := sup.store.Generation()

	for attempt := 1; ; attempt++ {
		sessionCfg := sup.cfg.Session
		sessionCfg.Credentials = creds

		session := NewSession(sessionCfg, sup.store, gen, sup.sink, sup.logger)
		outcome := session.Run(ctx)

		// Anything still in flight from this session is now stale.
		gen = sup.store.AdvanceGeneration()

		switch outcome.Reason {
		case CloseStopRequested:
			sup.logger.Info("stop requested; exiting", zap.Int("attempt", attempt))
			return nil

		case CloseRunDurationElapsed:
			sup.logger.Info("run duration elapsed; exiting",
				zap.Int("attempt", attempt),
				zap.Duration("run_duration", sup.cfg.RunDuration),
			)
			return nil

		case CloseAuthRejected:
			sup.logger.Warn("credentials rejected; awaiting fresh pair", zap.Error(outcome.Err))
			fresh, err := sup.creds.AwaitFresh(ctx, creds)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("credentials rejected and not refreshable: %w", err)
			}
			if fresh.Equal(creds) {
				return fmt.Errorf("credential source repeated the rejected pair")
			}
			creds = fresh
			delay = sup.cfg.BackoffBase
			continue

		default: // transport error
			if session.TicksReceived() > 0 {
				delay = sup.cfg.BackoffBase
			}
			sleep := jitter(delay)
			sup.logger.Warn("transport error; reconnecting",
				zap.Error(outcome.Err),
				zap.Int("attempt", attempt),
				zap.Duration("sleep", sleep),
			)
			if !sup.wait(ctx, sleep) {
				return nil
			}
			metrics.ReconnectsTotal.Inc()
			delay *= 2
			if delay > sup.cfg.BackoffCap {
				delay = sup.cfg.BackoffCap
			}
		}
	}
}

// wait sleeps for d unless the context ends first.
func (sup *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jitter spreads a delay over [d/2, d) so reconnecting clients do not
// thunder in lockstep.
func jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half))
}
