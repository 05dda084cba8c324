// Package api exposes the control-plane HTTP surface: health, login URL
// minting, the login callback, and live tick inspection.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kitefeed/internal/kite"
	"kitefeed/internal/storage"
	"kitefeed/internal/ticker"
)

const shutdownGrace = 5 * time.Second

// ExchangeFunc trades a login request token for session tokens using one
// user's key pair.
type ExchangeFunc func(ctx context.Context, apiKey, apiSecret, requestToken string) (kite.SessionToken, error)

// KiteExchange is the production ExchangeFunc. baseURL overrides the API
// host, empty means the default.
func KiteExchange(baseURL string) ExchangeFunc {
	return func(ctx context.Context, apiKey, apiSecret, requestToken string) (kite.SessionToken, error) {
		c := kite.NewClient(apiKey, "")
		if baseURL != "" {
			c.BaseURL = baseURL
		}
		return c.ExchangeRequestToken(ctx, apiSecret, requestToken)
	}
}

// ServerConfig wires the handler dependencies. DB and Ticks are optional;
// the matching endpoints degrade when they are absent.
type ServerConfig struct {
	ListenAddr  string
	OSType      string
	CallbackURL string

	// IncludeRedirectURL adds redirect_url to minted login URLs. Most API
	// keys reject the override, so off by default.
	IncludeRedirectURL bool

	Profiles storage.ProfileStore
	DB       storage.Pinger
	Exchange ExchangeFunc
	Ticks    *ticker.Store
}

// Server serves the control-plane API.
type Server struct {
	cfg     ServerConfig
	logger  *zap.Logger
	started time.Time
}

func NewServer(cfg ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == nil {
		cfg.Exchange = KiteExchange("")
	}
	return &Server{cfg: cfg, logger: logger, started: time.Now()}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/ticks", s.handleTicks)
		api.GET("/ticks/:token", s.handleTick)

		kiteAPI := api.Group("/kite")
		{
			kiteAPI.GET("/login_url", s.handleLoginURL)
			kiteAPI.GET("/callback", s.handleCallback)
		}
	}
	return router
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http api stopped")
	return <-errCh
}
