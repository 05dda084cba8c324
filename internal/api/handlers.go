package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kitefeed/internal/kite"
)

const healthPingTimeout = 2 * time.Second

func (s *Server) handleHealth(c *gin.Context) {
	dbOK := false
	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		dbOK = s.cfg.DB.Health(ctx) == nil
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"db":     dbOK,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleLoginURL(c *gin.Context) {
	userID := callbackUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id/userid"})
		return
	}

	profile, ok, err := s.cfg.Profiles.GetProfile(c.Request.Context(), userID, s.cfg.OSType)
	if err != nil {
		s.logger.Error("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	loginURL := kite.LoginURL(profile.APIKey)
	if s.cfg.IncludeRedirectURL && s.cfg.CallbackURL != "" {
		callback := kite.CallbackURLForUser(s.cfg.CallbackURL, userID)
		loginURL = kite.LoginURLWithRedirect(profile.APIKey, callback)
	}
	c.JSON(http.StatusOK, gin.H{"login_url": loginURL})
}

// handleCallback completes the login flow the broker redirects into:
// validate the redirect, exchange the request token, persist the session
// tokens on the user's profile row.
func (s *Server) handleCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kite callback error: " + errParam})
		return
	}
	if status := c.Query("status"); status != "" && status != "success" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kite callback status not success: " + status})
		return
	}

	userID := callbackUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id/userid"})
		return
	}
	requestToken := c.Query("request_token")
	if requestToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing request_token"})
		return
	}

	profile, ok, err := s.cfg.Profiles.GetProfile(c.Request.Context(), userID, s.cfg.OSType)
	if err != nil {
		s.logger.Error("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	session, err := s.cfg.Exchange(c.Request.Context(), profile.APIKey, profile.APISecret, requestToken)
	if err != nil {
		s.logger.Error("token exchange failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	updated, err := s.cfg.Profiles.UpdateSessionTokens(c.Request.Context(),
		userID, s.cfg.OSType, requestToken, session.AccessToken, session.PublicToken)
	if err != nil {
		s.logger.Error("session token store failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session token store failed"})
		return
	}
	if updated == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	s.logger.Info("session tokens stored",
		zap.String("user_id", userID),
		zap.String("session_user_id", session.UserID))
	c.JSON(http.StatusOK, gin.H{
		"status":        "stored",
		"user_id_param": userID,
		"user_id":       session.UserID,
		"public_token":  session.PublicToken,
	})
}

func (s *Server) handleTicks(c *gin.Context) {
	if s.cfg.Ticks == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tick stream not running"})
		return
	}
	snapshot := s.cfg.Ticks.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"tracked":  len(snapshot),
		"received": s.cfg.Ticks.ReceivedTokenCount(),
		"states":   snapshot,
	})
}

func (s *Server) handleTick(c *gin.Context) {
	if s.cfg.Ticks == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tick stream not running"})
		return
	}
	token, err := strconv.ParseUint(c.Param("token"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instrument token"})
		return
	}
	state, ok := s.cfg.Ticks.Get(uint32(token))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument token"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// callbackUserID reads the user from either spelling the broker uses.
func callbackUserID(c *gin.Context) string {
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return c.Query("userid")
}
