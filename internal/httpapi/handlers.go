package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/middleware"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

type handler struct {
	engine *tokenauth.Engine
	log    logrus.FieldLogger
	checks map[string]Pinger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type tokenResponse struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

type eventResponse struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toTokenResponse(res *tokenauth.LoginResult) tokenResponse {
	return tokenResponse{
		UserID:           res.UserID,
		SessionID:        res.FamilyID,
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := h.engine.Login(c.Request.Context(), tokenauth.LoginRequest{
		Identifier: req.Email,
		Password:   req.Password,
	})
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	respondOK(c, http.StatusOK, "logged in", toTokenResponse(res))
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "refresh_token is required")
		return
	}

	res, err := h.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, "refresh", err)
		return
	}
	respondOK(c, http.StatusOK, "refreshed", toTokenResponse(res))
}

func (h *handler) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.engine.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.fail(c, "logout", err)
		return
	}
	respondOK(c, http.StatusOK, "logged out", nil)
}

func (h *handler) listSessions(c *gin.Context) {
	id, _ := middleware.Identity(c)

	families, err := h.engine.ActiveFamilies(c.Request.Context(), id.UserID)
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}

	out := make([]sessionResponse, 0, len(families))
	for _, f := range families {
		out = append(out, sessionResponse{
			SessionID: f.FamilyID,
			IPAddress: f.IPAddress,
			UserAgent: f.UserAgent,
			CreatedAt: f.CreatedAt,
			ExpiresAt: f.LatestExpiresAt,
			Current:   f.FamilyID == id.FamilyID,
		})
	}
	respondOK(c, http.StatusOK, "", out)
}

func (h *handler) revokeSession(c *gin.Context) {
	id, _ := middleware.Identity(c)

	outcome, err := h.engine.RevokeUserFamily(c.Request.Context(), id.UserID, c.Param("familyID"))
	if err != nil {
		h.fail(c, "revoke session", err)
		return
	}
	if outcome == tokenauth.FamilyUnknown {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}
	respondOK(c, http.StatusOK, outcome.String(), nil)
}

func (h *handler) revokeAll(c *gin.Context) {
	id, _ := middleware.Identity(c)

	n, err := h.engine.LogoutAll(c.Request.Context(), id.UserID)
	if err != nil {
		h.fail(c, "revoke all", err)
		return
	}
	respondOK(c, http.StatusOK, "all sessions revoked", gin.H{"revoked": n})
}

func (h *handler) securityEvents(c *gin.Context) {
	id, _ := middleware.Identity(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := h.engine.SecurityEvents(c.Request.Context(), id.UserID, limit)
	if err != nil {
		h.fail(c, "security events", err)
		return
	}
	respondOK(c, http.StatusOK, "", toEventResponses(events))
}

func toEventResponses(events []session.SecurityEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			Type:      ev.Type,
			SessionID: ev.FamilyID,
			IPAddress: ev.IPAddress,
			Metadata:  ev.Metadata,
			CreatedAt: ev.CreatedAt,
		})
	}
	return out
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.log.WithError(err).WithField("check", name).Warn("health check failed")
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, envelope{Status: "error", Error: "degraded", Data: failed})
		return
	}
	respondOK(c, http.StatusOK, "ok", nil)
}

// fail maps engine errors onto HTTP statuses. Refresh failures of every kind
// collapse to one 401 so clients cannot tell a replay from an expiry.
func (h *handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, tokenauth.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "invalid request")
	case errors.Is(err, tokenauth.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, tokenauth.ErrSessionInvalid):
		respondError(c, http.StatusUnauthorized, "session invalid")
	case errors.Is(err, tokenauth.ErrLoginLocked):
		respondError(c, http.StatusTooManyRequests, "too many failed attempts, try again later")
	case errors.Is(err, tokenauth.ErrRefreshRateLimited):
		respondError(c, http.StatusTooManyRequests, "refresh rate limited")
	case errors.Is(err, tokenauth.ErrEventsUnsupported):
		respondError(c, http.StatusNotImplemented, "security events are not queryable")
	case errors.Is(err, tokenauth.ErrStorageFailure),
		errors.Is(err, tokenauth.ErrLockoutUnavailable),
		errors.Is(err, tokenauth.ErrCredentialsUnavailable):
		h.log.WithError(err).WithField("op", op).Error("session backend unavailable")
		respondError(c, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusServiceUnavailable, "request canceled")
	default:
		h.log.WithError(err).WithField("op", op).Error("unexpected error")
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
