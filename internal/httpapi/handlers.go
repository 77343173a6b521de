package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/monitor"
	"telecom-dialer/internal/rbac"
	"telecom-dialer/internal/reporting"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionState reports the manager session's connection state.
type SessionState interface {
	State() ami.State
}

// LiveFeed streams a tenant's monitoring updates until ctx is done.
type LiveFeed func(ctx context.Context, tenantID string) (<-chan monitor.Update, error)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Engine    *campaigns.Engine
	Reporting *reporting.Service
	Audit     *audit.Service
	Session   SessionState
	// LiveFeed is nil when no Redis is configured.
	LiveFeed LiveFeed

	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	TenantID string `json:"tenant_id" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	if !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{UserID: req.UserID, TenantID: req.TenantID, Role: req.Role})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	Role         string `json:"role" binding:"required"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token and a known role required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, req.Role, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	c.JSON(http.StatusOK, id)
}

// --- Session ---

func (h Handlers) SessionStatus(c *gin.Context) {
	if h.Session == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "manager session not configured"})
		return
	}
	st := h.Session.State()
	c.JSON(http.StatusOK, gin.H{"state": st, "connected": st == ami.StateConnected})
}

// --- helpers ---

func (h Handlers) actor(c *gin.Context) audit.Actor {
	id, _ := auth.FromContext(c.Request.Context())
	return audit.Actor{TenantID: id.TenantID, UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

// audit records a best-effort audit event; failures are logged only.
func (h Handlers) audit(c *gin.Context, typ audit.EventType, campaignID, message, metadata string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogCampaign(c.Request.Context(), h.actor(c), typ, campaignID, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err, "type", typ)
	}
}

// OnChannelHangup adapts the audit trail to telephony.ChannelHandler.OnHangup.
func (h Handlers) OnChannelHangup(ctx context.Context, channel string, hangupErr error) {
	if h.Audit == nil {
		return
	}
	id, _ := auth.FromContext(ctx)
	actor := audit.Actor{TenantID: id.TenantID, UserID: id.UserID, Role: id.Role, IP: auth.ClientIP(ctx)}
	if err := h.Audit.LogHangup(ctx, actor, channel, hangupErr); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err, "channel", channel)
	}
}

func abortWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, campaigns.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, campaigns.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, campaigns.ErrInvalidCampaign), errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
