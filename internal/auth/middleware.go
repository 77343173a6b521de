package auth

import (
	"net/http"
	"strings"
	"time"

	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken verifies an access token and injects the operator's
// identity into the request context. Role checks belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := Identity{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}
		ctx := WithClientIP(WithIdentity(c.Request.Context(), id), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", logger.FromGin(c).With("user_id", id.UserID, "tenant_id", id.TenantID))
		c.Next()
	}
}
