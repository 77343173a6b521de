package httpapi

import (
	"io"
	"net/http"

	"telecom-dialer/internal/auth"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Live streams the caller's tenant updates as server-sent events.
func (h Handlers) Live(c *gin.Context) {
	if h.LiveFeed == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "live feed requires redis"})
		return
	}
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	updates, err := h.LiveFeed(c.Request.Context(), tenantID)
	if err != nil {
		logger.FromGin(c).Warn("live subscribe failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live feed unavailable"})
		return
	}
	c.Stream(func(w io.Writer) bool {
		u, ok := <-updates
		if !ok {
			return false
		}
		c.SSEvent(u.Kind, u)
		return true
	})
}
