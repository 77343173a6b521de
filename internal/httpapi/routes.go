package httpapi

import (
	"net/http"

	"telecom-dialer/internal/rbac"
	"telecom-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Register wires the operator API under /v1. authMW must put an
// auth.Identity on the request context.
func Register(r gin.IRouter, h Handlers, authMW gin.HandlerFunc, channels telephony.ChannelHandler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	api := v1.Group("")
	api.Use(authMW, rbac.RequireTenant())
	api.GET("/me", h.Me)
	api.GET("/session", h.SessionStatus)
	api.GET("/live", h.Live)

	camps := api.Group("/campaigns")
	{
		camps.POST("", rbac.RequireAnyRole(rbac.Operators...), h.CreateCampaign)
		camps.GET("", rbac.RequireAnyRole(rbac.Readers...), h.ListCampaigns)

		read := camps.Group("/:id", rbac.RequireAnyRole(rbac.Readers...))
		read.GET("", h.GetCampaign)
		read.GET("/calls", h.ListCalls)
		read.GET("/failures", h.ListFailures)
		read.GET("/summary", h.Summary)
		read.GET("/export", h.Export)

		op := camps.Group("/:id", rbac.RequireAnyRole(rbac.Operators...))
		op.POST("/destinations", h.AddDestinations)
		op.POST("/destinations/import", h.ImportDestinations)
		op.POST("/start", h.StartCampaign)
		op.POST("/pause", h.PauseCampaign)
		op.POST("/stop", h.StopCampaign)
	}

	chans := api.Group("/channels")
	{
		chans.GET("", rbac.RequireAnyRole(rbac.Watchers...), channels.List)
		chans.POST("/hangup", rbac.RequireAnyRole(rbac.Operators...), channels.Hangup)
	}
}
