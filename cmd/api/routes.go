package main

import (
	"log/slog"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/httpapi"
	"telecom-dialer/internal/metrics"
	"telecom-dialer/internal/reporting"
	"telecom-dialer/internal/telephony"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routerDeps struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	auth    *auth.Manager
	engine  *campaigns.Engine
	report  *reporting.Service
	audit   *audit.Service
	session httpapi.SessionState
	channel telephony.Provider
	live    httpapi.LiveFeed
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.log))
	r.Use(d.metrics.Middleware())

	r.GET("/metrics", d.metrics.Handler())

	h := httpapi.Handlers{
		Auth:      d.auth,
		Engine:    d.engine,
		Reporting: d.report,
		Audit:     d.audit,
		Session:   d.session,
		LiveFeed:  d.live,
	}
	channels := telephony.ChannelHandler{Provider: d.channel, OnHangup: h.OnChannelHangup}
	httpapi.Register(r, h, auth.RequireAccessToken(d.auth), channels)
	return r
}
