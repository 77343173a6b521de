package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ChannelHandler exposes live channel snapshots and manual termination by
// channel name to operators.
//
// No business logic here.
type ChannelHandler struct {
	Provider Provider

	// OnHangup is called after every operator hangup attempt (audit hook). Optional.
	OnHangup func(ctx context.Context, channel string, err error)
}

type hangupRequest struct {
	Channel string `json:"channel" binding:"required"`
}

func (h ChannelHandler) List(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}
	chans, err := h.Provider.ListActiveChannels(c.Request.Context())
	if err != nil {
		log.Warn("list channels failed", "err", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans, "count": len(chans)})
}

func (h ChannelHandler) Hangup(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}
	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Channel) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channel required"})
		return
	}

	err := h.Provider.HangupByChannel(c.Request.Context(), req.Channel)
	if h.OnHangup != nil {
		h.OnHangup(c.Request.Context(), req.Channel, err)
	}
	if err != nil {
		log.Warn("operator hangup failed", "channel", req.Channel, "err", err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": req.Channel, "hungup": true})
}

func statusFor(err error) int {
	switch {
	case IsConnectionError(err), errors.Is(err, ErrAckTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrHangupFailed):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
