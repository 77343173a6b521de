package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/importer"
	"telecom-dialer/internal/rbac"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds a destination list upload.
const maxUploadBytes = 10 << 20

func (h Handlers) CreateCampaign(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req campaigns.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.TenantID = tenantID

	camp, err := h.Engine.Create(c.Request.Context(), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.audit(c, audit.EventTypeCampaignCreated, camp.ID, "campaign created", fmt.Sprintf(`{"name":%q,"destinations":%d}`, camp.Name, camp.Stats.Total))
	c.JSON(http.StatusCreated, camp)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	tenantID, _ := auth.TenantID(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"campaigns": h.Engine.List(tenantID)})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, camp)
}

type destinationsRequest struct {
	Destinations []string `json:"destinations" binding:"required"`
}

func (h Handlers) AddDestinations(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	var req destinationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destinations required"})
		return
	}
	h.addDestinations(c, camp.ID, req.Destinations, nil)
}

// ImportDestinations reads a CSV or XLSX upload (multipart field "file") and
// appends its numbers to the campaign.
func (h Handlers) ImportDestinations(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	format, err := importer.FormatFromName(fh.Filename)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()

	res, err := importer.Read(f, format)
	if err != nil {
		if !errors.Is(err, importer.ErrEmpty) {
			logger.FromGin(c).Warn("destination import failed", "campaign_id", camp.ID, "file", fh.Filename, "err", err)
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "rejected": res.Rejected})
		return
	}
	h.addDestinations(c, camp.ID, res.Destinations, res.Rejected)
}

func (h Handlers) addDestinations(c *gin.Context, id string, dests []string, rejected []importer.Rejected) {
	added, camp, err := h.Engine.AddDestinations(c.Request.Context(), id, dests)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.audit(c, audit.EventTypeDestinationsAdded, id, fmt.Sprintf("%d destinations added", added), "")
	c.JSON(http.StatusOK, gin.H{"added": added, "rejected": rejected, "campaign": camp})
}

func (h Handlers) StartCampaign(c *gin.Context) { h.lifecycle(c, "start", h.Engine.Start) }
func (h Handlers) PauseCampaign(c *gin.Context) { h.lifecycle(c, "pause", h.Engine.Pause) }
func (h Handlers) StopCampaign(c *gin.Context)  { h.lifecycle(c, "stop", h.Engine.Stop) }

type lifecycleFunc func(ctx context.Context, id string) (campaigns.Campaign, error)

func (h Handlers) lifecycle(c *gin.Context, action string, fn lifecycleFunc) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	from := camp.Status
	camp, err := fn(c.Request.Context(), camp.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.audit(c, audit.EventTypeCampaignLifecycle, camp.ID, action, fmt.Sprintf(`{"from":%q,"to":%q}`, from, camp.Status))
	c.JSON(http.StatusOK, camp)
}

// ListCalls returns the campaign's attempts, optionally filtered by ?status=.
func (h Handlers) ListCalls(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	attempts, err := h.Engine.Attempts(camp.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if st := c.Query("status"); st != "" {
		filtered := attempts[:0]
		for _, a := range attempts {
			if a.Status == calls.Status(st) {
				filtered = append(filtered, a)
			}
		}
		attempts = filtered
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	total := len(attempts)
	attempts = page(attempts, offset, limit)
	c.JSON(http.StatusOK, gin.H{"calls": attempts, "total": total})
}

func (h Handlers) ListFailures(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	failures, err := h.Engine.Failures(camp.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures, "total": len(failures)})
}

// campaign loads the :id campaign and enforces tenant isolation. Another
// tenant's campaign is reported as not found.
func (h Handlers) campaign(c *gin.Context) (campaigns.Campaign, bool) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign engine not configured"})
		return campaigns.Campaign{}, false
	}
	camp, err := h.Engine.Get(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return campaigns.Campaign{}, false
	}
	id, _ := auth.FromContext(c.Request.Context())
	if camp.TenantID != id.TenantID && !rbac.IsSuperAdmin(id.Role) {
		abortWith(c, campaigns.ErrNotFound)
		return campaigns.Campaign{}, false
	}
	return camp, true
}

func page[T any](in []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []T{}
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return in[offset:end]
}
