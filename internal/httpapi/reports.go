package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"telecom-dialer/internal/importer"
	"telecom-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Summary returns call outcome totals and DTMF response metrics for a
// campaign. The range defaults to the campaign's lifetime; ?from= and ?to=
// take RFC 3339 timestamps.
func (h Handlers) Summary(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng := reporting.TimeRange{From: camp.CreatedAt, To: h.now().UTC().Add(time.Second)}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		rng.To = t
	}

	ctx := c.Request.Context()
	summary, err := h.Reporting.CallsSummary(ctx, reporting.CallsSummaryRequest{TenantID: camp.TenantID, Range: rng, CampaignID: camp.ID})
	if err != nil {
		abortWith(c, err)
		return
	}
	responses, err := h.Reporting.ResponseMetrics(ctx, reporting.ResponseMetricsRequest{TenantID: camp.TenantID, Range: rng, CampaignID: camp.ID})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign": camp, "calls": summary, "responses": responses})
}

// Export downloads the campaign's attempts and dispatch failures as XLSX.
func (h Handlers) Export(c *gin.Context) {
	camp, ok := h.campaign(c)
	if !ok {
		return
	}
	attempts, err := h.Engine.Attempts(camp.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	failures, err := h.Engine.Failures(camp.ID)
	if err != nil {
		abortWith(c, err)
		return
	}
	body, err := importer.ExportAttempts(camp, attempts, failures)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="campaign_%s.xlsx"`, camp.ID))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", body)
}
