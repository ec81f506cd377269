// analytics.go serves the derived read-only views: the windowed analytics
// report and the risk-indicator scan with acknowledgments.
package activity

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

// AnalyticsHandler computes the aggregate report for a time window. Defaults
// to the trailing 30 days.
// GET /api/v1/companies/:companyId/activity-logs/analytics?startDate=&endDate=
func (h *Handlers) AnalyticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		end := time.Now()
		start := end.AddDate(0, 0, -30)
		if v := c.Query("startDate"); v != "" {
			parsed, err := parseDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "startDate must be RFC3339 or YYYY-MM-DD", "code": "VALIDATION_ERROR"})
				return
			}
			start = parsed
		}
		if v := c.Query("endDate"); v != "" {
			parsed, err := parseDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "endDate must be RFC3339 or YYYY-MM-DD", "code": "VALIDATION_ERROR"})
				return
			}
			end = parsed
		}
		if !start.Before(end) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "startDate must precede endDate", "code": "VALIDATION_ERROR"})
			return
		}

		report, err := h.analytics.Report(c.Request.Context(), companyID, start, end)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"analytics": report})
	}
}

// RiskIndicatorsHandler runs the rule-based scan over recent activity.
// Indicators are recomputed on every call; only acknowledgments persist.
// GET /api/v1/companies/:companyId/activity-logs/risk-indicators
func (h *Handlers) RiskIndicatorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		indicators, err := h.risk.Scan(c.Request.Context(), companyID, time.Now())
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"indicators": indicators})
	}
}

type acknowledgeRequest struct {
	IndicatorType string  `json:"indicatorType" binding:"required"`
	Notes         *string `json:"notes"`
}

// AcknowledgeRiskHandler persists that an operator reviewed an indicator.
// Acknowledging the same indicator twice returns 409.
// POST /api/v1/companies/:companyId/activity-logs/risk-indicators/:indicatorId/acknowledge
func (h *Handlers) AcknowledgeRiskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req acknowledgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		ack := &models.RiskAcknowledgment{
			CompanyID:      companyID,
			IndicatorID:    c.Param("indicatorId"),
			IndicatorType:  req.IndicatorType,
			AcknowledgedBy: actorID,
			Notes:          req.Notes,
		}
		if err := h.alerts.AcknowledgeRisk(c.Request.Context(), ack); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"acknowledgment": ack})
	}
}
