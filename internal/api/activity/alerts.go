// alerts.go implements CRUD for the threshold alert rules the ingestion
// pipeline evaluates.
package activity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

type createAlertRequest struct {
	Type       string                 `json:"type" binding:"required"`
	Severity   models.Severity        `json:"severity"`
	Conditions models.AlertConditions `json:"conditions" binding:"required"`
	Recipients []string               `json:"recipients"`
	IsActive   *bool                  `json:"isActive"`
}

// CreateAlertHandler registers a new alert rule, armed.
// POST /api/v1/companies/:companyId/activity-alerts
func (h *Handlers) CreateAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req createAlertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}
		if req.Severity == "" {
			req.Severity = models.SeverityMedium
		}
		if !models.ValidSeverity(req.Severity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown severity", "code": "VALIDATION_ERROR"})
			return
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		alert := &models.ActivityLogAlert{
			CompanyID:  companyID,
			Type:       req.Type,
			Severity:   req.Severity,
			Conditions: req.Conditions,
			Recipients: req.Recipients,
			IsActive:   active,
		}
		if err := h.alerts.Create(c.Request.Context(), alert); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"alert": alert})
	}
}

// ListAlertsHandler lists all alert rules for the company.
// GET /api/v1/companies/:companyId/activity-alerts
func (h *Handlers) ListAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		list, err := h.alerts.List(c.Request.Context(), companyID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"alerts": list})
	}
}

type updateAlertRequest struct {
	Severity   *models.Severity        `json:"severity"`
	Conditions *models.AlertConditions `json:"conditions"`
	Recipients *[]string               `json:"recipients"`
	IsActive   *bool                   `json:"isActive"`
}

// UpdateAlertHandler applies a partial rule update.
// PATCH /api/v1/companies/:companyId/activity-alerts/:id
func (h *Handlers) UpdateAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req updateAlertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}
		if req.Severity != nil && !models.ValidSeverity(*req.Severity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown severity", "code": "VALIDATION_ERROR"})
			return
		}

		alert, err := h.alerts.Update(c.Request.Context(), companyID, c.Param("id"), repositories.AlertUpdate{
			Severity:   req.Severity,
			Conditions: req.Conditions,
			Recipients: req.Recipients,
			IsActive:   req.IsActive,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"alert": alert})
	}
}

// DeleteAlertHandler removes an alert rule.
// DELETE /api/v1/companies/:companyId/activity-alerts/:id
func (h *Handlers) DeleteAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		if err := h.alerts.Delete(c.Request.Context(), companyID, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
	}
}
