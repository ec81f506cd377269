// retention.go implements CRUD for the per-entity-type retention policies the
// background sweep applies.
package activity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

type createPolicyRequest struct {
	EntityType      string `json:"entityType" binding:"required"`
	RetentionPeriod int    `json:"retentionPeriod"`
	ArchiveAfter    int    `json:"archiveAfter" binding:"required"`
	DeleteAfter     int    `json:"deleteAfter" binding:"required"`
	IsActive        *bool  `json:"isActive"`
}

// CreatePolicyHandler registers a retention policy. One policy per entity
// type per company; duplicates return 409.
// POST /api/v1/companies/:companyId/retention-policies
func (h *Handlers) CreatePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req createPolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		policy := &models.RetentionPolicy{
			CompanyID:       companyID,
			EntityType:      req.EntityType,
			RetentionPeriod: req.RetentionPeriod,
			ArchiveAfter:    req.ArchiveAfter,
			DeleteAfter:     req.DeleteAfter,
			IsActive:        active,
		}
		if err := h.retention.Create(c.Request.Context(), policy); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"policy": policy})
	}
}

// ListPoliciesHandler lists the company's retention policies.
// GET /api/v1/companies/:companyId/retention-policies
func (h *Handlers) ListPoliciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		list, err := h.retention.List(c.Request.Context(), companyID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"policies": list})
	}
}

type updatePolicyRequest struct {
	RetentionPeriod *int  `json:"retentionPeriod"`
	ArchiveAfter    *int  `json:"archiveAfter"`
	DeleteAfter     *int  `json:"deleteAfter"`
	IsActive        *bool `json:"isActive"`
}

// UpdatePolicyHandler applies a partial policy update. The archive-before-
// delete ordering is re-validated against the merged values.
// PATCH /api/v1/companies/:companyId/retention-policies/:id
func (h *Handlers) UpdatePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req updatePolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		policy, err := h.retention.Update(c.Request.Context(), companyID, c.Param("id"), repositories.RetentionUpdate{
			RetentionPeriod: req.RetentionPeriod,
			ArchiveAfter:    req.ArchiveAfter,
			DeleteAfter:     req.DeleteAfter,
			IsActive:        req.IsActive,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"policy": policy})
	}
}

// DeletePolicyHandler removes a retention policy. Already-archived rows are
// unaffected; only future sweeps stop.
// DELETE /api/v1/companies/:companyId/retention-policies/:id
func (h *Handlers) DeletePolicyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		if err := h.retention.Delete(c.Request.Context(), companyID, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Retention policy deleted"})
	}
}
