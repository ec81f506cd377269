// permissions.go implements matrix patching, duplication and usage stats.
package roles

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

type mergePermissionsRequest struct {
	Permissions models.PermissionMatrix `json:"permissions" binding:"required"`
}

// MergePermissionsHandler applies a partial matrix patch as an atomic merge
// against the latest stored matrix, so two admins editing different modules
// concurrently both land. A version-conflict error gets one automatic retry
// before surfacing.
// PATCH /api/v1/companies/:companyId/roles/:id/permissions
func (h *Handlers) MergePermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req mergePermissionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		id := c.Param("id")
		role, err := h.repo.MergePermissions(c.Request.Context(), companyID, id, req.Permissions, actorID)
		if errors.Is(err, apperr.ErrConflict) {
			role, err = h.repo.MergePermissions(c.Request.Context(), companyID, id, req.Permissions, actorID)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		if role == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found", "code": "NOT_FOUND"})
			return
		}

		h.audit(c, models.ActionPermissionGrant, role.ID, map[string]interface{}{
			"patchedModules": len(req.Permissions),
			"version":        role.Version,
		})
		c.JSON(http.StatusOK, gin.H{"role": role})
	}
}

type duplicateRoleRequest struct {
	Name      string                  `json:"name" binding:"required"`
	Overrides models.PermissionMatrix `json:"overrides"`
}

// DuplicateHandler copies a role's matrix into a new custom role with
// optional overrides merged on top.
// POST /api/v1/companies/:companyId/roles/:id/duplicate
func (h *Handlers) DuplicateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req duplicateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		role, err := h.repo.Duplicate(c.Request.Context(), companyID, c.Param("id"), req.Name, req.Overrides, actorID)
		if err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionCreateEntity, role.ID, map[string]interface{}{
			"name":     role.Name,
			"copiedOf": c.Param("id"),
		})
		c.JSON(http.StatusCreated, gin.H{"role": role})
	}
}

// UsageHandler reports how many members are bound to a role and when it was
// last used.
// GET /api/v1/companies/:companyId/roles/:id/usage
func (h *Handlers) UsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		stats, err := h.repo.GetUsageStats(c.Request.Context(), companyID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"usage": stats})
	}
}
