// access.go exposes the validation engine to clients: explicit permission
// checks, the actor's full matrix for capability-driven UIs, and the list of
// modules the actor can at least view.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

// AccessHandlers serves the permission-check endpoints.
type AccessHandlers struct {
	engine *access.Engine
}

// NewAccessHandlers creates the access handler set.
func NewAccessHandlers(engine *access.Engine) *AccessHandlers {
	return &AccessHandlers{engine: engine}
}

func writeAccessError(c *gin.Context, err error) {
	status, code := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "code": code}
	if status == http.StatusInternalServerError {
		body["error"] = "Internal error"
	}
	var re *apperr.RateLimitedError
	if errors.As(err, &re) {
		retry := int(re.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		body["retry_after"] = retry
	}
	c.JSON(status, body)
}

type validateRequest struct {
	Module models.ModuleName `json:"module" binding:"required"`
	Action models.Action     `json:"action" binding:"required"`
}

// ValidateHandler runs one explicit permission check for the calling actor.
// The decision is returned either way; denials are 200s here, since the
// check itself succeeded.
// POST /api/v1/companies/:companyId/access/validate
func (h *AccessHandlers) ValidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, roleID, ok := middleware.ActorContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No company context in credentials", "code": "COMPANY_CONTEXT_MISSING"})
			return
		}

		var req validateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		ip := c.ClientIP()
		session := c.GetString(middleware.RequestIDKey)
		decision, err := h.engine.Validate(c.Request.Context(), access.CheckRequest{
			CompanyID: companyID,
			ActorID:   actorID,
			RoleID:    roleID,
			Module:    req.Module,
			Action:    req.Action,
			IPAddress: &ip,
			SessionID: &session,
		})
		if err != nil {
			writeAccessError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"decision": decision})
	}
}

// MyPermissionsHandler returns the calling actor's effective matrix plus role
// metadata. Elevated levels see the full matrix, matching what checks grant.
// GET /api/v1/companies/:companyId/access/my-permissions
func (h *AccessHandlers) MyPermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, roleID, ok := middleware.ActorContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No company context in credentials", "code": "COMPANY_CONTEXT_MISSING"})
			return
		}

		role, matrix, err := h.engine.GetRolePermissions(c.Request.Context(), companyID, roleID)
		if err != nil {
			writeAccessError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"permissions": matrix,
			"roleId":      role.ID,
			"roleName":    role.Name,
			"roleLevel":   role.Level,
		})
	}
}

// AccessibleModulesHandler lists the modules the actor can at least view.
// GET /api/v1/companies/:companyId/access/accessible-modules
func (h *AccessHandlers) AccessibleModulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, roleID, ok := middleware.ActorContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No company context in credentials", "code": "COMPANY_CONTEXT_MISSING"})
			return
		}

		modules, err := h.engine.GetAccessibleModules(c.Request.Context(), companyID, roleID)
		if err != nil {
			writeAccessError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"modules": modules})
	}
}
