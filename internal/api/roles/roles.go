// Package roles implements the role management endpoints: CRUD with soft
// delete, list with filters, permission-matrix patching, duplication, default
// bootstrap, usage stats and export.
package roles

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// Handlers holds the role endpoints' dependencies.
type Handlers struct {
	repo     *repositories.RoleRepository
	recorder access.Recorder
}

// NewHandlers creates the role handler set. recorder may be nil in tests.
func NewHandlers(repo *repositories.RoleRepository, recorder access.Recorder) *Handlers {
	return &Handlers{repo: repo, recorder: recorder}
}

func (h *Handlers) audit(c *gin.Context, action models.ActivityAction, roleID string, details map[string]interface{}) {
	if h.recorder == nil {
		return
	}
	actorID, companyID, _, ok := middleware.ActorContext(c)
	if !ok {
		return
	}
	ip := c.ClientIP()
	h.recorder.LogActivity(&models.ActivityLog{
		CompanyID:  companyID,
		UserID:     actorID,
		Action:     action,
		EntityType: "role",
		EntityID:   &roleID,
		Details:    details,
		Severity:   models.SeverityMedium,
		IPAddress:  &ip,
	})
}

func writeError(c *gin.Context, err error) {
	status, code := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "code": code}
	if status == http.StatusInternalServerError {
		// Do not leak driver/internal detail.
		body["error"] = "Internal error"
	}
	c.JSON(status, body)
}

func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("itemsPerPage", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func envelope(data interface{}, page, perPage, total int) gin.H {
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return gin.H{
		"data": data,
		"pagination": gin.H{
			"currentPage":  page,
			"totalPages":   totalPages,
			"totalItems":   total,
			"itemsPerPage": perPage,
		},
	}
}

type createRoleRequest struct {
	Name        string                  `json:"name" binding:"required"`
	Description *string                 `json:"description"`
	Level       models.RoleLevel        `json:"level" binding:"required"`
	Permissions models.PermissionMatrix `json:"permissions"`
}

// CreateHandler creates a role.
// POST /api/v1/companies/:companyId/roles
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req createRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		role := &models.Role{
			CompanyID:   companyID,
			Name:        req.Name,
			Description: req.Description,
			Level:       req.Level,
			Permissions: req.Permissions.Normalize(),
			IsActive:    true,
			CreatedBy:   &actorID,
		}
		if err := h.repo.Create(c.Request.Context(), role); err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionCreateEntity, role.ID, map[string]interface{}{"name": role.Name, "level": role.Level})

		warnings, suggestions := advise(role)
		c.JSON(http.StatusCreated, gin.H{
			"role":        role,
			"warnings":    warnings,
			"suggestions": suggestions,
		})
	}
}

// ListHandler lists a company's roles with filters and pagination.
// GET /api/v1/companies/:companyId/roles?level=&isActive=&search=&sortBy=&sortDesc=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		page, perPage := pageParams(c)

		filters := repositories.RoleFilters{
			Search:   c.Query("search"),
			SortBy:   c.Query("sortBy"),
			SortDesc: c.Query("sortDesc") == "true",
		}
		if v := c.Query("level"); v != "" {
			level := models.RoleLevel(v)
			if !models.ValidRoleLevel(level) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role level", "code": "VALIDATION_ERROR"})
				return
			}
			filters.Level = &level
		}
		if v := c.Query("isActive"); v != "" {
			active := v == "true"
			filters.IsActive = &active
		}

		list, total, err := h.repo.List(c.Request.Context(), companyID, filters, perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, envelope(list, page, perPage, total))
	}
}

// GetHandler retrieves one role with advisory warnings.
// GET /api/v1/companies/:companyId/roles/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		role, err := h.repo.GetByID(c.Request.Context(), companyID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if role == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found", "code": "NOT_FOUND"})
			return
		}

		warnings, suggestions := advise(role)
		c.JSON(http.StatusOK, gin.H{
			"role":        role,
			"warnings":    warnings,
			"suggestions": suggestions,
		})
	}
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// UpdateHandler applies a partial attribute update. Permission changes go
// through the permissions endpoint, not here.
// PATCH /api/v1/companies/:companyId/roles/:id
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		role, err := h.repo.Update(c.Request.Context(), companyID, c.Param("id"), repositories.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			IsActive:    req.IsActive,
			UpdatedBy:   actorID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if role == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found", "code": "NOT_FOUND"})
			return
		}

		h.audit(c, models.ActionUpdateEntity, role.ID, map[string]interface{}{"name": role.Name})
		c.JSON(http.StatusOK, gin.H{"role": role})
	}
}

// DeleteHandler soft-deletes a role. Default roles and roles with bound
// members are rejected with 409.
// DELETE /api/v1/companies/:companyId/roles/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		id := c.Param("id")

		if err := h.repo.SoftDelete(c.Request.Context(), companyID, id); err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionDeleteEntity, id, nil)
		c.JSON(http.StatusOK, gin.H{"message": "Role deactivated"})
	}
}

// InitializeDefaultsHandler bootstraps the default role set. Idempotent.
// POST /api/v1/companies/:companyId/roles/initialize-defaults
func (h *Handlers) InitializeDefaultsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		defaults, err := h.repo.InitializeDefaults(c.Request.Context(), companyID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"roles": defaults})
	}
}

// advise produces the advisory warnings for admin-level roles whose matrix
// coverage is incomplete. Advisory only: nothing here blocks a save.
func advise(role *models.Role) (warnings, suggestions []string) {
	warnings = []string{}
	suggestions = []string{}
	if role.Level != models.RoleLevelAdmin {
		return warnings, suggestions
	}

	var missing []string
	for _, module := range models.AllModules {
		perms := role.Permissions[module]
		if !perms.View || !perms.Create || !perms.Edit || !perms.Delete {
			missing = append(missing, string(module))
		}
	}
	if len(missing) > 0 {
		warnings = append(warnings,
			"admin-level role has incomplete permission coverage: "+strings.Join(missing, ", "))
		suggestions = append(suggestions,
			"admin-level actors are granted everything at check time regardless of the matrix; align the stored matrix to avoid confusing capability-driven UIs")
	}
	return warnings, suggestions
}
