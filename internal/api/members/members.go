// Package members implements the team-member endpoints: listing, invitation
// lifecycle, status transitions, role reassignment with history, and bulk
// operations with per-item outcomes.
package members

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// Handlers holds the member endpoints' dependencies.
type Handlers struct {
	repo     *repositories.MemberRepository
	recorder access.Recorder
}

// NewHandlers creates the member handler set. recorder may be nil in tests.
func NewHandlers(repo *repositories.MemberRepository, recorder access.Recorder) *Handlers {
	return &Handlers{repo: repo, recorder: recorder}
}

func (h *Handlers) audit(c *gin.Context, action models.ActivityAction, memberID string, details map[string]interface{}) {
	if h.recorder == nil {
		return
	}
	actorID, companyID, _, ok := middleware.ActorContext(c)
	if !ok {
		return
	}
	if c.GetBool(middleware.ElevatedKey) {
		if details == nil {
			details = map[string]interface{}{}
		}
		details["elevated"] = true
	}
	ip := c.ClientIP()
	h.recorder.LogActivity(&models.ActivityLog{
		CompanyID:  companyID,
		UserID:     actorID,
		Action:     action,
		EntityType: "team_member",
		EntityID:   &memberID,
		Details:    details,
		Severity:   models.SeverityMedium,
		IPAddress:  &ip,
	})
}

func writeError(c *gin.Context, err error) {
	status, code := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "code": code}
	if status == http.StatusInternalServerError {
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

// ListHandler lists the company's members, joined with role name/level.
// GET /api/v1/companies/:companyId/members?status=&roleId=&search=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		page, perPage := pageParams(c)

		filters := repositories.MemberFilters{Search: c.Query("search")}
		if v := c.Query("status"); v != "" {
			status := models.MemberStatus(v)
			if !models.ValidMemberStatus(status) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown member status", "code": "VALIDATION_ERROR"})
				return
			}
			filters.Status = &status
		}
		if v := c.Query("roleId"); v != "" {
			filters.RoleID = &v
		}

		list, total, err := h.repo.List(c.Request.Context(), companyID, filters, perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, envelope(list, page, perPage, total))
	}
}

// GetHandler retrieves one member.
// GET /api/v1/companies/:companyId/members/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		m, err := h.repo.GetByID(c.Request.Context(), companyID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Member not found", "code": "NOT_FOUND"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"member": m})
	}
}

// DeleteHandler removes a member row. Role-change history is retained for
// audit; only the member itself goes away.
// DELETE /api/v1/companies/:companyId/members/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		id := c.Param("id")

		if err := h.repo.Delete(c.Request.Context(), companyID, id); err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionDeleteEntity, id, nil)
		c.JSON(http.StatusOK, gin.H{"message": "Member deleted"})
	}
}
