// lifecycle.go implements status transitions, role reassignment with history,
// and the bulk endpoint with per-item outcomes.
package members

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

type statusRequest struct {
	Status models.MemberStatus `json:"status" binding:"required"`
}

// UpdateStatusHandler applies one lifecycle transition. Illegal transitions
// (suspended → invited and the like) return 409.
// PATCH /api/v1/companies/:companyId/members/:id/status
func (h *Handlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		updated, err := h.repo.UpdateStatus(c.Request.Context(), companyID, c.Param("id"), req.Status)
		if err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionUpdateEntity, updated.ID, map[string]interface{}{"status": updated.Status})
		c.JSON(http.StatusOK, gin.H{"member": updated})
	}
}

type changeRoleRequest struct {
	RoleID string  `json:"roleId" binding:"required"`
	Reason *string `json:"reason"`
}

// ChangeRoleHandler reassigns a member's role. The member update and the
// history row are one transaction; clients always observe both or neither.
// POST /api/v1/companies/:companyId/members/:id/role
func (h *Handlers) ChangeRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req changeRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		history, err := h.repo.ChangeRole(c.Request.Context(), companyID, c.Param("id"), req.RoleID, actorID, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionRoleChange, history.MemberID, map[string]interface{}{
			"oldRoleId": history.OldRoleID,
			"newRoleId": history.NewRoleID,
		})
		c.JSON(http.StatusOK, gin.H{"change": history})
	}
}

// RoleHistoryHandler lists a member's role changes, newest first.
// GET /api/v1/companies/:companyId/members/:id/role-history
func (h *Handlers) RoleHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		page, perPage := pageParams(c)

		changes, total, err := h.repo.ListRoleChanges(c.Request.Context(), companyID, c.Param("id"), perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, envelope(changes, page, perPage, total))
	}
}

type bulkRequest struct {
	Action    models.BulkMemberAction `json:"action" binding:"required"`
	MemberIDs []string                `json:"memberIds" binding:"required"`
	RoleID    string                  `json:"roleId"`
	Reason    *string                 `json:"reason"`
}

// BulkHandler applies one action to a list of members. Outcomes are per-item:
// one member failing never rolls back the others.
// POST /api/v1/companies/:companyId/members/bulk
func (h *Handlers) BulkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}
		if len(req.MemberIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "memberIds must not be empty", "code": "VALIDATION_ERROR"})
			return
		}
		if req.Action == models.BulkChangeRole && req.RoleID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roleId is required for changeRole", "code": "VALIDATION_ERROR"})
			return
		}

		ctx := c.Request.Context()
		results := make([]models.BulkItemResult, 0, len(req.MemberIDs))
		succeeded := 0
		for _, id := range req.MemberIDs {
			err := h.applyBulkItem(ctx, companyID, actorID, id, req)
			result := models.BulkItemResult{MemberID: id, OK: err == nil}
			if err != nil {
				result.Error = err.Error()
			} else {
				succeeded++
			}
			results = append(results, result)
		}

		h.audit(c, models.ActionBulkOperation, string(req.Action), map[string]interface{}{
			"action":    req.Action,
			"total":     len(req.MemberIDs),
			"succeeded": succeeded,
		})
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func (h *Handlers) applyBulkItem(ctx context.Context, companyID, actorID, memberID string, req bulkRequest) error {
	switch req.Action {
	case models.BulkActivate:
		_, err := h.repo.UpdateStatus(ctx, companyID, memberID, models.MemberStatusActive)
		return err
	case models.BulkDeactivate:
		_, err := h.repo.UpdateStatus(ctx, companyID, memberID, models.MemberStatusInactive)
		return err
	case models.BulkChangeRole:
		_, err := h.repo.ChangeRole(ctx, companyID, memberID, req.RoleID, actorID, req.Reason)
		return err
	case models.BulkResendInvitation:
		_, tokenHash, err := mintInviteToken()
		if err != nil {
			return err
		}
		_, err = h.repo.ResendInvitation(ctx, companyID, memberID, tokenHash, time.Now().Add(inviteValidity))
		return err
	case models.BulkDelete:
		return h.repo.Delete(ctx, companyID, memberID)
	}
	return apperr.Validation("action", fmt.Sprintf("unknown bulk action %q", req.Action))
}
