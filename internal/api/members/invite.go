// invite.go implements the invitation lifecycle: invite, accept, resend.
// Raw invitation tokens are returned exactly once and only their bcrypt hash
// is stored, the same way the bootstrap admin password is handled.
package members

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

// inviteValidity is how long an invitation token stays acceptable before
// ResendInvitation has to mint a fresh one.
const inviteValidity = 7 * 24 * time.Hour

type inviteRequest struct {
	FirstName string  `json:"firstName" binding:"required"`
	LastName  string  `json:"lastName" binding:"required"`
	Email     string  `json:"email" binding:"required"`
	Phone     *string `json:"phone"`
	RoleID    string  `json:"roleId" binding:"required"`
}

func mintInviteToken() (raw, hash string, err error) {
	raw = uuid.New().String()
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return raw, string(hashed), nil
}

// InviteHandler creates a member in the invited state and returns the raw
// invitation token once. Re-inviting an existing email returns 409.
// POST /api/v1/companies/:companyId/members/invite
func (h *Handlers) InviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)

		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		rawToken, tokenHash, err := mintInviteToken()
		if err != nil {
			writeError(c, err)
			return
		}

		expires := time.Now().Add(inviteValidity)
		member := &models.TeamMember{
			CompanyID:       companyID,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			Email:           req.Email,
			Phone:           req.Phone,
			RoleID:          req.RoleID,
			InviteTokenHash: &tokenHash,
			InviteExpiresAt: &expires,
		}
		if err := h.repo.Invite(c.Request.Context(), member); err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionInviteMember, member.ID, map[string]interface{}{
			"email":  member.Email,
			"roleId": member.RoleID,
		})

		// The raw token is handed to the invitation mailer by the caller; it
		// is never persisted and never retrievable again.
		c.JSON(http.StatusCreated, gin.H{
			"member":      member,
			"inviteToken": rawToken,
		})
	}
}

type acceptRequest struct {
	Token string `json:"token" binding:"required"`
}

// AcceptHandler activates an invited member. It takes no bearer token: the
// invitee has no credentials yet, the token is the proof. The token is checked
// against the stored bcrypt hash before any state changes.
// POST /api/v1/companies/:companyId/members/:id/accept
func (h *Handlers) AcceptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyID := c.Param("companyId")
		id := c.Param("id")

		var req acceptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "VALIDATION_ERROR"})
			return
		}

		m, err := h.repo.GetByID(c.Request.Context(), companyID, id)
		if err != nil {
			writeError(c, err)
			return
		}
		// A missing member and a wrong token answer identically so the
		// endpoint cannot be used to probe for member IDs.
		if m == nil || m.InviteTokenHash == nil ||
			bcrypt.CompareHashAndPassword([]byte(*m.InviteTokenHash), []byte(req.Token)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid invitation", "code": "UNAUTHENTICATED"})
			return
		}

		updated, err := h.repo.AcceptInvitation(c.Request.Context(), companyID, id)
		if err != nil {
			writeError(c, err)
			return
		}

		if h.recorder != nil {
			ip := c.ClientIP()
			h.recorder.LogActivity(&models.ActivityLog{
				CompanyID:  companyID,
				UserID:     updated.ID,
				Action:     models.ActionAcceptInvite,
				EntityType: "team_member",
				EntityID:   &updated.ID,
				Severity:   models.SeverityLow,
				IPAddress:  &ip,
			})
		}

		c.JSON(http.StatusOK, gin.H{"member": updated})
	}
}

// ResendHandler resets the expiry and mints a fresh token on the existing
// invited row. Idempotent with respect to membership: no duplicate member row
// is ever created.
// POST /api/v1/companies/:companyId/members/:id/resend
func (h *Handlers) ResendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, companyID, _, _ := middleware.ActorContext(c)
		id := c.Param("id")

		rawToken, tokenHash, err := mintInviteToken()
		if err != nil {
			writeError(c, err)
			return
		}

		updated, err := h.repo.ResendInvitation(c.Request.Context(), companyID, id, tokenHash, time.Now().Add(inviteValidity))
		if err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionInviteMember, id, map[string]interface{}{"resend": true})
		c.JSON(http.StatusOK, gin.H{
			"member":      updated,
			"inviteToken": rawToken,
		})
	}
}
