// gate.go is the permission gate: route-level middleware that runs the
// validation engine before the handler. Denials name the module and action so
// the UI can explain what was missing; nothing about other tenants leaks.
package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// ElevatedKey is the gin.Context key under which the gate stores whether the
// elevated override applied, for downstream audit enrichment.
const ElevatedKey = "elevated"

// RequirePermission gates a route on one module/action capability.
func RequirePermission(engine *access.Engine, module models.ModuleName, action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, roleID, ok := ActorContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No company context in credentials",
				"code":  "COMPANY_CONTEXT_MISSING",
			})
			return
		}

		ip := c.ClientIP()
		session := c.GetString(RequestIDKey)
		decision, err := engine.Validate(c.Request.Context(), access.CheckRequest{
			CompanyID: companyID,
			ActorID:   actorID,
			RoleID:    roleID,
			Module:    module,
			Action:    action,
			IPAddress: &ip,
			SessionID: &session,
		})
		if err != nil {
			abortOnCheckError(c, err)
			return
		}

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "Permission denied",
				"code":   "PERMISSION_DENIED",
				"module": module,
				"action": action,
			})
			return
		}

		c.Set(ElevatedKey, decision.Elevated)
		c.Next()
	}
}

func abortOnCheckError(c *gin.Context, err error) {
	var re *apperr.RateLimitedError
	switch {
	case errors.As(err, &re):
		retry := int(re.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many permission checks",
			"code":        "RATE_LIMITED",
			"retry_after": retry,
		})
	case errors.Is(err, apperr.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthenticated",
			"code":  "UNAUTHENTICATED",
		})
	case apperr.IsValidation(err):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "VALIDATION_ERROR",
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Permission check failed",
		})
	}
}
