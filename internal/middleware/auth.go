// Package middleware provides the Gin middleware chain for the access engine.
//
// Ordering is enforced in router.go:
//
//	RequestID, Metrics, Logger, CORS, Security, then per group
//	Auth, RequireCompanyParam, EdgeRateLimit, Permission gate, Handler
//
// Security headers run on every response including errors. The edge rate
// limit sits after auth so its buckets key on the authenticated actor; on the
// unauthenticated invitation route it keys on the client IP instead. Auth
// populates the actor context; the permission gate and handlers read from it.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/auth"
)

// Context keys set by AuthMiddleware.
const (
	ActorIDKey   = "actor_id"
	CompanyIDKey = "company_id"
	RoleIDKey    = "role_id"
	EmailKey     = "email"
)

// AuthMiddleware validates the bearer token and binds the actor context.
// A token without a company claim is rejected with COMPANY_CONTEXT_MISSING:
// tenant scope is mandatory on every business route.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
				"code":  "UNAUTHENTICATED",
			})
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		if claims.CompanyID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No company context in credentials",
				"code":  "COMPANY_CONTEXT_MISSING",
			})
			return
		}

		c.Set(ActorIDKey, claims.ActorID)
		c.Set(CompanyIDKey, claims.CompanyID)
		c.Set(RoleIDKey, claims.RoleID)
		c.Set(EmailKey, claims.Email)
		c.Next()
	}
}

// ActorContext reads the identity set by AuthMiddleware. ok is false when the
// route was not behind the auth middleware.
func ActorContext(c *gin.Context) (actorID, companyID, roleID string, ok bool) {
	actorID = c.GetString(ActorIDKey)
	companyID = c.GetString(CompanyIDKey)
	roleID = c.GetString(RoleIDKey)
	return actorID, companyID, roleID, actorID != "" && companyID != ""
}

// RequireCompanyParam rejects requests whose :companyId path segment does not
// match the authenticated tenant. A cross-tenant URL reads as missing context,
// not as a hint that the other tenant exists.
func RequireCompanyParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyID := c.GetString(CompanyIDKey)
		if param := c.Param("companyId"); param != "" && param != companyID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No company context for the requested resource",
				"code":  "COMPANY_CONTEXT_MISSING",
			})
			return
		}
		c.Next()
	}
}
