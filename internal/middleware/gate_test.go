package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type gateRoleSource struct {
	role *models.Role
}

func (s *gateRoleSource) GetByID(_ context.Context, _, _ string) (*models.Role, error) {
	return s.role, nil
}

type gateLimiter struct {
	allow      bool
	retryAfter time.Duration
}

func (l *gateLimiter) Allow(_ context.Context, _ string) (bool, time.Duration, error) {
	return l.allow, l.retryAfter, nil
}

func activeRole(level models.RoleLevel, matrix models.PermissionMatrix) *models.Role {
	return &models.Role{
		ID:          "role-1",
		CompanyID:   "co-1",
		Name:        "Gate Test",
		Level:       level,
		Permissions: matrix,
		IsActive:    true,
	}
}

func newGateRouter(t *testing.T, role *models.Role, limiter access.CheckLimiter) *gin.Engine {
	t.Helper()
	engine := access.NewEngine(&gateRoleSource{role: role}, nil, limiter, nil, nil, slog.Default())

	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/projects",
		RequirePermission(engine, models.ModuleProjects, models.ActionView),
		func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func gateRequest(t *testing.T, r *gin.Engine) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "user-1", "co-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// RequirePermission
// ---------------------------------------------------------------------------

func TestRequirePermission_Granted(t *testing.T) {
	role := activeRole(models.RoleLevelUser, models.PermissionMatrix{
		models.ModuleProjects: {View: true},
	})
	w := gateRequest(t, newGateRouter(t, role, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestRequirePermission_Denied(t *testing.T) {
	role := activeRole(models.RoleLevelUser, models.PermissionMatrix{
		models.ModuleProjects: {View: false},
	})
	w := gateRequest(t, newGateRouter(t, role, nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if code := errorCode(t, w); code != "PERMISSION_DENIED" {
		t.Errorf("code = %q, want PERMISSION_DENIED", code)
	}
}

func TestRequirePermission_AdminOverride(t *testing.T) {
	role := activeRole(models.RoleLevelAdmin, models.PermissionMatrix{})
	w := gateRequest(t, newGateRouter(t, role, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRequirePermission_RateLimited(t *testing.T) {
	role := activeRole(models.RoleLevelUser, models.PermissionMatrix{
		models.ModuleProjects: {View: true},
	})
	limiter := &gateLimiter{allow: false, retryAfter: 30 * time.Second}
	w := gateRequest(t, newGateRouter(t, role, limiter))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if code := errorCode(t, w); code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
}

func TestRequirePermission_ElevatedSkipsLimiter(t *testing.T) {
	role := activeRole(models.RoleLevelManager, models.PermissionMatrix{})
	limiter := &gateLimiter{allow: false, retryAfter: time.Minute}
	w := gateRequest(t, newGateRouter(t, role, limiter))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for elevated actor past a closed limiter", w.Code)
	}
}

func TestRequirePermission_NoActorContext(t *testing.T) {
	role := activeRole(models.RoleLevelUser, nil)
	engine := access.NewEngine(&gateRoleSource{role: role}, nil, nil, nil, nil, slog.Default())

	r := gin.New()
	// No AuthMiddleware in front of the gate.
	r.GET("/projects",
		RequirePermission(engine, models.ModuleProjects, models.ActionView),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := errorCode(t, w); code != "COMPANY_CONTEXT_MISSING" {
		t.Errorf("code = %q, want COMPANY_CONTEXT_MISSING", code)
	}
}
