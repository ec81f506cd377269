package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/access"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/middleware"
)

type roleSourceStub struct {
	role *models.Role
}

func (s *roleSourceStub) GetByID(_ context.Context, _, _ string) (*models.Role, error) {
	return s.role, nil
}

func newAccessRouter(t *testing.T, role *models.Role) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := access.NewEngine(&roleSourceStub{role: role}, nil, nil, nil, nil, slog.Default())
	h := NewAccessHandlers(engine)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorIDKey, "user-1")
		c.Set(middleware.CompanyIDKey, "co-1")
		c.Set(middleware.RoleIDKey, role.ID)
		c.Next()
	})
	r.GET("/access/my-permissions", h.MyPermissionsHandler())
	return r
}

func TestMyPermissions_IncludesRoleMetadata(t *testing.T) {
	role := &models.Role{
		ID: "role-1", CompanyID: "co-1", Name: "Finance Manager",
		Level: models.RoleLevelManager, IsActive: true,
	}
	r := newAccessRouter(t, role)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/access/my-permissions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["roleId"] != "role-1" || body["roleName"] != "Finance Manager" {
		t.Errorf("role metadata = %v/%v, want role-1/Finance Manager", body["roleId"], body["roleName"])
	}
	if body["roleLevel"] != string(models.RoleLevelManager) {
		t.Errorf("roleLevel = %v, want manager", body["roleLevel"])
	}

	// a manager-level role sees the full matrix
	matrix, ok := body["permissions"].(map[string]any)
	if !ok || len(matrix) == 0 {
		t.Fatalf("permissions = %v, want a populated matrix", body["permissions"])
	}
	settings, ok := matrix[string(models.ModuleSettings)].(map[string]any)
	if !ok || settings["delete"] != true {
		t.Errorf("settings perms = %v, want full access for an elevated level", matrix[string(models.ModuleSettings)])
	}
}
