package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var roleCols = []string{
	"id", "company_id", "name", "description", "level", "permissions",
	"is_default", "is_active", "version", "created_at", "updated_at",
	"created_by", "updated_by",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleRoleRow(id, name string, level models.RoleLevel, isDefault bool) *sqlmock.Rows {
	return sqlmock.NewRows(roleCols).
		AddRow(id, "co-1", name, nil, level, []byte(`{}`),
			isDefault, true, 1, time.Now(), time.Now(), nil, nil)
}

func emptyRoleRows() *sqlmock.Rows {
	return sqlmock.NewRows(roleCols)
}

func newRoleRepo(t *testing.T) (*RoleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRoleRepository(sqlx.NewDb(db, "postgres")), mock
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestGetRole_Found(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles WHERE").
		WillReturnRows(sampleRoleRow("role-1", "Administrator", models.RoleLevelAdmin, true))

	role, err := repo.GetByID(context.Background(), "co-1", "role-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role == nil {
		t.Fatal("expected role, got nil")
	}
	if role.Name != "Administrator" {
		t.Errorf("Name = %s, want Administrator", role.Name)
	}
	// scan normalizes the matrix so every module has an entry
	if len(role.Permissions) != len(models.AllModules) {
		t.Errorf("Permissions has %d modules, want %d", len(role.Permissions), len(models.AllModules))
	}
}

func TestGetRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles WHERE").WillReturnRows(emptyRoleRows())

	role, err := repo.GetByID(context.Background(), "co-1", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != nil {
		t.Error("expected nil role, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateRole_EmptyName(t *testing.T) {
	repo, _ := newRoleRepo(t)

	err := repo.Create(context.Background(), &models.Role{
		CompanyID: "co-1", Name: "   ", Level: models.RoleLevelCustom,
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRole_BadLevel(t *testing.T) {
	repo, _ := newRoleRepo(t)

	err := repo.Create(context.Background(), &models.Role{
		CompanyID: "co-1", Name: "Auditor", Level: models.RoleLevel("superuser"),
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRole_OK(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))

	role := &models.Role{
		CompanyID:   "co-1",
		Name:        "Auditor",
		Level:       models.RoleLevelCustom,
		Permissions: models.ViewOnlyMatrix(),
		IsActive:    true,
	}
	if err := repo.Create(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if role.Version != 1 {
		t.Errorf("Version = %d, want 1", role.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListRoles_WithFilters(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM roles WHERE.*ORDER BY").
		WillReturnRows(sampleRoleRow("role-2", "Manager", models.RoleLevelManager, true))

	level := models.RoleLevelManager
	roles, total, err := repo.List(context.Background(), "co-1",
		RoleFilters{Level: &level, Search: "man"}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(roles) != 1 {
		t.Fatalf("total = %d, len = %d, want 1/1", total, len(roles))
	}
}

// ---------------------------------------------------------------------------
// Update / MergePermissions
// ---------------------------------------------------------------------------

func TestUpdateRole_BlocksDeactivatingLastDefault(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT is_default FROM roles").
		WillReturnRows(sqlmock.NewRows([]string{"is_default"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT.*FROM roles WHERE.*is_default").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	inactive := false
	_, err := repo.Update(context.Background(), "co-1", "role-1", RoleUpdate{IsActive: &inactive})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMergePermissions_UnknownModule(t *testing.T) {
	repo, _ := newRoleRepo(t)

	patch := models.PermissionMatrix{"payroll": {View: true}}
	_, err := repo.MergePermissions(context.Background(), "co-1", "role-1", patch, "admin-1")
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMergePermissions_OK(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("UPDATE roles SET.*permissions \\|\\|.*RETURNING").
		WillReturnRows(sampleRoleRow("role-1", "Administrator", models.RoleLevelAdmin, true))

	patch := models.PermissionMatrix{
		models.ModuleReports: {View: true, Create: true},
	}
	role, err := repo.MergePermissions(context.Background(), "co-1", "role-1", patch, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role == nil {
		t.Fatal("expected updated role, got nil")
	}
}

// ---------------------------------------------------------------------------
// SoftDelete
// ---------------------------------------------------------------------------

func TestSoftDeleteRole_DefaultBlocked(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles WHERE").
		WillReturnRows(sampleRoleRow("role-1", "Administrator", models.RoleLevelAdmin, true))

	err := repo.SoftDelete(context.Background(), "co-1", "role-1")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSoftDeleteRole_BoundMembersBlocked(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles WHERE").
		WillReturnRows(sampleRoleRow("role-9", "Auditor", models.RoleLevelCustom, false))
	mock.ExpectQuery("SELECT COUNT.*FROM team_members").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	err := repo.SoftDelete(context.Background(), "co-1", "role-9")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSoftDeleteRole_OK(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles WHERE").
		WillReturnRows(sampleRoleRow("role-9", "Auditor", models.RoleLevelCustom, false))
	mock.ExpectQuery("SELECT COUNT.*FROM team_members").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE roles SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDelete(context.Background(), "co-1", "role-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// InitializeDefaults
// ---------------------------------------------------------------------------

func TestInitializeDefaults_Idempotent(t *testing.T) {
	repo, mock := newRoleRepo(t)
	existing := sqlmock.NewRows(roleCols).
		AddRow("r-1", "co-1", "Administrator", nil, models.RoleLevelAdmin, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil).
		AddRow("r-2", "co-1", "Manager", nil, models.RoleLevelManager, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil).
		AddRow("r-3", "co-1", "Member", nil, models.RoleLevelUser, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil)
	mock.ExpectQuery("SELECT.*FROM roles.*is_default = TRUE").WillReturnRows(existing)

	roles, err := repo.InitializeDefaults(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("len = %d, want 3", len(roles))
	}
	// no inserts expected when the set already exists
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInitializeDefaults_CreatesSet(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT.*FROM roles.*is_default = TRUE").WillReturnRows(emptyRoleRows())
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	created := sqlmock.NewRows(roleCols).
		AddRow("r-1", "co-1", "Administrator", nil, models.RoleLevelAdmin, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil).
		AddRow("r-2", "co-1", "Manager", nil, models.RoleLevelManager, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil).
		AddRow("r-3", "co-1", "Member", nil, models.RoleLevelUser, []byte(`{}`), true, true, 1, time.Now(), time.Now(), nil, nil)
	mock.ExpectQuery("SELECT.*FROM roles.*is_default = TRUE").WillReturnRows(created)

	roles, err := repo.InitializeDefaults(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("len = %d, want 3", len(roles))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetUsageStats
// ---------------------------------------------------------------------------

func TestGetUsageStats(t *testing.T) {
	repo, mock := newRoleRepo(t)
	lastLogin := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT COUNT.*MAX.*FROM team_members").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(4, lastLogin))

	stats, err := repo.GetUsageStats(context.Background(), "co-1", "role-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.MemberCount != 4 {
		t.Errorf("MemberCount = %d, want 4", stats.MemberCount)
	}
	if stats.LastUsedAt == nil {
		t.Error("expected LastUsedAt to be set")
	}
}
