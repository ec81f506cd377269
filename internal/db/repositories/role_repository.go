// role_repository.go implements RoleRepository, providing tenant-scoped database
// queries for role CRUD, duplication, default-role bootstrap, atomic permission-matrix
// merges, and usage statistics.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// RoleRepository handles database operations for roles.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new role repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, company_id, name, description, level, permissions, is_default,
	is_active, version, created_at, updated_at, created_by, updated_by`

// scanRole scans one role row including the JSONB permissions column.
func scanRole(row interface{ Scan(...interface{}) error }) (*models.Role, error) {
	var r models.Role
	var permsJSON []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Description, &r.Level, &permsJSON,
		&r.IsDefault, &r.IsActive, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy)
	if err != nil {
		return nil, err
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	r.Permissions = r.Permissions.Normalize()
	return &r, nil
}

// validateRole checks the persist-time constraints shared by create and update.
func validateRole(role *models.Role) error {
	name := strings.TrimSpace(role.Name)
	if name == "" {
		return apperr.Validation("name", "must not be empty")
	}
	if len(name) > models.MaxRoleNameLength {
		return apperr.Validation("name", fmt.Sprintf("must be at most %d characters", models.MaxRoleNameLength))
	}
	if !models.ValidRoleLevel(role.Level) {
		return apperr.Validation("level", fmt.Sprintf("unknown level %q", role.Level))
	}
	return nil
}

// Create inserts a new role. The caller's company scoping is taken from the
// role itself; IDs and timestamps are assigned here.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if err := validateRole(role); err != nil {
		return err
	}

	role.ID = uuid.New().String()
	role.Version = 1
	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now
	role.Permissions = role.Permissions.Normalize()

	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `INSERT INTO roles (` + roleColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		role.ID, role.CompanyID, strings.TrimSpace(role.Name), role.Description, role.Level,
		permsJSON, role.IsDefault, role.IsActive, role.Version,
		role.CreatedAt, role.UpdatedAt, role.CreatedBy, role.UpdatedBy)
	return err
}

// GetByID retrieves a role by ID within a company. Returns (nil, nil) when the
// role does not exist in that company; cross-company IDs read the same as
// missing ones.
func (r *RoleRepository) GetByID(ctx context.Context, companyID, id string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1 AND company_id = $2`

	role, err := scanRole(r.db.QueryRowxContext(ctx, query, id, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return role, err
}

// RoleFilters narrow and page List results.
type RoleFilters struct {
	Level    *models.RoleLevel
	IsActive *bool
	Search   string // matches name/description, case-insensitive
	SortBy   string // name | level | created_at | updated_at
	SortDesc bool
}

// List returns roles for a company with optional filters, paginated.
func (r *RoleRepository) List(ctx context.Context, companyID string, filters RoleFilters, limit, offset int) ([]*models.Role, int, error) {
	where := ` WHERE company_id = $1`
	args := []interface{}{companyID}
	paramIndex := 2

	if filters.Level != nil {
		where += fmt.Sprintf(` AND level = $%d`, paramIndex)
		args = append(args, *filters.Level)
		paramIndex++
	}
	if filters.IsActive != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, paramIndex)
		args = append(args, *filters.IsActive)
		paramIndex++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR COALESCE(description, '') ILIKE $%d)`, paramIndex, paramIndex)
		args = append(args, "%"+filters.Search+"%")
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM roles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderBy := "name"
	switch filters.SortBy {
	case "level", "created_at", "updated_at", "name":
		orderBy = filters.SortBy
	}
	dir := "ASC"
	if filters.SortDesc {
		dir = "DESC"
	}

	query := `SELECT ` + roleColumns + ` FROM roles` + where +
		fmt.Sprintf(` ORDER BY %s %s LIMIT $%d OFFSET $%d`, orderBy, dir, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	roles := make([]*models.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		roles = append(roles, role)
	}

	return roles, total, rows.Err()
}

// RoleUpdate is a partial attribute update. Nil fields are left untouched.
// Permission changes go through MergePermissions, not here.
type RoleUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
	UpdatedBy   string
}

// Update applies a partial attribute update. Deactivating the last active
// default role of a company is rejected to preserve the bootstrap invariant.
func (r *RoleRepository) Update(ctx context.Context, companyID, id string, upd RoleUpdate) (*models.Role, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperr.Validation("name", "must not be empty")
		}
		if len(name) > models.MaxRoleNameLength {
			return nil, apperr.Validation("name", fmt.Sprintf("must be at most %d characters", models.MaxRoleNameLength))
		}
		upd.Name = &name
	}

	if upd.IsActive != nil && !*upd.IsActive {
		blocked, err := r.isLastActiveDefault(ctx, companyID, id)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, fmt.Errorf("cannot deactivate the only active default role: %w", apperr.ErrConflict)
		}
	}

	query := `UPDATE roles SET
				name = COALESCE($3, name),
				description = COALESCE($4, description),
				is_active = COALESCE($5, is_active),
				version = version + 1,
				updated_at = $6,
				updated_by = $7
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + roleColumns

	role, err := scanRole(r.db.QueryRowxContext(ctx, query,
		id, companyID, upd.Name, upd.Description, upd.IsActive, time.Now(), upd.UpdatedBy))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return role, err
}

// MergePermissions applies a permission patch as an atomic module-granular
// merge against the latest stored matrix. Two admins patching different
// modules concurrently both land; the merge happens inside the UPDATE, never
// against the caller's possibly stale snapshot.
func (r *RoleRepository) MergePermissions(ctx context.Context, companyID, id string, patch models.PermissionMatrix, updatedBy string) (*models.Role, error) {
	for module := range patch {
		if !models.ValidModule(module) {
			return nil, apperr.Validation("permissions", fmt.Sprintf("unknown module %q", module))
		}
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode permission patch: %w", err)
	}

	query := `UPDATE roles SET
				permissions = permissions || $3::jsonb,
				version = version + 1,
				updated_at = $4,
				updated_by = $5
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + roleColumns

	role, err := scanRole(r.db.QueryRowxContext(ctx, query, id, companyID, patchJSON, time.Now(), updatedBy))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return role, err
}

// SoftDelete deactivates a role. Default roles and roles still bound to
// active members are never deleted; both cases return ErrConflict.
func (r *RoleRepository) SoftDelete(ctx context.Context, companyID, id string) error {
	role, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return err
	}
	if role == nil {
		return apperr.ErrNotFound
	}
	if role.IsDefault {
		return fmt.Errorf("default roles cannot be deleted: %w", apperr.ErrConflict)
	}

	var bound int
	err = r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM team_members WHERE role_id = $1 AND company_id = $2 AND status NOT IN ('inactive')`,
		id, companyID).Scan(&bound)
	if err != nil {
		return err
	}
	if bound > 0 {
		return fmt.Errorf("role is assigned to %d member(s): %w", bound, apperr.ErrConflict)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE roles SET is_active = FALSE, version = version + 1, updated_at = $3 WHERE id = $1 AND company_id = $2`,
		id, companyID, time.Now())
	return err
}

// Duplicate copies an existing role's matrix into a new role, with optional
// permission overrides merged on top.
func (r *RoleRepository) Duplicate(ctx context.Context, companyID, sourceID, newName string, overrides models.PermissionMatrix, createdBy string) (*models.Role, error) {
	source, err := r.GetByID(ctx, companyID, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, apperr.ErrNotFound
	}

	desc := fmt.Sprintf("Copy of %s", source.Name)
	copyRole := &models.Role{
		CompanyID:   companyID,
		Name:        newName,
		Description: &desc,
		Level:       models.RoleLevelCustom,
		Permissions: source.Permissions.Merge(overrides),
		IsDefault:   false,
		IsActive:    true,
		CreatedBy:   &createdBy,
	}
	if err := r.Create(ctx, copyRole); err != nil {
		return nil, err
	}
	return copyRole, nil
}

// InitializeDefaults bootstraps the default role set for a company. Idempotent:
// when default roles already exist they are returned unchanged, so calling it
// on every startup or company signup is safe.
func (r *RoleRepository) InitializeDefaults(ctx context.Context, companyID string) ([]*models.Role, error) {
	existing, err := r.listDefaults(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	for _, role := range models.DefaultRoles(companyID) {
		role := role
		if err := r.Create(ctx, &role); err != nil {
			return nil, fmt.Errorf("failed to create default role %q: %w", role.Name, err)
		}
	}

	return r.listDefaults(ctx, companyID)
}

func (r *RoleRepository) listDefaults(ctx context.Context, companyID string) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles
			  WHERE company_id = $1 AND is_default = TRUE ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetUsageStats returns how many members are bound to the role and when it
// was last exercised (latest last_login among bound members).
func (r *RoleRepository) GetUsageStats(ctx context.Context, companyID, id string) (*models.RoleUsageStats, error) {
	query := `SELECT COUNT(*), MAX(last_login)
			  FROM team_members WHERE role_id = $1 AND company_id = $2`

	stats := &models.RoleUsageStats{RoleID: id}
	var lastUsed sql.NullTime
	if err := r.db.QueryRowxContext(ctx, query, id, companyID).Scan(&stats.MemberCount, &lastUsed); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		stats.LastUsedAt = &lastUsed.Time
	}
	return stats, nil
}

// isLastActiveDefault reports whether the role is a default role and no other
// active default role exists for the company.
func (r *RoleRepository) isLastActiveDefault(ctx context.Context, companyID, id string) (bool, error) {
	var isDefault bool
	err := r.db.QueryRowxContext(ctx,
		`SELECT is_default FROM roles WHERE id = $1 AND company_id = $2`, id, companyID).Scan(&isDefault)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !isDefault {
		return false, nil
	}

	var others int
	err = r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE company_id = $1 AND is_default = TRUE AND is_active = TRUE AND id <> $2`,
		companyID, id).Scan(&others)
	if err != nil {
		return false, err
	}
	return others == 0, nil
}
