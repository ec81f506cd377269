// Package models - role.go defines the Role model, role levels, and the predefined
// default roles bootstrapped for every company.
package models

import "time"

// RoleLevel is the coarse privilege tier of a role. Admin and manager levels
// bypass per-module matrix checks entirely.
type RoleLevel string

const (
	RoleLevelAdmin   RoleLevel = "admin"
	RoleLevelManager RoleLevel = "manager"
	RoleLevelUser    RoleLevel = "user"
	RoleLevelCustom  RoleLevel = "custom"
)

// ValidRoleLevel reports whether l is a known role level.
func ValidRoleLevel(l RoleLevel) bool {
	switch l {
	case RoleLevelAdmin, RoleLevelManager, RoleLevelUser, RoleLevelCustom:
		return true
	}
	return false
}

// Elevated reports whether the level alone grants every module/action.
func (l RoleLevel) Elevated() bool {
	return l == RoleLevelAdmin || l == RoleLevelManager
}

// Role is a named permission set scoped to a single company. At least one
// active default role must exist per company at all times; default roles are
// deactivated, never hard-deleted.
type Role struct {
	ID          string           `db:"id" json:"id"`
	CompanyID   string           `db:"company_id" json:"companyId"`
	Name        string           `db:"name" json:"name"`
	Description *string          `db:"description" json:"description,omitempty"`
	Level       RoleLevel        `db:"level" json:"level"`
	Permissions PermissionMatrix `db:"permissions" json:"permissions"`
	IsDefault   bool             `db:"is_default" json:"isDefault"`
	IsActive    bool             `db:"is_active" json:"isActive"`
	Version     int              `db:"version" json:"version"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
	CreatedBy   *string          `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy   *string          `db:"updated_by" json:"updatedBy,omitempty"`
}

// RoleUsageStats summarises how a role is used within its company.
type RoleUsageStats struct {
	RoleID      string     `json:"roleId"`
	MemberCount int        `json:"memberCount"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

// MaxRoleNameLength bounds role names before persist.
const MaxRoleNameLength = 100

// DefaultRoles returns the role set bootstrapped for a new company. The
// administrator role is the mandatory active default; InitializeDefaults is
// idempotent and returns the existing set when these already exist.
func DefaultRoles(companyID string) []Role {
	adminDesc := "Full access to every module"
	managerDesc := "Full operational access; manager-tier override applies"
	memberDesc := "View-only access to every module"

	return []Role{
		{
			CompanyID:   companyID,
			Name:        "Administrator",
			Description: &adminDesc,
			Level:       RoleLevelAdmin,
			Permissions: FullAccessMatrix(),
			IsDefault:   true,
			IsActive:    true,
		},
		{
			CompanyID:   companyID,
			Name:        "Manager",
			Description: &managerDesc,
			Level:       RoleLevelManager,
			Permissions: FullAccessMatrix(),
			IsDefault:   true,
			IsActive:    true,
		},
		{
			CompanyID:   companyID,
			Name:        "Member",
			Description: &memberDesc,
			Level:       RoleLevelUser,
			Permissions: ViewOnlyMatrix(),
			IsDefault:   true,
			IsActive:    true,
		},
	}
}
