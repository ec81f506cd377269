// Package models - team_member.go defines the TeamMember model and its status state
// machine, plus the append-only RoleChangeHistory record written on every role change.
package models

import "time"

// MemberStatus is the lifecycle state of a team member.
type MemberStatus string

const (
	MemberStatusInvited   MemberStatus = "invited"
	MemberStatusPending   MemberStatus = "pending"
	MemberStatusActive    MemberStatus = "active"
	MemberStatusInactive  MemberStatus = "inactive"
	MemberStatusSuspended MemberStatus = "suspended"
)

// ValidMemberStatus reports whether s is a known status.
func ValidMemberStatus(s MemberStatus) bool {
	switch s {
	case MemberStatusInvited, MemberStatusPending, MemberStatusActive,
		MemberStatusInactive, MemberStatusSuspended:
		return true
	}
	return false
}

// memberTransitions encodes the allowed status state machine:
//
//	invited → active (accept) | inactive (cancel/expire/decline)
//	active  ↔ inactive
//	active/inactive → suspended; suspended → active only via explicit reactivation
var memberTransitions = map[MemberStatus][]MemberStatus{
	MemberStatusInvited:   {MemberStatusActive, MemberStatusInactive},
	MemberStatusPending:   {MemberStatusActive, MemberStatusInactive},
	MemberStatusActive:    {MemberStatusInactive, MemberStatusSuspended},
	MemberStatusInactive:  {MemberStatusActive, MemberStatusSuspended},
	MemberStatusSuspended: {MemberStatusActive},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s MemberStatus) CanTransition(next MemberStatus) bool {
	for _, allowed := range memberTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// TeamMember is a user of a company bound to exactly one role in the same
// company. Email is unique per company; cross-company role references are
// never valid.
type TeamMember struct {
	ID              string       `db:"id" json:"id"`
	CompanyID       string       `db:"company_id" json:"companyId"`
	FirstName       string       `db:"first_name" json:"firstName"`
	LastName        string       `db:"last_name" json:"lastName"`
	Email           string       `db:"email" json:"email"`
	Phone           *string      `db:"phone" json:"phone,omitempty"`
	RoleID          string       `db:"role_id" json:"roleId"`
	Status          MemberStatus `db:"status" json:"status"`
	InviteTokenHash *string      `db:"invite_token_hash" json:"-"`
	InvitedAt       time.Time    `db:"invited_at" json:"invitedAt"`
	InviteExpiresAt *time.Time   `db:"invite_expires_at" json:"inviteExpiresAt,omitempty"`
	AcceptedAt      *time.Time   `db:"accepted_at" json:"acceptedAt,omitempty"`
	LastLogin       *time.Time   `db:"last_login" json:"lastLogin,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
}

// FullName returns "First Last" for display and audit attribution.
func (m *TeamMember) FullName() string {
	return m.FirstName + " " + m.LastName
}

// MemberWithRole joins the member row with its role's name and level for list
// views, mirroring how role details are rendered next to members.
type MemberWithRole struct {
	TeamMember
	RoleName  string    `db:"role_name" json:"roleName"`
	RoleLevel RoleLevel `db:"role_level" json:"roleLevel"`
}

// RoleChangeHistory is an append-only record created exactly once per role
// change. Rows are never updated or deleted outside retention processing.
type RoleChangeHistory struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"companyId"`
	MemberID  string    `db:"member_id" json:"memberId"`
	OldRoleID string    `db:"old_role_id" json:"oldRoleId"`
	NewRoleID string    `db:"new_role_id" json:"newRoleId"`
	ChangedBy string    `db:"changed_by" json:"changedBy"`
	ChangedAt time.Time `db:"changed_at" json:"changedAt"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
}

// BulkMemberAction names the operations accepted by the bulk member endpoint.
type BulkMemberAction string

const (
	BulkActivate         BulkMemberAction = "activate"
	BulkDeactivate       BulkMemberAction = "deactivate"
	BulkChangeRole       BulkMemberAction = "changeRole"
	BulkResendInvitation BulkMemberAction = "resendInvitation"
	BulkDelete           BulkMemberAction = "delete"
)

// BulkItemResult reports the outcome for one member of a bulk operation.
// Failures are per-item and never roll back the other items.
type BulkItemResult struct {
	MemberID string `json:"memberId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}
