// Package models - activity_log.go defines the immutable ActivityLog event, its action
// and severity enumerations, and the mutable ReviewStatus triage record that can be
// attached without altering the original event.
package models

import "time"

// ActivityAction names the business action an event records.
type ActivityAction string

const (
	ActionLogin            ActivityAction = "login"
	ActionLoginFailed      ActivityAction = "login_failed"
	ActionLogout           ActivityAction = "logout"
	ActionCreateEntity     ActivityAction = "create"
	ActionUpdateEntity     ActivityAction = "update"
	ActionDeleteEntity     ActivityAction = "delete"
	ActionViewEntity       ActivityAction = "view"
	ActionExport           ActivityAction = "export"
	ActionImport           ActivityAction = "import"
	ActionInviteMember     ActivityAction = "invite_member"
	ActionAcceptInvite     ActivityAction = "accept_invite"
	ActionRoleChange       ActivityAction = "role_change"
	ActionPermissionDenied ActivityAction = "permission_denied"
	ActionPermissionGrant  ActivityAction = "permission_grant"
	ActionBulkOperation    ActivityAction = "bulk_operation"
	ActionSettingsChange   ActivityAction = "settings_change"
	ActionPaymentRecorded  ActivityAction = "payment_recorded"
	ActionDocumentUpload   ActivityAction = "document_upload"
	ActionNoticeSent       ActivityAction = "notice_sent"
	ActionArchive          ActivityAction = "archive"
)

// AllActivityActions lists every recognised action in stable order.
var AllActivityActions = []ActivityAction{
	ActionLogin, ActionLoginFailed, ActionLogout,
	ActionCreateEntity, ActionUpdateEntity, ActionDeleteEntity, ActionViewEntity,
	ActionExport, ActionImport,
	ActionInviteMember, ActionAcceptInvite, ActionRoleChange,
	ActionPermissionDenied, ActionPermissionGrant,
	ActionBulkOperation, ActionSettingsChange,
	ActionPaymentRecorded, ActionDocumentUpload, ActionNoticeSent, ActionArchive,
}

// ValidActivityAction reports whether a is a recognised action.
func ValidActivityAction(a ActivityAction) bool {
	for _, known := range AllActivityActions {
		if a == known {
			return true
		}
	}
	return false
}

// Severity classifies an event for triage and alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ActivityLog is one immutable audit event. Corrections are new entries, never
// edits; rows leave the table only through retention-policy archival/deletion.
type ActivityLog struct {
	ID         string                 `db:"id" json:"id"`
	CompanyID  string                 `db:"company_id" json:"companyId"`
	UserID     string                 `db:"user_id" json:"userId"`
	UserName   *string                `db:"user_name" json:"userName,omitempty"`
	Action     ActivityAction         `db:"action" json:"action"`
	EntityType string                 `db:"entity_type" json:"entityType"`
	EntityID   *string                `db:"entity_id" json:"entityId,omitempty"`
	Details    map[string]interface{} `db:"details" json:"details,omitempty"`
	Severity   Severity               `db:"severity" json:"severity"`
	Timestamp  time.Time              `db:"timestamp" json:"timestamp"`
	IPAddress  *string                `db:"ip_address" json:"ipAddress,omitempty"`
	SessionID  *string                `db:"session_id" json:"sessionId,omitempty"`
	Archived   bool                   `db:"archived" json:"archived,omitempty"`
}

// ReviewState is the triage disposition attached to an event.
type ReviewState string

const (
	ReviewPending   ReviewState = "pending"
	ReviewReviewed  ReviewState = "reviewed"
	ReviewEscalated ReviewState = "escalated"
	ReviewDismissed ReviewState = "dismissed"
)

// ValidReviewState reports whether s is a known review state.
func ValidReviewState(s ReviewState) bool {
	switch s {
	case ReviewPending, ReviewReviewed, ReviewEscalated, ReviewDismissed:
		return true
	}
	return false
}

// ReviewStatus is the mutable triage record attached to an ActivityLog row.
// It lives in its own table so the event itself stays immutable.
type ReviewStatus struct {
	LogID      string      `db:"log_id" json:"logId"`
	CompanyID  string      `db:"company_id" json:"companyId"`
	State      ReviewState `db:"state" json:"state"`
	ReviewedBy *string     `db:"reviewed_by" json:"reviewedBy,omitempty"`
	Notes      *string     `db:"notes" json:"notes,omitempty"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updatedAt"`
}

// ActivitySummary breaks a result set down along five axes. Each breakdown's
// counts sum to exactly the result-set size; the query layer computes all five
// from the same filtered rows to keep that invariant.
type ActivitySummary struct {
	Total        int            `json:"total"`
	ByAction     map[string]int `json:"byAction"`
	ByEntityType map[string]int `json:"byEntityType"`
	BySeverity   map[string]int `json:"bySeverity"`
	ByUser       map[string]int `json:"byUser"`
	ByDate       map[string]int `json:"byDate"`
}
