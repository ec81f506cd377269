// Package models - alert.go defines threshold alert rules evaluated against the
// activity-log stream and the derived RiskIndicator signal with its persisted
// acknowledgment record.
package models

import "time"

// AlertConditions narrow which events count toward an alert's threshold.
// Nil fields match everything.
type AlertConditions struct {
	Action            *ActivityAction `json:"action,omitempty"`
	EntityType        *string         `json:"entityType,omitempty"`
	UserID            *string         `json:"userId,omitempty"`
	Threshold         int             `json:"threshold"`
	TimeWindowMinutes int             `json:"timeWindowMinutes"`
}

// Matches reports whether the event counts toward this rule.
func (c AlertConditions) Matches(ev *ActivityLog) bool {
	if c.Action != nil && ev.Action != *c.Action {
		return false
	}
	if c.EntityType != nil && ev.EntityType != *c.EntityType {
		return false
	}
	if c.UserID != nil && ev.UserID != *c.UserID {
		return false
	}
	return true
}

// ActivityLogAlert is a rule evaluated on each matching ingestion event. When
// the count of matching events within the window reaches the threshold, the
// rule trips once for the burst; it re-arms after the window elapses.
type ActivityLogAlert struct {
	ID              string          `db:"id" json:"id"`
	CompanyID       string          `db:"company_id" json:"companyId"`
	Type            string          `db:"type" json:"type"`
	Severity        Severity        `db:"severity" json:"severity"`
	Conditions      AlertConditions `db:"conditions" json:"conditions"`
	Recipients      []string        `db:"recipients" json:"recipients"`
	IsActive        bool            `db:"is_active" json:"isActive"`
	Triggered       bool            `db:"triggered" json:"triggered"`
	TriggeredCount  int             `db:"triggered_count" json:"triggeredCount"`
	LastTriggeredAt *time.Time      `db:"last_triggered_at" json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// RiskIndicatorType names the patterns the risk scan detects.
type RiskIndicatorType string

const (
	RiskVolumeSpike           RiskIndicatorType = "unusual_activity_volume"
	RiskPermissionEscalation  RiskIndicatorType = "permission_escalation"
	RiskRepeatedFailedAccess  RiskIndicatorType = "repeated_failed_access"
	RiskBulkOperationBurst    RiskIndicatorType = "bulk_operation_burst"
	RiskSensitiveEntityAccess RiskIndicatorType = "sensitive_entity_access"
)

// RiskIndicator is a derived security signal computed from log patterns. It is
// recomputed on demand and never stored, except for acknowledgments.
type RiskIndicator struct {
	ID               string            `json:"id"`
	CompanyID        string            `json:"companyId"`
	Type             RiskIndicatorType `json:"type"`
	Severity         Severity          `json:"severity"`
	Description      string            `json:"description"`
	AffectedUsers    []string          `json:"affectedUsers"`
	AffectedEntities []string          `json:"affectedEntities"`
	RiskScore        int               `json:"riskScore"` // 0-100
	DetectedAt       time.Time         `json:"detectedAt"`
	Acknowledged     bool              `json:"acknowledged"`
}

// RiskAcknowledgment persists that an operator reviewed an indicator. The
// underlying logs are never mutated; only this record is written.
type RiskAcknowledgment struct {
	ID             string    `db:"id" json:"id"`
	CompanyID      string    `db:"company_id" json:"companyId"`
	IndicatorID    string    `db:"indicator_id" json:"indicatorId"`
	IndicatorType  string    `db:"indicator_type" json:"indicatorType"`
	AcknowledgedBy string    `db:"acknowledged_by" json:"acknowledgedBy"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	AcknowledgedAt time.Time `db:"acknowledged_at" json:"acknowledgedAt"`
}
