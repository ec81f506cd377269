// Package models - retention.go defines the RetentionPolicy governing the scheduled
// archive/delete lifecycle of activity-log rows per entity type.
package models

import "time"

// RetentionPolicy controls how long activity logs for one entity type are kept
// online, when they move to the archive store, and when they are hard-deleted.
// Archived rows remain exportable until the hard-delete threshold.
type RetentionPolicy struct {
	ID              string    `db:"id" json:"id"`
	CompanyID       string    `db:"company_id" json:"companyId"`
	EntityType      string    `db:"entity_type" json:"entityType"`
	RetentionPeriod int       `db:"retention_period" json:"retentionPeriod"` // days kept queryable
	ArchiveAfter    int       `db:"archive_after" json:"archiveAfter"`       // days until archived
	DeleteAfter     int       `db:"delete_after" json:"deleteAfter"`         // days until hard delete
	IsActive        bool      `db:"is_active" json:"isActive"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Valid checks the policy's internal ordering: archive before delete, and both
// positive. RetentionPeriod is advisory for query defaults and may be zero.
func (p *RetentionPolicy) Valid() bool {
	return p.ArchiveAfter > 0 && p.DeleteAfter > 0 && p.ArchiveAfter <= p.DeleteAfter
}
