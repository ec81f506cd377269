// retention_repository.go implements RetentionRepository. One policy row per
// (company, entity type); the retention job reads the active set each sweep.
package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// RetentionRepository handles retention-policy database operations.
type RetentionRepository struct {
	db *sqlx.DB
}

// NewRetentionRepository creates a new retention repository.
func NewRetentionRepository(db *sqlx.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

const retentionColumns = `id, company_id, entity_type, retention_period, archive_after,
	delete_after, is_active, created_at, updated_at`

func scanRetention(row interface{ Scan(...interface{}) error }) (*models.RetentionPolicy, error) {
	var p models.RetentionPolicy
	err := row.Scan(&p.ID, &p.CompanyID, &p.EntityType, &p.RetentionPeriod,
		&p.ArchiveAfter, &p.DeleteAfter, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a policy. A second policy for the same entity type within a
// company is a conflict.
func (r *RetentionRepository) Create(ctx context.Context, p *models.RetentionPolicy) error {
	if p.EntityType == "" {
		return apperr.Validation("entityType", "entity type is required")
	}
	if !p.Valid() {
		return apperr.Validation("archiveAfter", "archive threshold must be positive and not exceed the delete threshold")
	}

	p.ID = uuid.New().String()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `INSERT INTO retention_policies (` + retentionColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.CompanyID, p.EntityType, p.RetentionPeriod, p.ArchiveAfter,
		p.DeleteAfter, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "idx_retention_policies_company_entity") {
		return apperr.ErrConflict
	}
	return err
}

// GetByID retrieves one policy within a company; (nil, nil) when missing.
func (r *RetentionRepository) GetByID(ctx context.Context, companyID, id string) (*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionColumns + ` FROM retention_policies WHERE id = $1 AND company_id = $2`

	p, err := scanRetention(r.db.QueryRowxContext(ctx, query, id, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// List returns all policies for a company ordered by entity type.
func (r *RetentionRepository) List(ctx context.Context, companyID string) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionColumns + ` FROM retention_policies
			  WHERE company_id = $1 ORDER BY entity_type`

	rows, err := r.db.QueryxContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := make([]*models.RetentionPolicy, 0)
	for rows.Next() {
		p, err := scanRetention(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// ListAllActive returns every active policy across all companies. The
// retention sweep iterates this set.
func (r *RetentionRepository) ListAllActive(ctx context.Context) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionColumns + ` FROM retention_policies
			  WHERE is_active = TRUE ORDER BY company_id, entity_type`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := make([]*models.RetentionPolicy, 0)
	for rows.Next() {
		p, err := scanRetention(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// RetentionUpdate carries partial policy changes. Nil fields are left as-is.
type RetentionUpdate struct {
	RetentionPeriod *int
	ArchiveAfter    *int
	DeleteAfter     *int
	IsActive        *bool
}

// Update applies a partial update and returns the stored policy. The ordering
// constraint is re-checked against the merged values.
func (r *RetentionRepository) Update(ctx context.Context, companyID, id string, update RetentionUpdate) (*models.RetentionPolicy, error) {
	current, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.ErrNotFound
	}

	merged := *current
	if update.RetentionPeriod != nil {
		merged.RetentionPeriod = *update.RetentionPeriod
	}
	if update.ArchiveAfter != nil {
		merged.ArchiveAfter = *update.ArchiveAfter
	}
	if update.DeleteAfter != nil {
		merged.DeleteAfter = *update.DeleteAfter
	}
	if update.IsActive != nil {
		merged.IsActive = *update.IsActive
	}
	if !merged.Valid() {
		return nil, apperr.Validation("archiveAfter", "archive threshold must be positive and not exceed the delete threshold")
	}

	query := `UPDATE retention_policies
			  SET retention_period = $3, archive_after = $4, delete_after = $5,
			      is_active = $6, updated_at = NOW()
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + retentionColumns

	p, err := scanRetention(r.db.QueryRowxContext(ctx, query,
		id, companyID, merged.RetentionPeriod, merged.ArchiveAfter, merged.DeleteAfter, merged.IsActive))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return p, err
}

// Delete removes a policy. Existing archived data is untouched.
func (r *RetentionRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM retention_policies WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
