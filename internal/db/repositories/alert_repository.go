// alert_repository.go implements AlertRepository for threshold alert rules and
// risk-indicator acknowledgments. Conditions and recipients live in JSONB so a
// rule can be extended without schema changes.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// AlertRepository handles alert-rule database operations.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, company_id, type, severity, conditions, recipients, is_active,
	triggered, triggered_count, last_triggered_at, created_at, updated_at`

func scanAlert(row interface{ Scan(...interface{}) error }) (*models.ActivityLogAlert, error) {
	var a models.ActivityLogAlert
	var condJSON, recipJSON []byte
	err := row.Scan(&a.ID, &a.CompanyID, &a.Type, &a.Severity, &condJSON, &recipJSON,
		&a.IsActive, &a.Triggered, &a.TriggeredCount, &a.LastTriggeredAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(condJSON, &a.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipJSON, &a.Recipients); err != nil {
		return nil, err
	}
	return &a, nil
}

func validateAlert(a *models.ActivityLogAlert) error {
	if a.Type == "" {
		return apperr.Validation("type", "alert type is required")
	}
	if a.Conditions.Threshold < 1 {
		return apperr.Validation("conditions.threshold", "threshold must be at least 1")
	}
	if a.Conditions.TimeWindowMinutes < 1 {
		return apperr.Validation("conditions.timeWindowMinutes", "time window must be at least 1 minute")
	}
	return nil
}

// Create inserts a new alert rule. Rules start armed and active.
func (r *AlertRepository) Create(ctx context.Context, a *models.ActivityLogAlert) error {
	if err := validateAlert(a); err != nil {
		return err
	}

	a.ID = uuid.New().String()
	a.Triggered = false
	a.TriggeredCount = 0
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Recipients == nil {
		a.Recipients = []string{}
	}

	condJSON, err := json.Marshal(a.Conditions)
	if err != nil {
		return err
	}
	recipJSON, err := json.Marshal(a.Recipients)
	if err != nil {
		return err
	}

	query := `INSERT INTO activity_log_alerts (` + alertColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.CompanyID, a.Type, a.Severity, condJSON, recipJSON, a.IsActive,
		a.Triggered, a.TriggeredCount, a.LastTriggeredAt, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetByID retrieves one alert rule within a company; (nil, nil) when missing.
func (r *AlertRepository) GetByID(ctx context.Context, companyID, id string) (*models.ActivityLogAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM activity_log_alerts WHERE id = $1 AND company_id = $2`

	a, err := scanAlert(r.db.QueryRowxContext(ctx, query, id, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// List returns all alert rules for a company, newest first.
func (r *AlertRepository) List(ctx context.Context, companyID string) ([]*models.ActivityLogAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM activity_log_alerts
			  WHERE company_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*models.ActivityLogAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListActiveArmed returns the rules the ingestion path must evaluate: active
// and not currently tripped.
func (r *AlertRepository) ListActiveArmed(ctx context.Context, companyID string) ([]*models.ActivityLogAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM activity_log_alerts
			  WHERE company_id = $1 AND is_active = TRUE AND triggered = FALSE`

	rows, err := r.db.QueryxContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*models.ActivityLogAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertUpdate carries partial alert-rule changes. Nil fields are left as-is.
type AlertUpdate struct {
	Severity   *models.Severity
	Conditions *models.AlertConditions
	Recipients *[]string
	IsActive   *bool
}

// Update applies a partial update and returns the stored rule.
func (r *AlertRepository) Update(ctx context.Context, companyID, id string, update AlertUpdate) (*models.ActivityLogAlert, error) {
	if update.Conditions != nil {
		if update.Conditions.Threshold < 1 {
			return nil, apperr.Validation("conditions.threshold", "threshold must be at least 1")
		}
		if update.Conditions.TimeWindowMinutes < 1 {
			return nil, apperr.Validation("conditions.timeWindowMinutes", "time window must be at least 1 minute")
		}
	}

	var condJSON, recipJSON []byte
	var err error
	if update.Conditions != nil {
		if condJSON, err = json.Marshal(update.Conditions); err != nil {
			return nil, err
		}
	}
	if update.Recipients != nil {
		if recipJSON, err = json.Marshal(*update.Recipients); err != nil {
			return nil, err
		}
	}

	query := `UPDATE activity_log_alerts
			  SET severity = COALESCE($3, severity),
			      conditions = COALESCE($4, conditions),
			      recipients = COALESCE($5, recipients),
			      is_active = COALESCE($6, is_active),
			      updated_at = NOW()
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + alertColumns

	a, err := scanAlert(r.db.QueryRowxContext(ctx, query,
		id, companyID, update.Severity, condJSON, recipJSON, update.IsActive))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return a, err
}

// Delete removes an alert rule.
func (r *AlertRepository) Delete(ctx context.Context, companyID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_log_alerts WHERE id = $1 AND company_id = $2`, id, companyID)
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

// MarkTriggered trips a rule: it records the firing and suppresses further
// notifications until the rule re-arms.
func (r *AlertRepository) MarkTriggered(ctx context.Context, companyID, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE activity_log_alerts
		 SET triggered = TRUE, triggered_count = triggered_count + 1,
		     last_triggered_at = $3, updated_at = NOW()
		 WHERE id = $1 AND company_id = $2`,
		id, companyID, at)
	return err
}

// RearmExpired re-arms every tripped rule whose time window has fully elapsed
// since it last fired. Returns the number of rules re-armed. Runs across all
// companies; the sweep job owns the cadence.
func (r *AlertRepository) RearmExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activity_log_alerts
		 SET triggered = FALSE, updated_at = NOW()
		 WHERE triggered = TRUE AND last_triggered_at IS NOT NULL
		   AND last_triggered_at + ((conditions->>'timeWindowMinutes')::int * INTERVAL '1 minute') <= $1`,
		now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AcknowledgeRisk records that an operator reviewed a risk indicator. A repeat
// acknowledgment of the same indicator is a conflict.
func (r *AlertRepository) AcknowledgeRisk(ctx context.Context, ack *models.RiskAcknowledgment) error {
	if ack.IndicatorID == "" {
		return apperr.Validation("indicatorId", "indicator id is required")
	}

	ack.ID = uuid.New().String()
	ack.AcknowledgedAt = time.Now()

	query := `INSERT INTO risk_acknowledgments
			  (id, company_id, indicator_id, indicator_type, acknowledged_by, notes, acknowledged_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (company_id, indicator_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		ack.ID, ack.CompanyID, ack.IndicatorID, ack.IndicatorType,
		ack.AcknowledgedBy, ack.Notes, ack.AcknowledgedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrConflict
	}
	return nil
}

// ListRiskAcknowledgments returns the acknowledged indicator ids for a company.
func (r *AlertRepository) ListRiskAcknowledgments(ctx context.Context, companyID string) (map[string]*models.RiskAcknowledgment, error) {
	query := `SELECT id, company_id, indicator_id, indicator_type, acknowledged_by, notes, acknowledged_at
			  FROM risk_acknowledgments WHERE company_id = $1`

	rows, err := r.db.QueryxContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acks := make(map[string]*models.RiskAcknowledgment)
	for rows.Next() {
		var ack models.RiskAcknowledgment
		if err := rows.Scan(&ack.ID, &ack.CompanyID, &ack.IndicatorID, &ack.IndicatorType,
			&ack.AcknowledgedBy, &ack.Notes, &ack.AcknowledgedAt); err != nil {
			return nil, err
		}
		acks[ack.IndicatorID] = &ack
	}
	return acks, rows.Err()
}
