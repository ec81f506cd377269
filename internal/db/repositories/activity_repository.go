// activity_repository.go implements ActivityRepository, providing append-only writes,
// filtered search with exact summary breakdowns, window aggregation for analytics and
// alert evaluation, review-status upserts, and the retention archive/delete sweeps.
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

	"github.com/propty-os/access-engine/internal/db/models"
)

// ActivityRepository handles activity-log database operations.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const activityColumns = `id, company_id, user_id, user_name, action, entity_type, entity_id,
	details, severity, timestamp, ip_address, session_id, archived`

func scanActivity(row interface{ Scan(...interface{}) error }) (*models.ActivityLog, error) {
	var ev models.ActivityLog
	var detailsJSON []byte
	err := row.Scan(&ev.ID, &ev.CompanyID, &ev.UserID, &ev.UserName, &ev.Action, &ev.EntityType,
		&ev.EntityID, &detailsJSON, &ev.Severity, &ev.Timestamp, &ev.IPAddress, &ev.SessionID, &ev.Archived)
	if err != nil {
		return nil, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &ev.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details: %w", err)
		}
	}
	return &ev, nil
}

// Insert appends one event. IDs and timestamps are assigned here when absent
// so callers can hand over minimal inputs.
func (r *ActivityRepository) Insert(ctx context.Context, ev *models.ActivityLog) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Severity == "" {
		ev.Severity = models.SeverityLow
	}

	var detailsJSON []byte
	var err error
	if ev.Details != nil {
		detailsJSON, err = json.Marshal(ev.Details)
		if err != nil {
			return err
		}
	}

	query := `INSERT INTO activity_logs (` + activityColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		ev.ID, ev.CompanyID, ev.UserID, ev.UserName, ev.Action, ev.EntityType, ev.EntityID,
		detailsJSON, ev.Severity, ev.Timestamp, ev.IPAddress, ev.SessionID, ev.Archived)
	return err
}

// ActivityFilters narrow Search results. CompanyID is mandatory; everything
// else is optional.
type ActivityFilters struct {
	UserID          *string
	Action          *models.ActivityAction
	EntityType      *string
	Severity        *models.Severity
	StartDate       *time.Time
	EndDate         *time.Time
	Search          string // free text over user_name, entity_type, action
	IncludeArchived bool
}

// buildWhere renders the filter into a WHERE clause. Shared by Search, the
// summary breakdowns, and CountMatching so all of them see the same rows.
func (f ActivityFilters) buildWhere(companyID string) (string, []interface{}) {
	where := ` WHERE company_id = $1`
	args := []interface{}{companyID}
	paramIndex := 2

	if !f.IncludeArchived {
		where += ` AND archived = FALSE`
	}
	if f.UserID != nil {
		where += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *f.UserID)
		paramIndex++
	}
	if f.Action != nil {
		where += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *f.Action)
		paramIndex++
	}
	if f.EntityType != nil {
		where += fmt.Sprintf(` AND entity_type = $%d`, paramIndex)
		args = append(args, *f.EntityType)
		paramIndex++
	}
	if f.Severity != nil {
		where += fmt.Sprintf(` AND severity = $%d`, paramIndex)
		args = append(args, *f.Severity)
		paramIndex++
	}
	if f.StartDate != nil {
		where += fmt.Sprintf(` AND timestamp >= $%d`, paramIndex)
		args = append(args, *f.StartDate)
		paramIndex++
	}
	if f.EndDate != nil {
		where += fmt.Sprintf(` AND timestamp <= $%d`, paramIndex)
		args = append(args, *f.EndDate)
		paramIndex++
	}
	if f.Search != "" {
		where += fmt.Sprintf(
			` AND (COALESCE(user_name, '') ILIKE $%d OR entity_type ILIKE $%d OR action ILIKE $%d)`,
			paramIndex, paramIndex, paramIndex)
		args = append(args, "%"+f.Search+"%")
		paramIndex++
	}

	return where, args
}

// Matches is the in-memory equivalent of buildWhere, used when the export
// layer merges archive-store rows that SQL never sees. Archived rows only
// reach this path, so IncludeArchived is not re-checked.
func (f ActivityFilters) Matches(ev *models.ActivityLog) bool {
	if f.UserID != nil && ev.UserID != *f.UserID {
		return false
	}
	if f.Action != nil && ev.Action != *f.Action {
		return false
	}
	if f.EntityType != nil && ev.EntityType != *f.EntityType {
		return false
	}
	if f.Severity != nil && ev.Severity != *f.Severity {
		return false
	}
	if f.StartDate != nil && ev.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && ev.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		name := ""
		if ev.UserName != nil {
			name = *ev.UserName
		}
		if !strings.Contains(strings.ToLower(name), needle) &&
			!strings.Contains(strings.ToLower(ev.EntityType), needle) &&
			!strings.Contains(strings.ToLower(string(ev.Action)), needle) {
			return false
		}
	}
	return true
}

// Search returns matching events (paginated, newest first) plus the total and
// the five summary breakdowns. Each breakdown is computed with a GROUP BY over
// the identical WHERE clause, so every breakdown's counts sum to exactly the
// total that consumers reconcile against.
func (r *ActivityRepository) Search(ctx context.Context, companyID string, filters ActivityFilters, limit, offset int) ([]*models.ActivityLog, *models.ActivitySummary, error) {
	where, args := filters.buildWhere(companyID)

	summary := &models.ActivitySummary{
		ByAction:     map[string]int{},
		ByEntityType: map[string]int{},
		BySeverity:   map[string]int{},
		ByUser:       map[string]int{},
		ByDate:       map[string]int{},
	}

	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM activity_logs`+where, args...).Scan(&summary.Total); err != nil {
		return nil, nil, err
	}

	breakdowns := []struct {
		expr string
		dest map[string]int
	}{
		{"action", summary.ByAction},
		{"entity_type", summary.ByEntityType},
		{"severity", summary.BySeverity},
		{"user_id", summary.ByUser},
		{"TO_CHAR(timestamp, 'YYYY-MM-DD')", summary.ByDate},
	}
	for _, b := range breakdowns {
		if err := r.groupCount(ctx, b.expr, where, args, b.dest); err != nil {
			return nil, nil, err
		}
	}

	query := `SELECT ` + activityColumns + ` FROM activity_logs` + where +
		fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	pagedArgs := append(append([]interface{}{}, args...), limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, pagedArgs...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	logs := make([]*models.ActivityLog, 0)
	for rows.Next() {
		ev, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, ev)
	}

	return logs, summary, rows.Err()
}

func (r *ActivityRepository) groupCount(ctx context.Context, expr, where string, args []interface{}, dest map[string]int) error {
	query := fmt.Sprintf(`SELECT %s AS k, COUNT(*) FROM activity_logs%s GROUP BY k`, expr, where)
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dest[key] = count
	}
	return rows.Err()
}

// WindowAggregates is the raw material for analytics over one time window.
// Every map is keyed by the grouping value and holds event counts.
type WindowAggregates struct {
	Total          int
	UniqueUsers    int
	UniqueEntities int
	ByHour         map[string]int // "00".."23"
	ByDate         map[string]int // "YYYY-MM-DD"
	ByAction       map[string]int
	ByEntityType   map[string]int
	ByUser         map[string]int
	ByEntity       map[string]int // entity_id, NULLs excluded
}

// AggregateWindow computes the window aggregates in one WHERE clause so the
// breakdowns agree with the totals. Archived rows are excluded; analytics
// reads the online window only.
func (r *ActivityRepository) AggregateWindow(ctx context.Context, companyID string, start, end time.Time) (*WindowAggregates, error) {
	where := ` WHERE company_id = $1 AND archived = FALSE AND timestamp >= $2 AND timestamp <= $3`
	args := []interface{}{companyID, start, end}

	agg := &WindowAggregates{
		ByHour:       map[string]int{},
		ByDate:       map[string]int{},
		ByAction:     map[string]int{},
		ByEntityType: map[string]int{},
		ByUser:       map[string]int{},
		ByEntity:     map[string]int{},
	}

	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id), COUNT(DISTINCT entity_id) FROM activity_logs`+where,
		args...).Scan(&agg.Total, &agg.UniqueUsers, &agg.UniqueEntities)
	if err != nil {
		return nil, err
	}

	breakdowns := []struct {
		expr string
		dest map[string]int
	}{
		{"TO_CHAR(timestamp, 'HH24')", agg.ByHour},
		{"TO_CHAR(timestamp, 'YYYY-MM-DD')", agg.ByDate},
		{"action", agg.ByAction},
		{"entity_type", agg.ByEntityType},
		{"user_id", agg.ByUser},
		{"COALESCE(entity_id, '')", agg.ByEntity},
	}
	for _, b := range breakdowns {
		if err := r.groupCount(ctx, b.expr, where, args, b.dest); err != nil {
			return nil, err
		}
	}
	delete(agg.ByEntity, "")

	return agg, nil
}

// GetByID retrieves one event within a company; (nil, nil) when missing.
func (r *ActivityRepository) GetByID(ctx context.Context, companyID, id string) (*models.ActivityLog, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_logs WHERE id = $1 AND company_id = $2`

	ev, err := scanActivity(r.db.QueryRowxContext(ctx, query, id, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// CountMatching counts events matching an alert rule's conditions since the
// given instant. Used on the ingestion path, so it stays a single indexed query.
func (r *ActivityRepository) CountMatching(ctx context.Context, companyID string, cond models.AlertConditions, since time.Time) (int, error) {
	where := ` WHERE company_id = $1 AND timestamp >= $2`
	args := []interface{}{companyID, since}
	paramIndex := 3

	if cond.Action != nil {
		where += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *cond.Action)
		paramIndex++
	}
	if cond.EntityType != nil {
		where += fmt.Sprintf(` AND entity_type = $%d`, paramIndex)
		args = append(args, *cond.EntityType)
		paramIndex++
	}
	if cond.UserID != nil {
		where += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *cond.UserID)
		paramIndex++
	}

	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM activity_logs`+where, args...).Scan(&count)
	return count, err
}

// UpsertReview attaches or updates the mutable triage record for an event.
// The event row itself is never touched.
func (r *ActivityRepository) UpsertReview(ctx context.Context, review *models.ReviewStatus) error {
	review.UpdatedAt = time.Now()

	query := `INSERT INTO activity_log_reviews (log_id, company_id, state, reviewed_by, notes, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (log_id) DO UPDATE
			  SET state = $3, reviewed_by = $4, notes = $5, updated_at = $6`

	_, err := r.db.ExecContext(ctx, query,
		review.LogID, review.CompanyID, review.State, review.ReviewedBy, review.Notes, review.UpdatedAt)
	return err
}

// GetReview returns the triage record for an event; (nil, nil) when absent.
func (r *ActivityRepository) GetReview(ctx context.Context, companyID, logID string) (*models.ReviewStatus, error) {
	query := `SELECT log_id, company_id, state, reviewed_by, notes, updated_at
			  FROM activity_log_reviews WHERE log_id = $1 AND company_id = $2`

	var rv models.ReviewStatus
	err := r.db.QueryRowxContext(ctx, query, logID, companyID).Scan(
		&rv.LogID, &rv.CompanyID, &rv.State, &rv.ReviewedBy, &rv.Notes, &rv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// ListForArchive returns unarchived events of one entity type older than the
// cutoff, capped at batchSize rows per call so the retention job works in
// bounded chunks.
func (r *ActivityRepository) ListForArchive(ctx context.Context, companyID, entityType string, cutoff time.Time, batchSize int) ([]*models.ActivityLog, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_logs
			  WHERE company_id = $1 AND entity_type = $2 AND archived = FALSE AND timestamp < $3
			  ORDER BY timestamp LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, companyID, entityType, cutoff, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ActivityLog
	for rows.Next() {
		ev, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, ev)
	}
	return logs, rows.Err()
}

// MarkArchived flags the given events as archived after their archive-store
// write succeeded.
func (r *ActivityRepository) MarkArchived(ctx context.Context, companyID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE activity_logs SET archived = TRUE WHERE company_id = ? AND id IN (?)`, companyID, ids)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// DeleteOlderThan hard-deletes events of one entity type older than the
// cutoff, returning the number of rows removed. Only the retention job calls
// this; nothing else ever deletes activity rows.
func (r *ActivityRepository) DeleteOlderThan(ctx context.Context, companyID, entityType string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_logs WHERE company_id = $1 AND entity_type = $2 AND timestamp < $3`,
		companyID, entityType, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
