package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var activityCols = []string{
	"id", "company_id", "user_id", "user_name", "action", "entity_type",
	"entity_id", "details", "severity", "timestamp", "ip_address",
	"session_id", "archived",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleActivityRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows(activityCols)
	for i := 0; i < n; i++ {
		rows.AddRow("log-1", "co-1", "user-1", "Ada Okafor", "create", "role",
			"role-1", []byte(`{"name":"Auditor"}`), "low", time.Now(), nil, nil, false)
	}
	return rows
}

func groupRows(pairs map[string]int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"k", "count"})
	for k, v := range pairs {
		rows.AddRow(k, v)
	}
	return rows
}

func newActivityRepo(t *testing.T) (*ActivityRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewActivityRepository(sqlx.NewDb(db, "postgres")), mock
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestInsertActivity_AssignsDefaults(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectExec("INSERT INTO activity_logs").WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &models.ActivityLog{
		CompanyID:  "co-1",
		UserID:     "user-1",
		Action:     models.ActionCreateEntity,
		EntityType: "role",
		Details:    map[string]interface{}{"name": "Auditor"},
	}
	if err := repo.Insert(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected Timestamp to be assigned")
	}
	if ev.Severity != models.SeverityLow {
		t.Errorf("Severity = %s, want low", ev.Severity)
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchActivity_SummarySumsToTotal(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM activity_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	// five breakdown queries share the count's WHERE, so each sums to the total
	mock.ExpectQuery("GROUP BY").WillReturnRows(groupRows(map[string]int{"create": 3, "delete": 2}))
	mock.ExpectQuery("GROUP BY").WillReturnRows(groupRows(map[string]int{"role": 5}))
	mock.ExpectQuery("GROUP BY").WillReturnRows(groupRows(map[string]int{"low": 4, "high": 1}))
	mock.ExpectQuery("GROUP BY").WillReturnRows(groupRows(map[string]int{"user-1": 5}))
	mock.ExpectQuery("GROUP BY").WillReturnRows(groupRows(map[string]int{"2026-08-29": 5}))
	mock.ExpectQuery("SELECT.*FROM activity_logs.*ORDER BY timestamp DESC").
		WillReturnRows(sampleActivityRows(2))

	logs, summary, err := repo.Search(context.Background(), "co-1", ActivityFilters{}, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if summary.Total != 5 {
		t.Fatalf("Total = %d, want 5", summary.Total)
	}
	for name, breakdown := range map[string]map[string]int{
		"ByAction":     summary.ByAction,
		"ByEntityType": summary.ByEntityType,
		"BySeverity":   summary.BySeverity,
		"ByUser":       summary.ByUser,
		"ByDate":       summary.ByDate,
	} {
		sum := 0
		for _, v := range breakdown {
			sum += v
		}
		if sum != summary.Total {
			t.Errorf("%s sums to %d, want %d", name, sum, summary.Total)
		}
	}
}

func TestSearchActivity_ExcludesArchivedByDefault(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectQuery("SELECT COUNT.*archived = FALSE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	for i := 0; i < 5; i++ {
		mock.ExpectQuery("GROUP BY").WillReturnRows(sqlmock.NewRows([]string{"k", "count"}))
	}
	mock.ExpectQuery("SELECT.*FROM activity_logs.*archived = FALSE").
		WillReturnRows(sqlmock.NewRows(activityCols))

	_, summary, err := repo.Search(context.Background(), "co-1", ActivityFilters{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("Total = %d, want 0", summary.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// CountMatching
// ---------------------------------------------------------------------------

func TestCountMatching_AppliesConditions(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM activity_logs").
		WithArgs("co-1", sqlmock.AnyArg(), models.ActionDeleteEntity, "role").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	action := models.ActionDeleteEntity
	entity := "role"
	cond := models.AlertConditions{Action: &action, EntityType: &entity, Threshold: 5, TimeWindowMinutes: 10}
	count, err := repo.CountMatching(context.Background(), "co-1", cond, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

// ---------------------------------------------------------------------------
// Reviews
// ---------------------------------------------------------------------------

func TestUpsertReview(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectExec("INSERT INTO activity_log_reviews.*ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(0, 1))

	by := "admin-1"
	rv := &models.ReviewStatus{LogID: "log-1", CompanyID: "co-1", State: models.ReviewReviewed, ReviewedBy: &by}
	if err := repo.UpsertReview(context.Background(), rv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

// ---------------------------------------------------------------------------
// Retention helpers
// ---------------------------------------------------------------------------

func TestMarkArchived_EmptyIsNoop(t *testing.T) {
	repo, mock := newActivityRepo(t)

	if err := repo.MarkArchived(context.Background(), "co-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkArchived(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectExec("UPDATE activity_logs SET archived = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.MarkArchived(context.Background(), "co-1", []string{"log-1", "log-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	repo, mock := newActivityRepo(t)
	mock.ExpectExec("DELETE FROM activity_logs").
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.DeleteOlderThan(context.Background(), "co-1", "role", time.Now().AddDate(0, 0, -365))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("deleted = %d, want 42", n)
	}
}
