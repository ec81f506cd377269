package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var alertCols = []string{
	"id", "company_id", "type", "severity", "conditions", "recipients",
	"is_active", "triggered", "triggered_count", "last_triggered_at",
	"created_at", "updated_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleAlertRow(id string, triggered bool) *sqlmock.Rows {
	return sqlmock.NewRows(alertCols).
		AddRow(id, "co-1", "failed_logins", "high",
			[]byte(`{"action":"login_failed","threshold":5,"timeWindowMinutes":10}`),
			[]byte(`["sec@example.com"]`),
			true, triggered, 0, nil, time.Now(), time.Now())
}

func newAlertRepo(t *testing.T) (*AlertRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAlertRepository(sqlx.NewDb(db, "postgres")), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateAlert_BadThreshold(t *testing.T) {
	repo, _ := newAlertRepo(t)

	err := repo.Create(context.Background(), &models.ActivityLogAlert{
		CompanyID: "co-1", Type: "failed_logins",
		Conditions: models.AlertConditions{Threshold: 0, TimeWindowMinutes: 10},
	})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateAlert_OK(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("INSERT INTO activity_log_alerts").WillReturnResult(sqlmock.NewResult(0, 1))

	a := &models.ActivityLogAlert{
		CompanyID: "co-1", Type: "failed_logins", Severity: models.SeverityHigh,
		Conditions: models.AlertConditions{Threshold: 5, TimeWindowMinutes: 10},
		IsActive:   true,
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if a.Triggered {
		t.Error("new alert must start armed")
	}
}

// ---------------------------------------------------------------------------
// GetByID / ListActiveArmed
// ---------------------------------------------------------------------------

func TestGetAlert_DecodesJSONColumns(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("SELECT.*FROM activity_log_alerts WHERE").
		WillReturnRows(sampleAlertRow("alert-1", false))

	a, err := repo.GetByID(context.Background(), "co-1", "alert-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Conditions.Threshold != 5 || a.Conditions.TimeWindowMinutes != 10 {
		t.Errorf("conditions = %+v, want threshold 5 / window 10", a.Conditions)
	}
	if len(a.Recipients) != 1 || a.Recipients[0] != "sec@example.com" {
		t.Errorf("recipients = %v", a.Recipients)
	}
}

func TestListActiveArmed(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("SELECT.*FROM activity_log_alerts.*triggered = FALSE").
		WillReturnRows(sampleAlertRow("alert-1", false))

	alerts, err := repo.ListActiveArmed(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("len = %d, want 1", len(alerts))
	}
}

// ---------------------------------------------------------------------------
// Update / Delete
// ---------------------------------------------------------------------------

func TestUpdateAlert_NotFound(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectQuery("UPDATE activity_log_alerts.*RETURNING").
		WillReturnRows(sqlmock.NewRows(alertCols))

	active := false
	_, err := repo.Update(context.Background(), "co-1", "missing", AlertUpdate{IsActive: &active})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAlert_NotFound(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("DELETE FROM activity_log_alerts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "co-1", "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Trigger / re-arm
// ---------------------------------------------------------------------------

func TestMarkTriggered(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("UPDATE activity_log_alerts.*triggered = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkTriggered(context.Background(), "co-1", "alert-1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRearmExpired(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("UPDATE activity_log_alerts.*triggered = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RearmExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("rearmed = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// Risk acknowledgments
// ---------------------------------------------------------------------------

func TestAcknowledgeRisk_OK(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("INSERT INTO risk_acknowledgments.*ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ack := &models.RiskAcknowledgment{
		CompanyID: "co-1", IndicatorID: "ind-1",
		IndicatorType: "repeated_failed_access", AcknowledgedBy: "admin-1",
	}
	if err := repo.AcknowledgeRisk(context.Background(), ack); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAcknowledgeRisk_Duplicate(t *testing.T) {
	repo, mock := newAlertRepo(t)
	mock.ExpectExec("INSERT INTO risk_acknowledgments.*ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ack := &models.RiskAcknowledgment{
		CompanyID: "co-1", IndicatorID: "ind-1",
		IndicatorType: "repeated_failed_access", AcknowledgedBy: "admin-1",
	}
	err := repo.AcknowledgeRisk(context.Background(), ack)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
