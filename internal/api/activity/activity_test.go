package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/archive"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// ---------------------------------------------------------------------------
// Column definitions and row builders
// ---------------------------------------------------------------------------

var activityCols = []string{
	"id", "company_id", "user_id", "user_name", "action", "entity_type",
	"entity_id", "details", "severity", "timestamp", "ip_address",
	"session_id", "archived",
}

func activityRow(id string, action models.ActivityAction, entityType string, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(activityCols).
		AddRow(id, "co-1", "user-1", "Ada", action, entityType,
			nil, nil, models.SeverityLow, at, nil, nil, false)
}

// recorderStub captures fire-and-forget events synchronously.
type recorderStub struct {
	events []*models.ActivityLog
}

func (r *recorderStub) LogActivity(ev *models.ActivityLog) {
	r.events = append(r.events, ev)
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func actorStub() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ActorIDKey, "user-1")
		c.Set(middleware.CompanyIDKey, "co-1")
		c.Set(middleware.RoleIDKey, "role-admin")
		c.Next()
	}
}

func newActivityRouter(t *testing.T, store archive.Store, recorder *recorderStub) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	conn := sqlx.NewDb(db, "postgres")
	logs := repositories.NewActivityRepository(conn)
	alerts := repositories.NewAlertRepository(conn)
	retention := repositories.NewRetentionRepository(conn)

	// A typed nil stub would make the interface non-nil, so only wrap when set
	var h *Handlers
	if recorder != nil {
		h = NewHandlers(logs, alerts, retention, store, nil, nil, recorder)
	} else {
		h = NewHandlers(logs, alerts, retention, store, nil, nil, nil)
	}

	r := gin.New()
	r.Use(actorStub())
	r.POST("/activity-logs", h.IngestHandler())
	r.GET("/activity-logs", h.SearchHandler())
	r.GET("/activity-logs/export", h.ExportHandler())
	r.GET("/activity-logs/analytics", h.AnalyticsHandler())
	r.POST("/activity-logs/risk-indicators/:indicatorId/acknowledge", h.AcknowledgeRiskHandler())
	r.PATCH("/activity-logs/:id/review", h.ReviewHandler())
	r.GET("/activity-alerts", h.ListAlertsHandler())
	r.POST("/activity-alerts", h.CreateAlertHandler())
	r.DELETE("/activity-alerts/:id", h.DeleteAlertHandler())
	r.GET("/retention-policies", h.ListPoliciesHandler())
	r.POST("/retention-policies", h.CreatePolicyHandler())
	return mock, r
}

func postJSON(t *testing.T, r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// expectSearch queues the count, the five breakdown queries and the page
// query that one repository Search issues, in order.
func expectSearch(mock sqlmock.Sqlmock, total int, page *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activity_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(total))
	for i := 0; i < 5; i++ {
		mock.ExpectQuery(`AS k, COUNT\(\*\) FROM activity_logs`).
			WillReturnRows(sqlmock.NewRows([]string{"k", "count"}).AddRow("x", total))
	}
	mock.ExpectQuery(`SELECT.*FROM activity_logs.*ORDER BY timestamp DESC`).
		WillReturnRows(page)
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestIngest_QueuesEvent(t *testing.T) {
	rec := &recorderStub{}
	_, r := newActivityRouter(t, nil, rec)

	w := postJSON(t, r, "POST", "/activity-logs", gin.H{
		"action":     "payment_recorded",
		"entityType": "payment",
		"entityId":   "pay-9",
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.CompanyID != "co-1" || ev.UserID != "user-1" {
		t.Errorf("event attribution = %s/%s, want co-1/user-1", ev.CompanyID, ev.UserID)
	}
	if ev.Severity != models.SeverityLow {
		t.Errorf("severity = %s, want default low", ev.Severity)
	}
}

func TestIngest_GateElevationStampsDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &recorderStub{}
	h := NewHandlers(nil, nil, nil, nil, nil, nil, rec)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ActorIDKey, "user-1")
		c.Set(middleware.CompanyIDKey, "co-1")
		c.Set(middleware.ElevatedKey, true)
		c.Next()
	})
	r.POST("/activity-logs", h.IngestHandler())

	w := postJSON(t, r, "POST", "/activity-logs", gin.H{
		"action":     "payment_recorded",
		"entityType": "payment",
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if len(rec.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(rec.events))
	}
	// alert evaluation exempts elevated actors by this detail
	if flagged, ok := rec.events[0].Details["elevated"].(bool); !ok || !flagged {
		t.Errorf("Details[elevated] = %v, want true", rec.events[0].Details["elevated"])
	}
}

func TestIngest_UnknownActionRejected(t *testing.T) {
	rec := &recorderStub{}
	_, r := newActivityRouter(t, nil, rec)

	w := postJSON(t, r, "POST", "/activity-logs", gin.H{
		"action":     "reticulate_splines",
		"entityType": "payment",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if len(rec.events) != 0 {
		t.Errorf("invalid event reached the recorder")
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearch_EnvelopeAndSummary(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	expectSearch(mock, 120,
		activityRow("ev-1", models.ActionPaymentRecorded, "payment", time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/activity-logs?page=3&itemsPerPage=50", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	pagination, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("missing pagination envelope: %v", body)
	}
	if pagination["totalItems"] != float64(120) {
		t.Errorf("totalItems = %v, want 120", pagination["totalItems"])
	}
	if pagination["totalPages"] != float64(3) {
		t.Errorf("totalPages = %v, want 3", pagination["totalPages"])
	}
	summary, ok := body["summary"].(map[string]any)
	if !ok {
		t.Fatalf("missing summary: %v", body)
	}
	if summary["total"] != float64(120) {
		t.Errorf("summary total = %v, want 120", summary["total"])
	}
}

func TestSearch_UnknownSeverityRejected(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/activity-logs?severity=catastrophic", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v, want VALIDATION_ERROR", body["code"])
	}
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestExport_MergesArchiveStore(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	// "ev-live" exists in both places; the table copy must win and the
	// store-only "ev-cold" must still appear.
	old := time.Now().AddDate(0, -8, 0)
	_, err = store.WriteBatch(context.Background(), "co-1", "payment", []*models.ActivityLog{
		{ID: "ev-live", CompanyID: "co-1", UserID: "user-1", Action: models.ActionPaymentRecorded,
			EntityType: "payment", Severity: models.SeverityLow, Timestamp: old, Archived: true},
		{ID: "ev-cold", CompanyID: "co-1", UserID: "user-1", Action: models.ActionPaymentRecorded,
			EntityType: "payment", Severity: models.SeverityLow, Timestamp: old.AddDate(0, 0, -1), Archived: true},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	rec := &recorderStub{}
	mock, r := newActivityRouter(t, store, rec)
	expectSearch(mock, 1,
		activityRow("ev-live", models.ActionPaymentRecorded, "payment", time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/activity-logs/export?entityType=payment&format=json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	logs, ok := body["logs"].([]any)
	if !ok {
		t.Fatalf("missing logs: %v", body)
	}
	if len(logs) != 2 {
		t.Fatalf("exported %d events, want 2 (live + store-only)", len(logs))
	}
	first := logs[0].(map[string]any)
	if first["id"] != "ev-live" {
		t.Errorf("first event = %v, want the newer live row", first["id"])
	}
	if first["archived"] == true {
		t.Errorf("table copy was shadowed by its archived duplicate")
	}
	if len(rec.events) != 1 || rec.events[0].Action != models.ActionExport {
		t.Errorf("export was not audited: %+v", rec.events)
	}
}

func TestExport_CSV(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)
	expectSearch(mock, 1,
		activityRow("ev-1", models.ActionDeleteEntity, "client", time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/activity-logs/export?format=csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv has %d lines, want header + 1 row:\n%s", len(lines), w.Body.String())
	}
	if !strings.HasPrefix(lines[0], "id,timestamp,userId") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "ev-1") || !strings.Contains(lines[1], "client") {
		t.Errorf("row missing event data: %s", lines[1])
	}
}

func TestExport_BadFormat(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/activity-logs/export?format=xml", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func TestAnalytics_InvertedWindowRejected(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET",
		"/activity-logs/analytics?startDate=2026-06-01&endDate=2026-05-01", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Review
// ---------------------------------------------------------------------------

func TestReview_UpsertsTriageRecord(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	mock.ExpectQuery("SELECT.*FROM activity_logs WHERE id").
		WithArgs("ev-1", "co-1").
		WillReturnRows(activityRow("ev-1", models.ActionDeleteEntity, "client", time.Now()))
	mock.ExpectExec("INSERT INTO activity_log_reviews").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, r, "PATCH", "/activity-logs/ev-1/review", gin.H{
		"state": "escalated",
		"notes": "looks like offboarding cleanup gone wrong",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	review := decodeBody(t, w)["review"].(map[string]any)
	if review["state"] != "escalated" {
		t.Errorf("state = %v, want escalated", review["state"])
	}
	if review["reviewedBy"] != "user-1" {
		t.Errorf("reviewedBy = %v, want the acting user", review["reviewedBy"])
	}
}

func TestReview_UnknownLog(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	mock.ExpectQuery("SELECT.*FROM activity_logs WHERE id").
		WillReturnRows(sqlmock.NewRows(activityCols))

	w := postJSON(t, r, "PATCH", "/activity-logs/ev-missing/review", gin.H{"state": "reviewed"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestReview_UnknownStateRejected(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := postJSON(t, r, "PATCH", "/activity-logs/ev-1/review", gin.H{"state": "shrugged"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func TestCreateAlert(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	mock.ExpectExec("INSERT INTO activity_log_alerts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, r, "POST", "/activity-alerts", gin.H{
		"type": "mass_delete",
		"conditions": gin.H{
			"action":            "delete",
			"threshold":         10,
			"timeWindowMinutes": 5,
		},
		"recipients": []string{"secops@example.com"},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	alert := decodeBody(t, w)["alert"].(map[string]any)
	if alert["severity"] != "medium" {
		t.Errorf("severity = %v, want default medium", alert["severity"])
	}
	if alert["isActive"] != true || alert["triggered"] != false {
		t.Errorf("new rule should start active and armed: %v", alert)
	}
}

func TestCreateAlert_ZeroThresholdRejected(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := postJSON(t, r, "POST", "/activity-alerts", gin.H{
		"type":       "mass_delete",
		"conditions": gin.H{"threshold": 0, "timeWindowMinutes": 5},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v, want VALIDATION_ERROR", body["code"])
	}
}

// ---------------------------------------------------------------------------
// Risk acknowledgments
// ---------------------------------------------------------------------------

func TestAcknowledgeRisk_DuplicateConflicts(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	// ON CONFLICT DO NOTHING reports zero rows affected on the repeat
	mock.ExpectExec("INSERT INTO risk_acknowledgments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := postJSON(t, r, "POST", "/activity-logs/risk-indicators/ri-1/acknowledge", gin.H{
		"indicatorType": "volume_spike",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Retention policies
// ---------------------------------------------------------------------------

func TestCreateRetentionPolicy_DuplicateEntityType(t *testing.T) {
	mock, r := newActivityRouter(t, nil, nil)

	mock.ExpectExec("INSERT INTO retention_policies").
		WillReturnError(fmt.Errorf(`pq: duplicate key value violates unique constraint "idx_retention_policies_company_entity"`))

	w := postJSON(t, r, "POST", "/retention-policies", gin.H{
		"entityType":   "payment",
		"archiveAfter": 180,
		"deleteAfter":  365,
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestCreateRetentionPolicy_ArchiveAfterBeyondDelete(t *testing.T) {
	_, r := newActivityRouter(t, nil, nil)

	w := postJSON(t, r, "POST", "/retention-policies", gin.H{
		"entityType":   "payment",
		"archiveAfter": 400,
		"deleteAfter":  365,
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}
