package archive

import (
	"context"
	"testing"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
)

func sampleLogs(n int) []*models.ActivityLog {
	logs := make([]*models.ActivityLog, 0, n)
	for i := 0; i < n; i++ {
		logs = append(logs, &models.ActivityLog{
			ID: "log-1", CompanyID: "co-1", UserID: "user-1",
			Action: models.ActionUpdateEntity, EntityType: "role",
			Severity: models.SeverityLow, Timestamp: time.Now().UTC(),
			Details: map[string]interface{}{"field": "name"},
		})
	}
	return logs
}

func TestLocalStore_RoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	key, err := store.WriteBatch(context.Background(), "co-1", "role", sampleLogs(3))
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if key == "" {
		t.Fatal("expected a batch key")
	}

	logs, err := store.ReadAll(context.Background(), "co-1", "role")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len = %d, want 3", len(logs))
	}
	if logs[0].Details["field"] != "name" {
		t.Errorf("details lost in round trip: %v", logs[0].Details)
	}
}

func TestLocalStore_ReadAllIsolatesTenantAndEntity(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.WriteBatch(context.Background(), "co-1", "role", sampleLogs(2)); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	logs, err := store.ReadAll(context.Background(), "co-2", "role")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("cross-tenant read returned %d events, want 0", len(logs))
	}

	logs, err = store.ReadAll(context.Background(), "co-1", "team_member")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("cross-entity read returned %d events, want 0", len(logs))
	}
}

func TestLocalStore_EmptyBatchIsNoop(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	key, err := store.WriteBatch(context.Background(), "co-1", "role", nil)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if key != "" {
		t.Errorf("key = %q, want empty for empty batch", key)
	}
}

func TestLocalStore_PurgeRemovesOldBatchesOnly(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.WriteBatch(context.Background(), "co-1", "role", sampleLogs(2)); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	// today's batch survives a cutoff in the past
	if err := store.Purge(context.Background(), "co-1", "role", time.Now().AddDate(0, 0, -30)); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	logs, err := store.ReadAll(context.Background(), "co-1", "role")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d after lenient purge, want 2", len(logs))
	}

	// a cutoff in the future removes it
	if err := store.Purge(context.Background(), "co-1", "role", time.Now().AddDate(0, 0, 1)); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	logs, err = store.ReadAll(context.Background(), "co-1", "role")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("len = %d after purge, want 0", len(logs))
	}
}

func TestBatchDate(t *testing.T) {
	key := "co-1/role/2026-08-29/abc.ndjson"
	d := batchDate(key, "co-1", "role")
	if d.Format("2006-01-02") != "2026-08-29" {
		t.Errorf("batchDate = %s, want 2026-08-29", d)
	}
	if !batchDate("garbage", "co-1", "role").IsZero() {
		t.Error("expected zero time for malformed key")
	}
}
