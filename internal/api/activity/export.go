// export.go serves the activity export. Archived rows stay exportable until
// hard delete: the result merges the live table with the archive store, so an
// entity type whose rows were already hard-deleted from the table still
// exports from its archive batches until those are purged.
package activity

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// exportLimit caps how many live rows one export pulls.
const exportLimit = 10000

// ExportHandler streams matching events as JSON or CSV, archived included.
// GET /api/v1/companies/:companyId/activity-logs/export?format=json|csv
func (h *Handlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		format := c.DefaultQuery("format", "json")
		if format != "json" && format != "csv" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv", "code": "VALIDATION_ERROR"})
			return
		}

		filters, err := parseFilters(c)
		if err != nil {
			writeError(c, err)
			return
		}
		filters.IncludeArchived = true

		logs, _, err := h.logs.Search(c.Request.Context(), companyID, filters, exportLimit, 0)
		if err != nil {
			writeError(c, err)
			return
		}

		// Merge in archive-store batches for the requested entity type. Rows
		// still present in the table win; the store only contributes events
		// that already left the table.
		if h.store != nil && filters.EntityType != nil {
			archived, err := h.store.ReadAll(c.Request.Context(), companyID, *filters.EntityType)
			if err != nil {
				writeError(c, err)
				return
			}
			logs = mergeArchived(logs, archived, filters)
		}

		if h.recorder != nil {
			details := map[string]interface{}{"format": format, "count": len(logs)}
			if c.GetBool(middleware.ElevatedKey) {
				details["elevated"] = true
			}
			ip := c.ClientIP()
			h.recorder.LogActivity(&models.ActivityLog{
				CompanyID:  companyID,
				UserID:     actorID,
				Action:     models.ActionExport,
				EntityType: "activity_log",
				Details:    details,
				Severity:   models.SeverityMedium,
				IPAddress:  &ip,
			})
		}

		filename := fmt.Sprintf("activity-%s.%s", time.Now().Format("2006-01-02"), format)
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

		if format == "json" {
			c.JSON(http.StatusOK, gin.H{"logs": logs})
			return
		}

		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		w := csv.NewWriter(c.Writer)
		defer w.Flush()

		if err := w.Write([]string{
			"id", "timestamp", "userId", "userName", "action", "entityType",
			"entityId", "severity", "ipAddress", "details", "archived",
		}); err != nil {
			return
		}
		for _, ev := range logs {
			details := ""
			if len(ev.Details) > 0 {
				if raw, err := json.Marshal(ev.Details); err == nil {
					details = string(raw)
				}
			}
			row := []string{
				ev.ID,
				ev.Timestamp.Format(time.RFC3339),
				ev.UserID,
				strDeref(ev.UserName),
				string(ev.Action),
				ev.EntityType,
				strDeref(ev.EntityID),
				string(ev.Severity),
				strDeref(ev.IPAddress),
				details,
				fmt.Sprintf("%t", ev.Archived),
			}
			if err := w.Write(row); err != nil {
				return
			}
		}
	}
}

// mergeArchived appends store rows not present in the live set, re-applying
// the caller's filters since the store has no query capability, then restores
// newest-first ordering.
func mergeArchived(live, archived []*models.ActivityLog, filters repositories.ActivityFilters) []*models.ActivityLog {
	seen := make(map[string]bool, len(live))
	for _, ev := range live {
		seen[ev.ID] = true
	}
	for _, ev := range archived {
		if seen[ev.ID] || !filters.Matches(ev) {
			continue
		}
		seen[ev.ID] = true
		live = append(live, ev)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Timestamp.After(live[j].Timestamp) })
	return live
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
