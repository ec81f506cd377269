// alerts.go evaluates threshold alert rules on the ingestion path. A rule
// trips at most once per burst: MarkTriggered flips it to the tripped state
// and the re-arm sweep (jobs package) flips it back once its window has fully
// elapsed.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/telemetry"
)

// AlertEvaluator checks each persisted event against the company's armed
// alert rules.
type AlertEvaluator struct {
	alerts   *repositories.AlertRepository
	activity *repositories.ActivityRepository
	logger   *slog.Logger
}

// NewAlertEvaluator builds the evaluator.
func NewAlertEvaluator(alerts *repositories.AlertRepository, activity *repositories.ActivityRepository, logger *slog.Logger) *AlertEvaluator {
	return &AlertEvaluator{alerts: alerts, activity: activity, logger: logger}
}

// OnEvent runs after an event is persisted. Evaluation failures are logged
// and swallowed: alerting must never break ingestion.
func (e *AlertEvaluator) OnEvent(ctx context.Context, ev *models.ActivityLog) {
	// elevated actors are exempt from alert rules
	if flagged, ok := ev.Details["elevated"].(bool); ok && flagged {
		return
	}

	rules, err := e.alerts.ListActiveArmed(ctx, ev.CompanyID)
	if err != nil {
		e.logger.Error("failed to load alert rules", "error", err, "company_id", ev.CompanyID)
		return
	}

	now := ev.Timestamp
	for _, rule := range rules {
		if !rule.Conditions.Matches(ev) {
			continue
		}

		since := now.Add(-time.Duration(rule.Conditions.TimeWindowMinutes) * time.Minute)
		count, err := e.activity.CountMatching(ctx, ev.CompanyID, rule.Conditions, since)
		if err != nil {
			e.logger.Error("failed to count events for alert rule", "error", err, "alert_id", rule.ID)
			continue
		}
		if count < rule.Conditions.Threshold {
			continue
		}

		if err := e.alerts.MarkTriggered(ctx, ev.CompanyID, rule.ID, now); err != nil {
			e.logger.Error("failed to mark alert triggered", "error", err, "alert_id", rule.ID)
			continue
		}
		telemetry.AlertsTriggered.WithLabelValues(rule.Type).Inc()
		e.logger.Warn("alert rule tripped",
			"alert_id", rule.ID,
			"type", rule.Type,
			"severity", rule.Severity,
			"company_id", ev.CompanyID,
			"count", count,
			"threshold", rule.Conditions.Threshold,
			"recipients", rule.Recipients)
	}
}
