// risk.go derives risk indicators from log patterns. Indicators are
// recomputed on every scan; nothing is stored unless an operator acknowledges
// one, and acknowledgments are matched back by the indicator's deterministic
// id so a re-scan recognises what was already reviewed.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
)

// Scan thresholds. Tuned against the expected event volume of a mid-size
// company; a tenant-configurable version would move these to RetentionPolicy-
// style rows.
const (
	volumeSpikeFactor      = 3
	volumeSpikeFloor       = 50
	failedAccessThreshold  = 5
	escalationThreshold    = 3
	bulkBurstThreshold     = 5
	sensitiveHitsThreshold = 10
)

// RiskScanner runs the rule-based scan over one company's recent activity.
type RiskScanner struct {
	activity  *repositories.ActivityRepository
	alerts    *repositories.AlertRepository
	sensitive []string
	logger    *slog.Logger
}

// NewRiskScanner builds the scanner. sensitive lists the entity types whose
// access volume is scored by the sensitive-access rule.
func NewRiskScanner(activity *repositories.ActivityRepository, alerts *repositories.AlertRepository, sensitive []string, logger *slog.Logger) *RiskScanner {
	return &RiskScanner{activity: activity, alerts: alerts, sensitive: sensitive, logger: logger}
}

// Scan evaluates every rule over the trailing 24 hours (1 hour for burst
// rules) and returns the indicators found, acknowledged ones flagged.
func (s *RiskScanner) Scan(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	var indicators []*models.RiskIndicator

	for _, rule := range []func(context.Context, string, time.Time) ([]*models.RiskIndicator, error){
		s.scanVolumeSpike,
		s.scanFailedAccess,
		s.scanEscalation,
		s.scanBulkBurst,
		s.scanSensitiveAccess,
	} {
		found, err := rule(ctx, companyID, now)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, found...)
	}

	acks, err := s.alerts.ListRiskAcknowledgments(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, ind := range indicators {
		if _, ok := acks[ind.ID]; ok {
			ind.Acknowledged = true
		}
	}

	sort.Slice(indicators, func(i, j int) bool {
		return indicators[i].RiskScore > indicators[j].RiskScore
	})
	return indicators, nil
}

// scanVolumeSpike compares the trailing 24 hours against the daily average of
// the preceding week.
func (s *RiskScanner) scanVolumeSpike(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	today, err := s.activity.AggregateWindow(ctx, companyID, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	baseline, err := s.activity.AggregateWindow(ctx, companyID, now.Add(-8*24*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	dailyAvg := baseline.Total / 7
	if today.Total < volumeSpikeFloor || today.Total < dailyAvg*volumeSpikeFactor {
		return nil, nil
	}

	score := scaleScore(today.Total, dailyAvg*volumeSpikeFactor, 40)
	return []*models.RiskIndicator{{
		ID:          indicatorID(models.RiskVolumeSpike, companyID, now),
		CompanyID:   companyID,
		Type:        models.RiskVolumeSpike,
		Severity:    severityForScore(score),
		Description: fmt.Sprintf("activity volume of %d events in 24h exceeds %dx the weekly daily average (%d)", today.Total, volumeSpikeFactor, dailyAvg),
		RiskScore:   score,
		DetectedAt:  now,
	}}, nil
}

// scanFailedAccess flags users with repeated failed logins or permission
// denials in the trailing 24 hours.
func (s *RiskScanner) scanFailedAccess(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	perUser := map[string]int{}
	for _, action := range []models.ActivityAction{models.ActionLoginFailed, models.ActionPermissionDenied} {
		action := action
		_, summary, err := s.activity.Search(ctx, companyID, repositories.ActivityFilters{
			Action:    &action,
			StartDate: timePtr(now.Add(-24 * time.Hour)),
			EndDate:   timePtr(now),
		}, 1, 0)
		if err != nil {
			return nil, err
		}
		for user, count := range summary.ByUser {
			perUser[user] += count
		}
	}

	var affected []string
	worst := 0
	for user, count := range perUser {
		if count >= failedAccessThreshold {
			affected = append(affected, user)
			if count > worst {
				worst = count
			}
		}
	}
	if len(affected) == 0 {
		return nil, nil
	}
	sort.Strings(affected)

	score := scaleScore(worst, failedAccessThreshold, 50)
	return []*models.RiskIndicator{{
		ID:            indicatorID(models.RiskRepeatedFailedAccess, companyID, now),
		CompanyID:     companyID,
		Type:          models.RiskRepeatedFailedAccess,
		Severity:      severityForScore(score),
		Description:   fmt.Sprintf("%d user(s) with %d or more failed access attempts in 24h", len(affected), failedAccessThreshold),
		AffectedUsers: affected,
		RiskScore:     score,
		DetectedAt:    now,
	}}, nil
}

// scanEscalation flags actors performing many role changes in a short span.
func (s *RiskScanner) scanEscalation(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	action := models.ActionRoleChange
	_, summary, err := s.activity.Search(ctx, companyID, repositories.ActivityFilters{
		Action:    &action,
		StartDate: timePtr(now.Add(-24 * time.Hour)),
		EndDate:   timePtr(now),
	}, 1, 0)
	if err != nil {
		return nil, err
	}

	var affected []string
	worst := 0
	for user, count := range summary.ByUser {
		if count >= escalationThreshold {
			affected = append(affected, user)
			if count > worst {
				worst = count
			}
		}
	}
	if len(affected) == 0 {
		return nil, nil
	}
	sort.Strings(affected)

	score := scaleScore(worst, escalationThreshold, 60)
	return []*models.RiskIndicator{{
		ID:            indicatorID(models.RiskPermissionEscalation, companyID, now),
		CompanyID:     companyID,
		Type:          models.RiskPermissionEscalation,
		Severity:      severityForScore(score),
		Description:   fmt.Sprintf("%d actor(s) issued %d or more role changes in 24h", len(affected), escalationThreshold),
		AffectedUsers: affected,
		RiskScore:     score,
		DetectedAt:    now,
	}}, nil
}

// scanBulkBurst flags a burst of bulk operations within the trailing hour.
func (s *RiskScanner) scanBulkBurst(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	action := models.ActionBulkOperation
	_, summary, err := s.activity.Search(ctx, companyID, repositories.ActivityFilters{
		Action:    &action,
		StartDate: timePtr(now.Add(-time.Hour)),
		EndDate:   timePtr(now),
	}, 1, 0)
	if err != nil {
		return nil, err
	}
	if summary.Total < bulkBurstThreshold {
		return nil, nil
	}

	affected := sortedKeys(summary.ByUser)
	score := scaleScore(summary.Total, bulkBurstThreshold, 45)
	return []*models.RiskIndicator{{
		ID:            indicatorID(models.RiskBulkOperationBurst, companyID, now),
		CompanyID:     companyID,
		Type:          models.RiskBulkOperationBurst,
		Severity:      severityForScore(score),
		Description:   fmt.Sprintf("%d bulk operations within one hour", summary.Total),
		AffectedUsers: affected,
		RiskScore:     score,
		DetectedAt:    now,
	}}, nil
}

// scanSensitiveAccess scores access volume against sensitive entity types.
func (s *RiskScanner) scanSensitiveAccess(ctx context.Context, companyID string, now time.Time) ([]*models.RiskIndicator, error) {
	total := 0
	var entities []string
	users := map[string]int{}

	for _, entityType := range s.sensitive {
		entityType := entityType
		_, summary, err := s.activity.Search(ctx, companyID, repositories.ActivityFilters{
			EntityType: &entityType,
			StartDate:  timePtr(now.Add(-24 * time.Hour)),
			EndDate:    timePtr(now),
		}, 1, 0)
		if err != nil {
			return nil, err
		}
		if summary.Total == 0 {
			continue
		}
		total += summary.Total
		entities = append(entities, entityType)
		for user, count := range summary.ByUser {
			users[user] += count
		}
	}
	if total < sensitiveHitsThreshold {
		return nil, nil
	}

	score := scaleScore(total, sensitiveHitsThreshold, 35)
	return []*models.RiskIndicator{{
		ID:               indicatorID(models.RiskSensitiveEntityAccess, companyID, now),
		CompanyID:        companyID,
		Type:             models.RiskSensitiveEntityAccess,
		Severity:         severityForScore(score),
		Description:      fmt.Sprintf("%d accesses touching sensitive entity types in 24h", total),
		AffectedUsers:    sortedKeys(users),
		AffectedEntities: entities,
		RiskScore:        score,
		DetectedAt:       now,
	}}, nil
}

// indicatorID is stable for one rule+company+day so an acknowledgment made in
// the morning still covers the afternoon's re-scan.
func indicatorID(t models.RiskIndicatorType, companyID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", t, companyID, now.Format("2006-01-02"))
}

// scaleScore maps observed/threshold overshoot onto [base, 100].
func scaleScore(observed, threshold, base int) int {
	if threshold <= 0 {
		threshold = 1
	}
	score := base + (observed-threshold)*base/threshold
	if score > 100 {
		return 100
	}
	if score < base {
		return base
	}
	return score
}

func severityForScore(score int) models.Severity {
	switch {
	case score >= 85:
		return models.SeverityCritical
	case score >= 60:
		return models.SeverityHigh
	case score >= 40:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func timePtr(t time.Time) *time.Time { return &t }
