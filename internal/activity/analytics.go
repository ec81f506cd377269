// analytics.go derives read-only window reports from the immutable log. Source
// rows are never touched; everything here is a projection of whatever the
// aggregation queries return.
package activity

import (
	"context"
	"time"

	"github.com/propty-os/access-engine/internal/db/repositories"
)

// AnalyticsReport is the window summary served to dashboards.
type AnalyticsReport struct {
	Start              time.Time      `json:"start"`
	End                time.Time      `json:"end"`
	TotalEvents        int            `json:"totalEvents"`
	UniqueUsers        int            `json:"uniqueUsers"`
	UniqueEntities     int            `json:"uniqueEntities"`
	PeakHour           string         `json:"peakHour,omitempty"` // "00".."23"
	MostActiveUser     string         `json:"mostActiveUser,omitempty"`
	MostAccessedEntity string         `json:"mostAccessedEntity,omitempty"`
	DailyTrend         map[string]int `json:"dailyTrend"`
	HourlyTrend        map[string]int `json:"hourlyTrend"`
	ByAction           map[string]int `json:"byAction"`
	ByEntityType       map[string]int `json:"byEntityType"`
}

// AggregateSource supplies raw window aggregates. Satisfied by
// repositories.ActivityRepository.
type AggregateSource interface {
	AggregateWindow(ctx context.Context, companyID string, start, end time.Time) (*repositories.WindowAggregates, error)
}

// AnalyticsService computes window reports.
type AnalyticsService struct {
	source AggregateSource
}

// NewAnalyticsService builds the service.
func NewAnalyticsService(source AggregateSource) *AnalyticsService {
	return &AnalyticsService{source: source}
}

// Report aggregates one company's activity over [start, end].
func (s *AnalyticsService) Report(ctx context.Context, companyID string, start, end time.Time) (*AnalyticsReport, error) {
	agg, err := s.source.AggregateWindow(ctx, companyID, start, end)
	if err != nil {
		return nil, err
	}

	return &AnalyticsReport{
		Start:              start,
		End:                end,
		TotalEvents:        agg.Total,
		UniqueUsers:        agg.UniqueUsers,
		UniqueEntities:     agg.UniqueEntities,
		PeakHour:           maxKey(agg.ByHour),
		MostActiveUser:     maxKey(agg.ByUser),
		MostAccessedEntity: maxKey(agg.ByEntity),
		DailyTrend:         agg.ByDate,
		HourlyTrend:        agg.ByHour,
		ByAction:           agg.ByAction,
		ByEntityType:       agg.ByEntityType,
	}, nil
}

// maxKey returns the key with the highest count; ties break towards the
// lexicographically smaller key so reports are stable.
func maxKey(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, v := range counts {
		if v > bestCount || (v == bestCount && k < best) {
			best = k
			bestCount = v
		}
	}
	return best
}
