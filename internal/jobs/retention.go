// retention.go implements the RetentionJob background sweep: per active
// policy, rows older than archiveAfter move to the archive store in bounded
// batches, and rows older than deleteAfter are hard-deleted along with their
// archived batches. Archive happens before delete within one sweep so a row is
// never removed while still inside its export window.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/propty-os/access-engine/internal/archive"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/telemetry"
)

const archiveBatchSize = 500

// RetentionJob applies retention policies on a cron schedule.
type RetentionJob struct {
	policies *repositories.RetentionRepository
	activity *repositories.ActivityRepository
	store    archive.Store
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewRetentionJob builds the job. schedule is a standard 5-field cron spec.
func NewRetentionJob(
	policies *repositories.RetentionRepository,
	activity *repositories.ActivityRepository,
	store archive.Store,
	schedule string,
	logger *slog.Logger,
) *RetentionJob {
	return &RetentionJob{
		policies: policies,
		activity: activity,
		store:    store,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sweep with the cron scheduler and starts it.
func (j *RetentionJob) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		j.Sweep(ctx, time.Now())
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("retention job scheduled", "cron", j.schedule)
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (j *RetentionJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep applies every active policy once. Policy failures are logged and do
// not stop the remaining policies.
func (j *RetentionJob) Sweep(ctx context.Context, now time.Time) {
	policies, err := j.policies.ListAllActive(ctx)
	if err != nil {
		j.logger.Error("retention sweep failed to load policies", "error", err)
		return
	}

	for _, policy := range policies {
		if err := j.applyPolicy(ctx, policy, now); err != nil {
			j.logger.Error("retention policy failed",
				"error", err, "company_id", policy.CompanyID, "entity_type", policy.EntityType)
		}
	}
}

func (j *RetentionJob) applyPolicy(ctx context.Context, policy *models.RetentionPolicy, now time.Time) error {
	archiveCutoff := now.AddDate(0, 0, -policy.ArchiveAfter)
	deleteCutoff := now.AddDate(0, 0, -policy.DeleteAfter)

	archived, err := j.archiveRows(ctx, policy, archiveCutoff)
	if err != nil {
		return err
	}

	deleted, err := j.activity.DeleteOlderThan(ctx, policy.CompanyID, policy.EntityType, deleteCutoff)
	if err != nil {
		return err
	}
	if err := j.store.Purge(ctx, policy.CompanyID, policy.EntityType, deleteCutoff); err != nil {
		return err
	}

	telemetry.RetentionRowsProcessed.WithLabelValues("deleted").Add(float64(deleted))
	if archived > 0 || deleted > 0 {
		j.logger.Info("retention policy applied",
			"company_id", policy.CompanyID, "entity_type", policy.EntityType,
			"archived", archived, "deleted", deleted)
	}
	return nil
}

// archiveRows moves eligible rows in batches. Rows are flagged archived only
// after their batch landed in the store, so a crash between the two steps
// re-archives rather than loses them.
func (j *RetentionJob) archiveRows(ctx context.Context, policy *models.RetentionPolicy, cutoff time.Time) (int, error) {
	total := 0
	for {
		batch, err := j.activity.ListForArchive(ctx, policy.CompanyID, policy.EntityType, cutoff, archiveBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		if _, err := j.store.WriteBatch(ctx, policy.CompanyID, policy.EntityType, batch); err != nil {
			return total, err
		}

		ids := make([]string, 0, len(batch))
		for _, ev := range batch {
			ids = append(ids, ev.ID)
		}
		if err := j.activity.MarkArchived(ctx, policy.CompanyID, ids); err != nil {
			return total, err
		}

		total += len(batch)
		telemetry.RetentionRowsProcessed.WithLabelValues("archived").Add(float64(len(batch)))

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}
