// rearm.go implements the alert re-arm sweep. A tripped alert stays silent for
// its own time window; this sweep flips expired ones back to armed so a later
// burst can fire again. Runs on a short ticker rather than cron because the
// smallest alert window is one minute.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/safego"
)

// AlertRearmJob periodically re-arms tripped alert rules.
type AlertRearmJob struct {
	alerts   *repositories.AlertRepository
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewAlertRearmJob builds the job; interval defaults to one minute.
func NewAlertRearmJob(alerts *repositories.AlertRepository, interval time.Duration, logger *slog.Logger) *AlertRearmJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AlertRearmJob{
		alerts:   alerts,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (j *AlertRearmJob) Start() {
	safego.Go(func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				j.SweepOnce(ctx, time.Now())
				cancel()
			case <-j.stopCh:
				return
			}
		}
	})
}

// Stop halts the loop.
func (j *AlertRearmJob) Stop() {
	close(j.stopCh)
}

// SweepOnce re-arms every rule whose window has elapsed.
func (j *AlertRearmJob) SweepOnce(ctx context.Context, now time.Time) {
	n, err := j.alerts.RearmExpired(ctx, now)
	if err != nil {
		j.logger.Error("alert re-arm sweep failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("re-armed alert rules", "count", n)
	}
}
