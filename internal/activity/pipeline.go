// Package activity implements the fire-and-forget audit pipeline: a bounded
// in-process queue between business handlers and the activity store, plus the
// analytics, risk-scan, and alert-evaluation consumers of that store.
//
// The queue decouples ingestion from persistence so a slow or failing store
// never blocks a business operation. When the queue is full the event is
// dropped and counted; an audit gap is survivable, a stalled request path is
// not.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/safego"
	"github.com/propty-os/access-engine/internal/telemetry"
)

// Sink persists accepted events. Satisfied by repositories.ActivityRepository.
type Sink interface {
	Insert(ctx context.Context, ev *models.ActivityLog) error
}

// Evaluator is notified after each successful persist. Satisfied by
// AlertEvaluator; a nil evaluator disables alerting.
type Evaluator interface {
	OnEvent(ctx context.Context, ev *models.ActivityLog)
}

// Recorder is the write side of the pipeline. LogActivity never blocks and
// never returns an error; ingestion problems surface only through metrics and
// the diagnostic log.
type Recorder struct {
	queue        chan *models.ActivityLog
	sink         Sink
	evaluator    Evaluator
	flushTimeout time.Duration
	logger       *slog.Logger

	// closeMu serializes sends against Close so a late LogActivity can never
	// hit a closed queue.
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	drained   chan struct{}
}

// NewRecorder builds the recorder and starts its consumer goroutine.
func NewRecorder(sink Sink, evaluator Evaluator, queueSize int, flushTimeout time.Duration, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}

	r := &Recorder{
		queue:        make(chan *models.ActivityLog, queueSize),
		sink:         sink,
		evaluator:    evaluator,
		flushTimeout: flushTimeout,
		logger:       logger,
		drained:      make(chan struct{}),
	}
	safego.Go(r.consume)
	return r
}

// LogActivity enqueues one event. Invalid events and queue overflow are
// swallowed after counting; callers get no signal on purpose.
func (r *Recorder) LogActivity(ev *models.ActivityLog) {
	if ev == nil || ev.CompanyID == "" || ev.UserID == "" || ev.Action == "" || ev.EntityType == "" {
		telemetry.ActivityPersistFailures.Inc()
		r.logger.Warn("discarding malformed activity event")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	// A handler that outlives the shutdown drain still must not panic on a
	// closed queue; its event counts as dropped like any other overflow.
	if r.closed {
		telemetry.ActivityEventsDropped.Inc()
		r.logger.Warn("recorder closed, dropping event",
			"action", ev.Action, "entity_type", ev.EntityType, "company_id", ev.CompanyID)
		return
	}

	select {
	case r.queue <- ev:
		telemetry.ActivityEventsIngested.Inc()
	default:
		telemetry.ActivityEventsDropped.Inc()
		r.logger.Warn("activity queue full, dropping event",
			"action", ev.Action, "entity_type", ev.EntityType, "company_id", ev.CompanyID)
	}
}

func (r *Recorder) consume() {
	defer close(r.drained)

	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
		if err := r.sink.Insert(ctx, ev); err != nil {
			telemetry.ActivityPersistFailures.Inc()
			r.logger.Error("failed to persist activity event",
				"error", err, "action", ev.Action, "company_id", ev.CompanyID)
			cancel()
			continue
		}
		if r.evaluator != nil {
			r.evaluator.OnEvent(ctx, ev)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain, up to the
// context deadline. Safe to call more than once.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeMu.Lock()
		r.closed = true
		close(r.queue)
		r.closeMu.Unlock()
	})

	select {
	case <-r.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
