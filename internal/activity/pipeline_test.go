package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []*models.ActivityLog
	err    error
	block  chan struct{} // when set, Insert waits until closed
}

func (s *captureSink) Insert(_ context.Context, ev *models.ActivityLog) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type captureEvaluator struct {
	mu     sync.Mutex
	events []*models.ActivityLog
}

func (e *captureEvaluator) OnEvent(_ context.Context, ev *models.ActivityLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func validEvent() *models.ActivityLog {
	return &models.ActivityLog{
		CompanyID:  "co-1",
		UserID:     "user-1",
		Action:     models.ActionCreateEntity,
		EntityType: "role",
	}
}

func TestRecorder_PersistsAndNotifiesEvaluator(t *testing.T) {
	sink := &captureSink{}
	eval := &captureEvaluator{}
	rec := NewRecorder(sink, eval, 16, time.Second, slog.Default())

	rec.LogActivity(validEvent())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("persisted = %d, want 1", sink.count())
	}
	eval.mu.Lock()
	defer eval.mu.Unlock()
	if len(eval.events) != 1 {
		t.Errorf("evaluator saw %d events, want 1", len(eval.events))
	}
}

func TestRecorder_DiscardsMalformedEvents(t *testing.T) {
	sink := &captureSink{}
	rec := NewRecorder(sink, nil, 16, time.Second, slog.Default())

	rec.LogActivity(nil)
	rec.LogActivity(&models.ActivityLog{CompanyID: "co-1"}) // no user/action

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("persisted = %d, want 0", sink.count())
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	sink := &captureSink{block: block}
	rec := NewRecorder(sink, nil, 1, time.Second, slog.Default())

	// keep the consumer busy, then overfill the single-slot queue
	for i := 0; i < 5; i++ {
		rec.LogActivity(validEvent())
	}
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// at most the in-flight event plus the one queued slot survive
	if sink.count() > 2 {
		t.Errorf("persisted = %d, want at most 2 with a full queue", sink.count())
	}
}

func TestRecorder_DropsAfterClose(t *testing.T) {
	sink := &captureSink{}
	rec := NewRecorder(sink, nil, 16, time.Second, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// a handler finishing after shutdown gets the usual silent drop
	rec.LogActivity(validEvent())

	if sink.count() != 0 {
		t.Errorf("persisted = %d, want 0 after close", sink.count())
	}
}

func TestRecorder_SinkFailureNeverSurfaces(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	rec := NewRecorder(sink, nil, 16, time.Second, slog.Default())

	// LogActivity has no error to return; this must simply not panic or block
	rec.LogActivity(validEvent())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRecorder_StampsTimestamp(t *testing.T) {
	sink := &captureSink{}
	rec := NewRecorder(sink, nil, 16, time.Second, slog.Default())

	ev := validEvent()
	rec.LogActivity(ev)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec.Close(ctx)

	if ev.Timestamp.IsZero() {
		t.Error("expected Timestamp to be stamped at ingestion")
	}
}
