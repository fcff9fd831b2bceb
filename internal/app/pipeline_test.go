package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickwatch/internal/alerting"
	"tickwatch/internal/feed"
	"tickwatch/internal/storage"
	"tickwatch/internal/telemetry"
)

type captureNotifier struct {
	notes chan alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes <- note
	return nil
}

func newTestPipeline(t *testing.T) (*pipeline, *captureNotifier, *telemetry.Sink) {
	t.Helper()
	state := storage.NewStateStore(storage.NewMemoryKV())
	evaluator := alerting.NewEvaluator(state, alerting.EvaluatorOptions{
		ThresholdPct: decimal.RequireFromString("1.0"),
		DedupWindow:  3 * time.Minute,
	}, zerolog.Nop())

	notifier := &captureNotifier{notes: make(chan alerting.Notification, 8)}
	sink := telemetry.NewSink(64)

	return &pipeline{
		ctx:          context.Background(),
		evaluator:    evaluator,
		notifier:     notifier,
		thresholdPct: decimal.RequireFromString("1.0"),
		sink:         sink,
		logger:       zerolog.Nop(),
	}, notifier, sink
}

func obs(price string, at time.Time) feed.Observation {
	return feed.Observation{
		Instrument: "XBT/USD",
		Price:      decimal.RequireFromString(price),
		ObservedAt: at,
	}
}

func TestPipelineDeliversFiredAlerts(t *testing.T) {
	pipe, notifier, sink := newTestPipeline(t)
	t0 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	pipe.handle(obs("50000", t0))
	pipe.handle(obs("50600", t0.Add(time.Minute)))

	select {
	case note := <-notifier.notes:
		if note.Instrument != "XBT/USD" || note.Direction != alerting.DirectionUp {
			t.Fatalf("unexpected notification: %+v", note)
		}
		if !note.PriorBaseline.Equal(decimal.RequireFromString("50000")) {
			t.Fatalf("unexpected prior baseline: %s", note.PriorBaseline)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fired alert was never delivered")
	}

	events := sink.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 decision events, got %d", len(events))
	}
	if events[0].Message != "initialized" || events[1].Message != "fired" {
		t.Fatalf("unexpected decision trail: %q, %q", events[0].Message, events[1].Message)
	}
}

func TestPipelineSuppressedAlertIsNotDelivered(t *testing.T) {
	pipe, notifier, _ := newTestPipeline(t)
	t0 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	pipe.handle(obs("50000", t0))
	pipe.handle(obs("50600", t0.Add(time.Minute)))
	<-notifier.notes

	// Second crossing in the same direction inside the dedup window.
	pipe.handle(obs("51210", t0.Add(2*time.Minute)))

	select {
	case note := <-notifier.notes:
		t.Fatalf("suppressed alert must not be delivered: %+v", note)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipelineRejectedObservationIsDropped(t *testing.T) {
	pipe, notifier, sink := newTestPipeline(t)
	t0 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	pipe.handle(obs("0", t0))

	select {
	case note := <-notifier.notes:
		t.Fatalf("invalid observation must not notify: %+v", note)
	case <-time.After(100 * time.Millisecond):
	}
	if len(sink.Snapshot()) != 0 {
		t.Fatal("invalid observation must not publish a decision")
	}
}
