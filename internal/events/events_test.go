package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/domain"
	"github.com/spec-kit/case-engine/internal/events"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestDispatcherRunsEveryHandler(t *testing.T) {
	d := events.NewInMemoryDispatcher()
	boom := errors.New("boom")
	calls := 0
	d.Subscribe(events.EventCaseCreated, func(context.Context, events.Event) error { calls++; return boom })
	d.Subscribe(events.EventCaseCreated, func(context.Context, events.Event) error { calls++; return nil })

	err := d.Publish(context.Background(), events.Event{Type: events.EventCaseCreated})
	gt.Error(t, err).Is(boom)
	gt.Value(t, calls).Equal(2)

	gt.NoError(t, d.Publish(context.Background(), events.Event{Type: events.EventSLABreached}))
}

func TestKafkaPublisherWritesKeyedMessages(t *testing.T) {
	w := &recordingWriter{}
	p := events.NewKafkaPublisherWithWriter(w, "case-engine", zap.NewNop())
	d := events.NewInMemoryDispatcher()
	p.Register(d)

	event := events.Event{
		ID:        "e1",
		Type:      events.EventCaseStatusChanged,
		TenantID:  "t1",
		CaseID:    "c1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   events.CaseStatusChangedPayload{From: domain.CaseStatusNew, To: domain.CaseStatusOpen, Reason: domain.ReasonRouted},
	}
	gt.NoError(t, d.Publish(context.Background(), event)).Required()

	gt.Array(t, w.msgs).Length(1)
	msg := w.msgs[0]
	gt.Value(t, msg.Topic).Equal("case-engine.case_status_changed")
	gt.Value(t, string(msg.Key)).Equal("c1")

	var decoded map[string]any
	gt.NoError(t, json.Unmarshal(msg.Value, &decoded)).Required()
	gt.Value(t, decoded["tenant_id"]).Equal("t1")
	gt.Value(t, decoded["payload"].(map[string]any)["to"]).Equal("OPEN")
}

func TestKafkaPublisherSurfacesWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := events.NewKafkaPublisherWithWriter(&recordingWriter{err: boom}, "", zap.NewNop())
	err := p.Handle(context.Background(), events.Event{ID: "e1", Type: events.EventCaseQueued})
	gt.Error(t, err).Is(boom)
	gt.Value(t, p.Topic(events.EventCaseQueued)).Equal("case_queued")
}
