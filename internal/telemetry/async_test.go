package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"auth-lifecycle/internal/telemetry/domain"
)

type mockEventEmitter struct {
	mu     sync.Mutex
	events []*domain.LifecycleEvent
}

func (m *mockEventEmitter) Emit(_ context.Context, event *domain.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventEmitter) getEvents() []*domain.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), &domain.LifecycleEvent{EventType: "token.issue"})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}

	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)

	if got := emitter.getEvents(); len(got) != 0 {
		t.Errorf("expected 0 events, got %d", len(got))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := &domain.LifecycleEvent{
		SubjectID: "u1",
		SessionID: "s1",
		EventType: "session.anomaly",
		Source:    "server",
	}

	EmitAsync(emitter, context.Background(), event)
	time.Sleep(100 * time.Millisecond)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SubjectID != "u1" || events[0].EventType != "session.anomaly" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestEmitAsync_UsesBackgroundContext(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Emits even though the request context is already cancelled.
	EmitAsync(emitter, ctx, &domain.LifecycleEvent{EventType: "token.rotate"})
	time.Sleep(100 * time.Millisecond)

	if got := emitter.getEvents(); len(got) != 1 {
		t.Errorf("expected 1 event, got %d", len(got))
	}
}
