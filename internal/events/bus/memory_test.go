package bus

import (
	"context"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
)

func testBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	b := NewMemoryEventBus(log)
	t.Cleanup(b.Close)
	return b
}

func waitFor(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := testBus(t)
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("task.created", func(ctx context.Context, ev *Event) error {
		received <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.IsValid() {
		t.Fatal("fresh subscription should be valid")
	}

	sent := NewEvent("task.created", "tasks", map[string]interface{}{"task_id": "t1"})
	if err := b.Publish(context.Background(), "task.created", sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitFor(t, received)
	if got.ID != sent.ID {
		t.Errorf("received event %s, want %s", got.ID, sent.ID)
	}
	if got.Data["task_id"] != "t1" {
		t.Errorf("data.task_id = %v, want t1", got.Data["task_id"])
	}
}

func TestWildcardMatching(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		match   bool
	}{
		{"exact", "task.created", "task.created", true},
		{"exact mismatch", "task.created", "task.updated", false},
		{"star matches one token", "task.*", "task.created", true},
		{"star rejects two tokens", "task.*", "task.created.sub", false},
		{"tail matches one token", "task.>", "task.created", true},
		{"tail matches many tokens", "task.>", "task.created.sub", true},
		{"tail rejects other prefix", "task.>", "message.sent", false},
		{"middle star", "*.sent", "message.sent", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBus(t)
			received := make(chan *Event, 1)
			if _, err := b.Subscribe(tt.pattern, func(ctx context.Context, ev *Event) error {
				received <- ev
				return nil
			}); err != nil {
				t.Fatalf("subscribe: %v", err)
			}

			ev := NewEvent(tt.subject, "test", nil)
			if err := b.Publish(context.Background(), tt.subject, ev); err != nil {
				t.Fatalf("publish: %v", err)
			}

			if tt.match {
				waitFor(t, received)
			} else {
				select {
				case <-received:
					t.Errorf("pattern %q should not match subject %q", tt.pattern, tt.subject)
				case <-time.After(100 * time.Millisecond):
				}
			}
		})
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := testBus(t)
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("agent.registered", func(ctx context.Context, ev *Event) error {
		received <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsValid() {
		t.Error("unsubscribed subscription should not be valid")
	}

	ev := NewEvent("agent.registered", "identity", nil)
	if err := b.Publish(context.Background(), "agent.registered", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
		t.Error("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	b := NewMemoryEventBus(log)

	if !b.IsConnected() {
		t.Fatal("fresh bus should report connected")
	}
	b.Close()
	if b.IsConnected() {
		t.Error("closed bus should not report connected")
	}

	if err := b.Publish(context.Background(), "task.created", NewEvent("task.created", "tasks", nil)); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := b.Subscribe("task.created", func(ctx context.Context, ev *Event) error { return nil }); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("message.sent", "messaging", map[string]interface{}{"from": "alice"})
	if ev.ID == "" {
		t.Error("event ID should be populated")
	}
	if ev.Type != "message.sent" {
		t.Errorf("type = %q, want message.sent", ev.Type)
	}
	if ev.Source != "messaging" {
		t.Errorf("source = %q, want messaging", ev.Source)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if ev.Data["from"] != "alice" {
		t.Errorf("data.from = %v, want alice", ev.Data["from"])
	}
}
