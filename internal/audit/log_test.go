package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bidflow.org/internal/auth"
)

func TestLogEvent(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	SetLoggerForTests(zap.New(core))
	t.Cleanup(func() { SetLoggerForTests(nil) })

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "user-42")

	if err := LogEvent(ctx, "auction.start", map[string]any{"auction_id": "a1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["event"] != "auction.start" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", fields["user_id"])
	}
	nested, ok := fields["fields"].(map[string]any)
	if !ok || nested["auction_id"] != "a1" {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
