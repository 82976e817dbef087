package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/store"
)

func newTestInboxService(t *testing.T, cfg InboxConfig) (*InboxService, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	if err := st.CreateAccount(context.Background(), &model.Account{Owner: "alice"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return NewInboxService(st, cfg), st
}

func TestIngestStructuredPayload(t *testing.T) {
	svc, _ := newTestInboxService(t, DefaultInboxConfig())
	ctx := context.Background()

	payload := `{"body":"Your code is 123456","sender":"+15551234567","source_time":"2026-03-01T12:00:00Z"}`
	msg, err := svc.Ingest(ctx, "alice", payload)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected non-zero message ID")
	}
	if msg.Body != "Your code is 123456" {
		t.Errorf("got body %q, want extracted text", msg.Body)
	}
	if msg.Sender != "+15551234567" {
		t.Errorf("got sender %q, want +15551234567", msg.Sender)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if msg.SourceTime == nil || !msg.SourceTime.Equal(want) {
		t.Errorf("got source time %v, want %v", msg.SourceTime, want)
	}
	if msg.RawPayload != payload {
		t.Error("raw payload must be stored untouched")
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("expected server receive timestamp")
	}
}

func TestIngestRawText(t *testing.T) {
	svc, _ := newTestInboxService(t, DefaultInboxConfig())
	ctx := context.Background()

	msg, err := svc.Ingest(ctx, "alice", "plain text notification")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg.Body != "plain text notification" {
		t.Errorf("got body %q, want the raw text", msg.Body)
	}
	if msg.Sender != "" {
		t.Errorf("got sender %q, want empty", msg.Sender)
	}
	if msg.SourceTime != nil {
		t.Errorf("got source time %v, want nil", msg.SourceTime)
	}
}

func TestIngestMalformedJSONDegradesToRaw(t *testing.T) {
	svc, _ := newTestInboxService(t, DefaultInboxConfig())
	ctx := context.Background()

	// Broken JSON must be stored as-is, never rejected.
	payload := `{"body": "unterminated`
	msg, err := svc.Ingest(ctx, "alice", payload)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if msg.Body != payload {
		t.Errorf("got body %q, want the raw payload", msg.Body)
	}
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	svc, st := newTestInboxService(t, DefaultInboxConfig())
	ctx := context.Background()

	for _, payload := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Ingest(ctx, "alice", payload); err != ErrEmptyPayload {
			t.Errorf("Ingest(%q): expected ErrEmptyPayload, got %v", payload, err)
		}
	}

	count, err := st.CountMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d messages after rejected ingests, want 0", count)
	}
}

func TestIngestUnknownAccount(t *testing.T) {
	svc, _ := newTestInboxService(t, DefaultInboxConfig())

	if _, err := svc.Ingest(context.Background(), "nobody", "hello"); err != ErrUnknownAccount {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	svc, st := newTestInboxService(t, InboxConfig{MaxPerOwner: 3, ListPageSize: 10})
	ctx := context.Background()

	// Ingest A..E in order with increasing source times.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, body := range []string{"A", "B", "C", "D", "E"} {
		payload := fmt.Sprintf(`{"body":%q,"source_time":%q}`,
			body, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339))
		if _, err := svc.Ingest(ctx, "alice", payload); err != nil {
			t.Fatalf("Ingest %q: %v", body, err)
		}
	}

	count, err := st.CountMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 3 {
		t.Errorf("got %d retained, want 3", count)
	}

	msgs, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = m.Body
	}
	want := []string{"E", "D", "C"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListRespectsPageSize(t *testing.T) {
	svc, _ := newTestInboxService(t, InboxConfig{MaxPerOwner: 10, ListPageSize: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Ingest(ctx, "alice", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	msgs, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want page size 2", len(msgs))
	}
}
