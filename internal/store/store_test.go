package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cardbox/cardbox/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCardKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.CardKey{Key: "A3F9K2M7", Owner: "alice"}
	if err := s.CreateCardKey(ctx, key); err != nil {
		t.Fatalf("CreateCardKey: %v", err)
	}
	if key.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}
	if key.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	// Duplicate token collides with the unique constraint.
	dup := &model.CardKey{Key: "A3F9K2M7", Owner: "bob"}
	if err := s.CreateCardKey(ctx, dup); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetCardKey(ctx, "A3F9K2M7")
	if err != nil {
		t.Fatalf("GetCardKey: %v", err)
	}
	if got.Owner != "alice" {
		t.Errorf("got owner %q, want %q", got.Owner, "alice")
	}
	if got.FirstUsedAt != nil {
		t.Error("new key should have no first-use timestamp")
	}

	_, err = s.GetCardKey(ctx, "NOPE1234")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListCardKeys(ctx)
	if err != nil {
		t.Fatalf("ListCardKeys: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d keys, want 1", len(list))
	}

	if err := s.DeleteCardKey(ctx, "A3F9K2M7"); err != nil {
		t.Fatalf("DeleteCardKey: %v", err)
	}
	_, err = s.GetCardKey(ctx, "A3F9K2M7")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is a no-op.
	if err := s.DeleteCardKey(ctx, "A3F9K2M7"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestStampFirstUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.CardKey{Key: "B7Q2W9XC", Owner: "alice"}
	if err := s.CreateCardKey(ctx, key); err != nil {
		t.Fatalf("CreateCardKey: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamped, err := s.StampFirstUse(ctx, "B7Q2W9XC", at)
	if err != nil {
		t.Fatalf("StampFirstUse: %v", err)
	}
	if !stamped {
		t.Fatal("first stamp should win")
	}

	// A second stamp must lose and leave the original timestamp alone.
	stamped, err = s.StampFirstUse(ctx, "B7Q2W9XC", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("StampFirstUse (second): %v", err)
	}
	if stamped {
		t.Fatal("second stamp should lose")
	}

	got, err := s.GetCardKey(ctx, "B7Q2W9XC")
	if err != nil {
		t.Fatalf("GetCardKey: %v", err)
	}
	if got.FirstUsedAt == nil {
		t.Fatal("expected first-use timestamp to be set")
	}
	if !got.FirstUsedAt.Equal(at) {
		t.Errorf("got first used %v, want %v", got.FirstUsedAt, at)
	}

	used, err := s.ListUsedCardKeys(ctx)
	if err != nil {
		t.Fatalf("ListUsedCardKeys: %v", err)
	}
	if len(used) != 1 {
		t.Errorf("got %d used keys, want 1", len(used))
	}
}

func TestStampFirstUseConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.CardKey{Key: "RACEKEY1", Owner: "alice"}
	if err := s.CreateCardKey(ctx, key); err != nil {
		t.Fatalf("CreateCardKey: %v", err)
	}

	const attempts = 10
	wins := make(chan bool, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			stamped, err := s.StampFirstUse(ctx, "RACEKEY1",
				time.Now().UTC().Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				errs <- err
				return
			}
			wins <- stamped
		}(i)
	}

	won := 0
	for i := 0; i < attempts; i++ {
		select {
		case err := <-errs:
			t.Fatalf("StampFirstUse: %v", err)
		case stamped := <-wins:
			if stamped {
				won++
			}
		}
	}
	if won != 1 {
		t.Errorf("got %d winners, want exactly 1", won)
	}
}

func TestUsageLogAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcomes := []model.Outcome{model.OutcomeInvalid, model.OutcomeSuccess, model.OutcomeExpired}
	for i, outcome := range outcomes {
		entry := &model.UsageLogEntry{
			Key:     "LOGKEY01",
			Owner:   "alice",
			Outcome: outcome,
			At:      time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		}
		if err := s.AppendUsageLog(ctx, entry); err != nil {
			t.Fatalf("AppendUsageLog: %v", err)
		}
		if entry.ID == 0 {
			t.Fatal("expected non-zero ID after append")
		}
	}

	// Newest first.
	log, err := s.UsageLog(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("UsageLog: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("got %d entries, want 3", len(log))
	}
	if log[0].Outcome != model.OutcomeExpired {
		t.Errorf("got newest outcome %q, want %q", log[0].Outcome, model.OutcomeExpired)
	}
	if log[2].Outcome != model.OutcomeInvalid {
		t.Errorf("got oldest outcome %q, want %q", log[2].Outcome, model.OutcomeInvalid)
	}

	// Limit is honored.
	log, err = s.UsageLog(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("UsageLog limit: %v", err)
	}
	if len(log) != 2 {
		t.Errorf("got %d entries, want 2", len(log))
	}

	all, err := s.UsageLogAll(ctx, 10)
	if err != nil {
		t.Fatalf("UsageLogAll: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d entries across owners, want 3", len(all))
	}
}

func TestInsertMessageEvictsOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		msg := &model.Message{
			Owner:      "alice",
			RawPayload: "{}",
			Body:       fmt.Sprintf("message %d", i),
			SourceTime: &at,
			ReceivedAt: at,
		}
		if err := s.InsertMessage(ctx, msg, 3); err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
		if msg.ID == 0 {
			t.Fatal("expected non-zero ID after insert")
		}
	}

	count, err := s.CountMessages(ctx, "alice")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 3 {
		t.Errorf("got %d retained messages, want 3", count)
	}

	// Newest first, and the two oldest gone.
	msgs, err := s.ListMessages(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Body != "message 4" {
		t.Errorf("got newest body %q, want %q", msgs[0].Body, "message 4")
	}
	if msgs[2].Body != "message 2" {
		t.Errorf("got oldest retained body %q, want %q", msgs[2].Body, "message 2")
	}
}

func TestInsertMessageEvictionIsPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Bob's single old message must survive alice overflowing her cap.
	bobAt := base.Add(-time.Hour)
	bob := &model.Message{Owner: "bob", RawPayload: "{}", Body: "bob's message", SourceTime: &bobAt, ReceivedAt: bobAt}
	if err := s.InsertMessage(ctx, bob, 2); err != nil {
		t.Fatalf("InsertMessage bob: %v", err)
	}

	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		msg := &model.Message{Owner: "alice", RawPayload: "{}", Body: fmt.Sprintf("alice %d", i), SourceTime: &at, ReceivedAt: at}
		if err := s.InsertMessage(ctx, msg, 2); err != nil {
			t.Fatalf("InsertMessage alice %d: %v", i, err)
		}
	}

	aliceCount, _ := s.CountMessages(ctx, "alice")
	if aliceCount != 2 {
		t.Errorf("alice: got %d messages, want 2", aliceCount)
	}
	bobCount, _ := s.CountMessages(ctx, "bob")
	if bobCount != 1 {
		t.Errorf("bob: got %d messages, want 1", bobCount)
	}
}

func TestInsertMessageOrdersBySourceTimeThenReceived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// No source time: ordering falls back to receive time.
	noSource := &model.Message{Owner: "alice", RawPayload: "{}", Body: "no source", ReceivedAt: base.Add(2 * time.Minute)}
	if err := s.InsertMessage(ctx, noSource, 10); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	early := base
	withSource := &model.Message{Owner: "alice", RawPayload: "{}", Body: "early source", SourceTime: &early, ReceivedAt: base.Add(3 * time.Minute)}
	if err := s.InsertMessage(ctx, withSource, 10); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// "no source" has the later effective time, so it lists first.
	if msgs[0].Body != "no source" {
		t.Errorf("got first body %q, want %q", msgs[0].Body, "no source")
	}
}

func TestAccountCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ttl := int64(7200)
	acct := &model.Account{Owner: "alice", Label: "Alice's inbox", TTLSeconds: &ttl}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := s.CreateAccount(ctx, &model.Account{Owner: "alice"}); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Label != "Alice's inbox" {
		t.Errorf("got label %q, want %q", got.Label, "Alice's inbox")
	}
	if got.TTLSeconds == nil || *got.TTLSeconds != 7200 {
		t.Errorf("got ttl %v, want 7200", got.TTLSeconds)
	}

	_, err = s.GetAccount(ctx, "nobody")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Update
	acct.Label = "Renamed"
	acct.TTLSeconds = nil
	if err := s.UpdateAccount(ctx, acct); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	got2, _ := s.GetAccount(ctx, "alice")
	if got2.Label != "Renamed" {
		t.Errorf("got label %q, want %q", got2.Label, "Renamed")
	}
	if got2.TTLSeconds != nil {
		t.Errorf("expected cleared ttl, got %v", *got2.TTLSeconds)
	}

	if err := s.UpdateAccount(ctx, &model.Account{Owner: "nobody"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d accounts, want 1", len(list))
	}

	if err := s.DeleteAccount(ctx, "alice"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := s.DeleteAccount(ctx, "alice"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestAdminCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// HasAnyAdmin - should be false initially
	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("expected no admins initially")
	}

	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: "deadbeef",
		Name:         "Test Admin",
		IsActive:     true,
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	if err := s.CreateAdmin(ctx, &model.Admin{Email: "admin@example.com"}); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	has, err = s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if !has {
		t.Error("expected admin to exist")
	}

	got, err := s.GetAdminByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.Name != "Test Admin" {
		t.Errorf("got name %q, want %q", got.Name, "Test Admin")
	}

	if err := s.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got2, _ := s.GetAdminByEmail(ctx, "admin@example.com")
	if got2.LastLoginAt == nil {
		t.Error("expected last login to be stamped")
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 1 {
		t.Errorf("got %d admins, want 1", len(admins))
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "instance_id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetSetting(ctx, "instance_id", "abc-123"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	got, err := s.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "abc-123" {
		t.Errorf("got %q, want %q", got, "abc-123")
	}

	// Upsert replaces.
	if err := s.SetSetting(ctx, "instance_id", "def-456"); err != nil {
		t.Fatalf("SetSetting (replace): %v", err)
	}
	got, _ = s.GetSetting(ctx, "instance_id")
	if got != "def-456" {
		t.Errorf("got %q, want %q", got, "def-456")
	}
}
