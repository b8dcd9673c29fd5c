package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentplexus/voiceagent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetCall(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	call := voiceagent.Call{
		ID:        "call-1",
		CallerID:  "+15551234567",
		StartedAt: time.Now().UTC(),
		Transcript: []voiceagent.TranscriptLine{
			{Role: "user", Text: "hello"},
			{Role: "assistant", Text: "hi there"},
		},
	}
	id, err := s.PutCall(ctx, call)
	if err != nil {
		t.Fatalf("PutCall: %v", err)
	}

	got, err := s.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.CallerID != call.CallerID {
		t.Fatalf("CallerID = %q, want %q", got.CallerID, call.CallerID)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("expected 2 transcript lines, got %d", len(got.Transcript))
	}
}

func TestBlacklistRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if blocked, _ := s.IsBlacklisted(ctx, "+1555"); blocked {
		t.Fatalf("expected not blacklisted initially")
	}

	if err := s.AddBlacklist(ctx, "+1555", "manual"); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	if blocked, _ := s.IsBlacklisted(ctx, "+1555"); !blocked {
		t.Fatalf("expected blacklisted after AddBlacklist")
	}

	if err := s.RemoveBlacklist(ctx, "+1555"); err != nil {
		t.Fatalf("RemoveBlacklist: %v", err)
	}
	if blocked, _ := s.IsBlacklisted(ctx, "+1555"); blocked {
		t.Fatalf("expected not blacklisted after removal")
	}
}

func TestAutoBlacklistAfterThreeFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	caller := "+15559999999"

	for i := 0; i < MaxFailedCalls-1; i++ {
		if _, err := s.RecordFailedUnlock(ctx, caller, "0000"); err != nil {
			t.Fatalf("RecordFailedUnlock: %v", err)
		}
		if promoted, _ := s.CheckAndAutoBlacklist(ctx, caller); promoted {
			t.Fatalf("should not auto-blacklist before %d failures", MaxFailedCalls)
		}
	}

	if _, err := s.RecordFailedUnlock(ctx, caller, "0000"); err != nil {
		t.Fatalf("RecordFailedUnlock: %v", err)
	}
	promoted, err := s.CheckAndAutoBlacklist(ctx, caller)
	if err != nil {
		t.Fatalf("CheckAndAutoBlacklist: %v", err)
	}
	if !promoted {
		t.Fatalf("expected auto-blacklist at %d failures", MaxFailedCalls)
	}

	blocked, _ := s.IsBlacklisted(ctx, caller)
	if !blocked {
		t.Fatalf("expected caller to be blacklisted")
	}
}

func TestRemoveBlacklistCascadesFailedCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	caller := "+15558888888"

	for i := 0; i < MaxFailedCalls; i++ {
		s.RecordFailedUnlock(ctx, caller, "0000")
	}
	s.CheckAndAutoBlacklist(ctx, caller)

	if err := s.RemoveBlacklist(ctx, caller); err != nil {
		t.Fatalf("RemoveBlacklist: %v", err)
	}

	count, err := s.RecordFailedUnlock(ctx, caller, "1111")
	if err != nil {
		t.Fatalf("RecordFailedUnlock: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected failed-call history to be cleared by removal, got count=%d", count)
	}
}

func TestWhitelistRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddWhitelist(ctx, "+1777", "VIP"); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}
	if ok, _ := s.IsWhitelisted(ctx, "+1777"); !ok {
		t.Fatalf("expected whitelisted")
	}

	entries, err := s.ListWhitelist(ctx)
	if err != nil {
		t.Fatalf("ListWhitelist: %v", err)
	}
	if len(entries) != 1 || entries[0].Note != "VIP" {
		t.Fatalf("unexpected whitelist entries: %+v", entries)
	}

	if err := s.RemoveWhitelist(ctx, "+1777"); err != nil {
		t.Fatalf("RemoveWhitelist: %v", err)
	}
	if ok, _ := s.IsWhitelisted(ctx, "+1777"); ok {
		t.Fatalf("expected not whitelisted after removal")
	}
}
