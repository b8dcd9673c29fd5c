package security

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agentplexus/voiceagent"
	"github.com/agentplexus/voiceagent/agent"
	"github.com/agentplexus/voiceagent/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUnlockWithCorrectCodeSwitches(t *testing.T) {
	g := New("7234", openTestStore(t))
	g.BeginCall("call-1", "+15551234567")

	result, err := g.Descriptor().Handle("call-1", "unlock", json.RawMessage(`{"code":"7234"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := voiceagent.SentinelSwitchPrefix + agent.MainAgentName
	if result != want {
		t.Fatalf("got %q, want %q", result, want)
	}
}

func TestUnlockEscalatesToBeepThenHangup(t *testing.T) {
	g := New("7234", openTestStore(t))
	g.BeginCall("call-1", "+15559999999")
	handle := g.Descriptor().Handle

	for i := 0; i < MaxUnlockAttempts-1; i++ {
		result, err := handle("call-1", "unlock", json.RawMessage(`{"code":"0000"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != voiceagent.SentinelBeep {
			t.Fatalf("attempt %d: got %q, want beep sentinel", i+1, result)
		}
	}

	result, err := handle("call-1", "unlock", json.RawMessage(`{"code":"0000"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != voiceagent.SentinelHangup {
		t.Fatalf("final attempt: got %q, want hangup sentinel", result)
	}
}

func TestUnlockThreeFailuresAutoBlacklists(t *testing.T) {
	st := openTestStore(t)
	g := New("7234", st)
	caller := "+15558887777"
	g.BeginCall("call-1", caller)
	handle := g.Descriptor().Handle

	for i := 0; i < MaxUnlockAttempts; i++ {
		handle("call-1", "unlock", json.RawMessage(`{"code":"9999"}`))
	}

	blocked, err := st.IsBlacklisted(context.Background(), caller)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !blocked {
		t.Fatalf("expected caller to be auto-blacklisted after %d failures", MaxUnlockAttempts)
	}
}

func TestCheckAccessBlacklistedRejects(t *testing.T) {
	st := openTestStore(t)
	g := New("7234", st)
	ctx := context.Background()
	st.AddBlacklist(ctx, "+1666", "manual")

	decision, err := g.CheckAccess(ctx, "+1666")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if !decision.Reject {
		t.Fatalf("expected blacklisted caller to be rejected")
	}
}

func TestCheckAccessTagsAutoVsManualBlacklist(t *testing.T) {
	st := openTestStore(t)
	g := New("7234", st)
	ctx := context.Background()

	st.AddBlacklist(ctx, "+1888", "manual entry from operator")
	decision, err := g.CheckAccess(ctx, "+1888")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if decision.Reason != "blacklist:manual" {
		t.Fatalf("expected blacklist:manual, got %q", decision.Reason)
	}

	caller := "+15558887778"
	g.BeginCall("call-2", caller)
	handle := g.Descriptor().Handle
	for i := 0; i < MaxUnlockAttempts; i++ {
		handle("call-2", "unlock", json.RawMessage(`{"code":"9999"}`))
	}
	decision, err = g.CheckAccess(ctx, caller)
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if decision.Reason != "blacklist:auto" {
		t.Fatalf("expected blacklist:auto, got %q", decision.Reason)
	}
}

func TestCheckAccessWhitelistedPreUnlocks(t *testing.T) {
	st := openTestStore(t)
	g := New("7234", st)
	ctx := context.Background()
	st.AddWhitelist(ctx, "+1777", "VIP")

	decision, err := g.CheckAccess(ctx, "+1777")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if decision.Reject || !decision.PreUnlocked {
		t.Fatalf("expected whitelisted caller to be pre-unlocked, got %+v", decision)
	}
}
