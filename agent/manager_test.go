package agent

import (
	"encoding/json"
	"testing"

	"github.com/agentplexus/voiceagent"
)

func testRegistry() (*Registry, *Descriptor, *Descriptor) {
	r := NewRegistry()

	gate := &Descriptor{
		Name: SecurityGateName,
		Handle: func(callID, tool string, args json.RawMessage) (string, error) {
			var body struct {
				Code string `json:"code"`
			}
			_ = json.Unmarshal(args, &body)
			if body.Code == "7234" {
				return voiceagent.SentinelSwitchPrefix + MainAgentName, nil
			}
			return "incorrect code", nil
		},
	}
	main := &Descriptor{
		Name:           MainAgentName,
		PreferredModel: "premium",
		Handle: func(callID, tool string, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	}
	r.Register(gate)
	r.Register(main)
	return r, gate, main
}

func TestExecuteToolBlockedBeforeUnlock(t *testing.T) {
	r, gate, main := testRegistry()
	_ = main
	m := NewManager(r, "call-1", gate)

	m.active = &Descriptor{Name: MainAgentName, Handle: func(string, string, json.RawMessage) (string, error) { return "ok", nil }}

	sig, err := m.ExecuteTool("do_something", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalBlocked {
		t.Fatalf("expected SignalBlocked before unlock, got %v", sig.Kind)
	}
}

func TestExecuteToolUnlocksOnCorrectCode(t *testing.T) {
	r, gate, main := testRegistry()
	m := NewManager(r, "call-1", gate)

	sig, err := m.ExecuteTool("unlock", json.RawMessage(`{"code":"7234"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalSwitch || sig.TargetAgent != MainAgentName {
		t.Fatalf("expected switch to main_agent, got %+v", sig)
	}
	if !m.Unlocked() {
		t.Fatalf("expected call_unlocked=true after gate switches to main_agent")
	}
	if m.Active() != main {
		t.Fatalf("expected active descriptor to be main_agent")
	}
}

func TestExecuteToolStaysLockedOnWrongCode(t *testing.T) {
	r, gate, _ := testRegistry()
	m := NewManager(r, "call-1", gate)

	sig, err := m.ExecuteTool("unlock", json.RawMessage(`{"code":"0000"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalNone {
		t.Fatalf("expected plain text result on wrong code, got %v", sig.Kind)
	}
	if m.Unlocked() {
		t.Fatalf("call must remain locked on a wrong code")
	}
}

func TestParseSignalVariants(t *testing.T) {
	cases := []struct {
		raw  string
		kind SignalKind
	}{
		{"__SWITCH__:main_agent", SignalSwitch},
		{"__BEEP__", SignalBeep},
		{"__HANGUP__", SignalHangup},
		{"__BLOCKED__", SignalBlocked},
		{"just some text", SignalNone},
	}
	for _, c := range cases {
		got := ParseSignal(c.raw)
		if got.Kind != c.kind {
			t.Fatalf("ParseSignal(%q).Kind = %v, want %v", c.raw, got.Kind, c.kind)
		}
	}
}

func TestActiveToolsIncludesBuiltins(t *testing.T) {
	r, gate, _ := testRegistry()
	m := NewManager(r, "call-1", gate)

	tools := m.ActiveTools()
	names := map[string]bool{}
	for _, t := range tools {
		names[t.Name] = true
	}
	if !names["hangup"] || !names["switch_model"] {
		t.Fatalf("expected builtin tools to be present, got %v", names)
	}
}

func TestExecuteToolHangupBuiltin(t *testing.T) {
	r, _, main := testRegistry()
	m := NewManager(r, "call-1", main)
	m.callUnlocked = true

	sig, err := m.ExecuteTool("hangup", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalHangup {
		t.Fatalf("expected SignalHangup, got %v", sig.Kind)
	}
}

func TestExecuteToolSwitchModelBuiltin(t *testing.T) {
	r, _, main := testRegistry()
	m := NewManager(r, "call-1", main)
	m.callUnlocked = true

	sig, err := m.ExecuteTool("switch_model", json.RawMessage(`{"model":"premium"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalSwitchModel || sig.TargetModel != "premium" {
		t.Fatalf("expected switch-model signal targeting premium, got %+v", sig)
	}
}

func TestExecuteToolSwitchModelRequiresModel(t *testing.T) {
	r, _, main := testRegistry()
	m := NewManager(r, "call-1", main)
	m.callUnlocked = true

	sig, err := m.ExecuteTool("switch_model", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalNone {
		t.Fatalf("expected an error text result, not a signal, got %v", sig.Kind)
	}
}

func TestExecuteToolBuiltinsRequireUnlock(t *testing.T) {
	r, gate, _ := testRegistry()
	m := NewManager(r, "call-1", gate)
	m.active = &Descriptor{Name: MainAgentName, Handle: func(string, string, json.RawMessage) (string, error) { return "ok", nil }}

	sig, err := m.ExecuteTool("hangup", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Kind != SignalBlocked {
		t.Fatalf("expected builtin tools to be blocked before unlock, got %v", sig.Kind)
	}
}

func TestRouteByIntent(t *testing.T) {
	r := NewRegistry()
	r.Register(&Descriptor{Name: "billing", Keywords: []string{"invoice", "refund"}})
	r.Register(&Descriptor{Name: "support", Keywords: []string{"broken", "error"}})

	got := r.RouteByIntent("I need a refund for a duplicate invoice charge")
	if got == nil || got.Name != "billing" {
		t.Fatalf("expected billing agent to win by keyword overlap, got %v", got)
	}

	if got := r.RouteByIntent("nothing relevant here"); got != nil {
		t.Fatalf("expected no match, got %v", got.Name)
	}
}
