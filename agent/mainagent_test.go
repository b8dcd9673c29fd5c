package agent

import (
	"encoding/json"
	"testing"
)

func TestMainAgentSwitchesToKnownSpecialist(t *testing.T) {
	r := NewRegistry()
	r.Register(&Descriptor{Name: "billing", DisplayName: "Billing", Description: "handles invoices"})
	main := NewMainAgentDescriptor(r)
	r.Register(main)

	raw, err := main.Handle("call-1", "switch_agent", json.RawMessage(`{"agent_name":"billing"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := ParseSignal(raw)
	if sig.Kind != SignalSwitch || sig.TargetAgent != "billing" {
		t.Fatalf("expected switch to billing, got %+v", sig)
	}
}

func TestMainAgentRejectsUnknownSpecialist(t *testing.T) {
	r := NewRegistry()
	main := NewMainAgentDescriptor(r)
	r.Register(main)

	raw, err := main.Handle("call-1", "switch_agent", json.RawMessage(`{"agent_name":"nope"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ParseSignal(raw).Kind != SignalNone {
		t.Fatalf("expected a plain text rejection, got a parsed sentinel")
	}
}

func TestMainAgentListsSpecialists(t *testing.T) {
	r := NewRegistry()
	r.Register(&Descriptor{Name: "billing", DisplayName: "Billing", Description: "handles invoices"})
	main := NewMainAgentDescriptor(r)
	r.Register(main)

	raw, err := main.Handle("call-1", "list_agents", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected a non-empty listing")
	}
}
