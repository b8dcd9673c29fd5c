package agent

import (
	"encoding/json"
	"sync"

	"github.com/agentplexus/voiceagent/internal/errs"
)

// SecurityGateName is the well-known descriptor name of the security
// gate agent; it is exempt from the unlock check and is the only agent
// that can flip call_unlocked to true via a __SWITCH__ to MainAgentName.
const SecurityGateName = "security_gate"

// MainAgentName is the descriptor the security gate switches to on a
// correct unlock code.
const MainAgentName = "main_agent"

var hangupToolSchema = json.RawMessage(`{"type":"object","properties":{}}`)
var switchModelToolSchema = json.RawMessage(`{"type":"object","properties":{"model":{"type":"string"}},"required":["model"]}`)

// builtinTools are merged into every agent's advertised tool list,
// mirroring manager.py's global _AUFLEGEN_TOOL / _MODEL_WECHSELN_TOOL
// that every agent carries regardless of its own tool set.
var builtinTools = []ToolDef{
	{Name: "hangup", Description: "End the call immediately.", Schema: hangupToolSchema},
	{Name: "switch_model", Description: "Switch the realtime model for the rest of the call.", Schema: switchModelToolSchema},
}

// handleBuiltinTool dispatches the two global tools every agent carries
// (mirroring manager.py's _AUFLEGEN_TOOL / _MODEL_WECHSELN_TOOL handling,
// which lives in the manager rather than any one agent) before the active
// descriptor ever sees the call. Returns handled=false for anything else.
func handleBuiltinTool(toolName string, args json.RawMessage) (Signal, bool) {
	switch toolName {
	case "hangup":
		return Signal{Kind: SignalHangup}, true

	case "switch_model":
		var body struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(args, &body); err != nil || body.Model == "" {
			return Signal{Kind: SignalNone, Text: "Error: no model given."}, true
		}
		return Signal{Kind: SignalSwitchModel, TargetModel: body.Model}, true

	default:
		return Signal{}, false
	}
}

// Manager holds the single active agent for one call plus the unlock
// gate, and mediates every tool call through execute_tool's contract.
type Manager struct {
	registry *Registry
	callID   string

	mu           sync.Mutex
	active       *Descriptor
	callUnlocked bool
}

// NewManager creates a Manager for one call, starting on initial (the
// security gate, in normal operation) with call_unlocked = false.
func NewManager(registry *Registry, callID string, initial *Descriptor) *Manager {
	m := &Manager{registry: registry, callID: callID, active: initial}
	if initial != nil && initial.OnActivate != nil {
		initial.OnActivate(callID)
	}
	return m
}

// PreUnlock sets the active descriptor and call_unlocked=true directly,
// bypassing the gate. Used when the access store has already whitelisted
// the caller before the call reaches any agent.
func (m *Manager) PreUnlock(target *Descriptor) {
	m.mu.Lock()
	m.active = target
	m.callUnlocked = true
	m.mu.Unlock()

	if target != nil && target.OnActivate != nil {
		target.OnActivate(m.callID)
	}
}

// Active returns the currently active descriptor.
func (m *Manager) Active() *Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Unlocked reports whether the call has passed the security gate.
func (m *Manager) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callUnlocked
}

// ActiveTools returns the active agent's tools plus the global built-ins.
func (m *Manager) ActiveTools() []ToolDef {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return append([]ToolDef(nil), builtinTools...)
	}
	out := make([]ToolDef, 0, len(active.Tools)+len(builtinTools))
	out = append(out, active.Tools...)
	out = append(out, builtinTools...)
	return out
}

// ExecuteTool implements the execute_tool contract from spec §4.D: gate
// on call_unlocked unless the active agent is the security gate, dispatch
// to the handler, then parse the result into a Signal, applying its
// side effects (agent switch, and the unlock on a gate-to-main switch)
// before returning it to the caller. Every other signal, including a
// model switch, is only returned for the caller to act on.
func (m *Manager) ExecuteTool(toolName string, args json.RawMessage) (Signal, error) {
	m.mu.Lock()
	active := m.active
	unlocked := m.callUnlocked
	m.mu.Unlock()

	if active == nil {
		return Signal{}, errs.New(errs.KindInternalInvariant, "agent.ExecuteTool", errNoActiveAgent)
	}

	if !unlocked && active.Name != SecurityGateName {
		return Signal{Kind: SignalBlocked}, nil
	}

	if sig, handled := handleBuiltinTool(toolName, args); handled {
		return sig, nil
	}

	if active.Handle == nil {
		return Signal{}, errs.New(errs.KindInternalInvariant, "agent.ExecuteTool", errNoHandler)
	}

	raw, err := active.Handle(m.callID, toolName, args)
	if err != nil {
		return Signal{}, err
	}

	sig := ParseSignal(raw)

	if sig.Kind == SignalSwitch {
		if err := m.switchAgent(sig.TargetAgent, active); err != nil {
			return Signal{}, err
		}
	}

	return sig, nil
}

// SwitchTo moves the active descriptor directly, for switches that
// originate outside a tool call (e.g. a dashboard command) rather than
// from a __SWITCH__ sentinel.
func (m *Manager) SwitchTo(targetName string) error {
	m.mu.Lock()
	from := m.active
	m.mu.Unlock()
	return m.switchAgent(targetName, from)
}

// switchAgent moves the active descriptor, runs lifecycle hooks, and, if
// switching from the security gate to the main agent, flips
// call_unlocked to true.
func (m *Manager) switchAgent(targetName string, from *Descriptor) error {
	target := m.registry.Get(targetName)
	if target == nil {
		return errs.New(errs.KindProtocolViolation, "agent.switchAgent", errUnknownAgent(targetName))
	}

	if from != nil && from.OnDeactivate != nil {
		from.OnDeactivate(m.callID)
	}

	m.mu.Lock()
	m.active = target
	if from != nil && from.Name == SecurityGateName && target.Name == MainAgentName {
		m.callUnlocked = true
	}
	m.mu.Unlock()

	if target.OnActivate != nil {
		target.OnActivate(m.callID)
	}
	return nil
}
