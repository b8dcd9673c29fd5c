// Package agent implements the Agent Registry & Manager (spec component
// 4.D): an explicit table of tool-equipped agent descriptors, a per-call
// active-agent/unlock state machine, and the tagged-variant Signal type
// that the sentinel-string switching protocol (__SWITCH__/__BEEP__/
// __HANGUP__/__BLOCKED__) is parsed into immediately at the boundary
// rather than propagated as raw strings past this package.
//
// Grounded on core/app/agents/{base,registry,manager}.py, redesigned to
// swap directory-scan discovery for explicit registration (this system
// ships a fixed set of agents compiled into the binary, not plugins) and
// to parse sentinels into a typed Signal rather than passing strings
// around, per the platform's design notes.
package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentplexus/voiceagent"
)

// ToolDef is one JSON-schema-described function tool an agent exposes to
// the realtime AI session.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Handler executes one tool call for an agent and returns its raw result
// string, which may be a sentinel (see ParseSignal) or ordinary text
// meant for the AI.
type Handler func(callID, toolName string, args json.RawMessage) (string, error)

// Hook is a lifecycle callback invoked when an agent becomes active or
// stops being active for a call.
type Hook func(callID string)

// Descriptor is an immutable agent definition, registered once at
// process startup.
type Descriptor struct {
	Name           string
	DisplayName    string
	Description    string
	Instructions   string // system prompt sent to the realtime AI session while this agent is active
	Greeting       string // if set, spoken by forcing a response right after this agent becomes active
	Keywords       []string
	PreferredModel string // "" means no preference; otherwise e.g. "mini" or "premium"
	Tools          []ToolDef
	Handle         Handler
	OnActivate     Hook
	OnDeactivate   Hook
}

// Registry is the explicit, process-lifetime table of agent descriptors.
type Registry struct {
	mu   sync.RWMutex
	byName map[string]*Descriptor
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a descriptor. It panics on a duplicate name since agent
// registration happens once at startup from a fixed table, not at
// runtime from untrusted input.
func (r *Registry) Register(d *Descriptor) {
	if d.Name == "" {
		panic("agent: descriptor must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		panic(fmt.Sprintf("agent: duplicate registration for %q", d.Name))
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Get returns the descriptor for name, or nil if unknown.
func (r *Registry) Get(name string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// All returns descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// RouteByIntent picks the descriptor whose keywords best match text, by
// simple substring count. Returns nil if nothing scores above zero.
// Grounded on manager.py's route_by_intent keyword-overlap heuristic.
func (r *Registry) RouteByIntent(text string) *Descriptor {
	lower := strings.ToLower(text)

	type scored struct {
		d     *Descriptor
		score int
	}
	var candidates []scored

	for _, d := range r.All() {
		score := 0
		for _, kw := range d.Keywords {
			if kw == "" {
				continue
			}
			score += strings.Count(lower, strings.ToLower(kw))
		}
		if score > 0 {
			candidates = append(candidates, scored{d, score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates[0].d
}

// Signal is the tagged variant a raw tool result parses into. Exactly
// one of the fields relevant to Kind is populated.
type Signal struct {
	Kind        SignalKind
	TargetAgent string // SignalSwitch
	TargetModel string // SignalSwitchModel
	Text        string // SignalNone: ordinary text passed through to the AI
}

// SignalKind enumerates the outcomes execute_tool can signal to the
// supervisor.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalSwitch
	SignalBeep
	SignalHangup
	SignalBlocked
	SignalSwitchModel
)

// ParseSignal inspects a raw tool result and classifies it. This is the
// single place raw sentinel strings are ever interpreted; everywhere
// else in the codebase works with the typed Signal.
func ParseSignal(raw string) Signal {
	switch {
	case strings.HasPrefix(raw, voiceagent.SentinelSwitchPrefix):
		target := strings.TrimPrefix(raw, voiceagent.SentinelSwitchPrefix)
		return Signal{Kind: SignalSwitch, TargetAgent: target}
	case raw == voiceagent.SentinelBeep:
		return Signal{Kind: SignalBeep}
	case raw == voiceagent.SentinelHangup:
		return Signal{Kind: SignalHangup}
	case raw == voiceagent.SentinelBlocked:
		return Signal{Kind: SignalBlocked}
	default:
		return Signal{Kind: SignalNone, Text: raw}
	}
}
