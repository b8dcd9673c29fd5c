package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentplexus/voiceagent"
)

var listAgentsToolSchema = json.RawMessage(`{"type":"object","properties":{}}`)

const mainAgentInstructionsBase = `You are the central switchboard of this voice platform.

Style: professional, precise, brief. Never answer in more than one or two
sentences. Never repeat back what the caller said. Get to the point.

Greeting: "Hello, you've reached the switchboard."

Routing: as soon as you know which specialist the caller wants, say a short
handoff line and immediately call 'switch_agent' with that agent's name. If
the caller asks what you can do, call 'list_agents' and summarize the
options briefly.`

// NewMainAgentDescriptor builds the routing-hub agent every call lands on
// once unlocked: it has no domain tools of its own, only the ability to
// list and switch to the specialist agents the registry knows about.
// Grounded on agents/main_agent/agent.py's wechsel_zu_agent/zeige_optionen
// pair, generalized from a Python property-based agent class into a
// closure-built Descriptor.
func NewMainAgentDescriptor(registry *Registry) *Descriptor {
	switchSchema := func() json.RawMessage {
		names := specialistNames(registry)
		enum, _ := json.Marshal(names)
		return json.RawMessage(fmt.Sprintf(
			`{"type":"object","properties":{"agent_name":{"type":"string","enum":%s,"description":"Name of the target agent"}},"required":["agent_name"]}`,
			enum,
		))
	}

	handle := func(callID, toolName string, args json.RawMessage) (string, error) {
		switch toolName {
		case "switch_agent":
			var body struct {
				AgentName string `json:"agent_name"`
			}
			if err := json.Unmarshal(args, &body); err != nil || body.AgentName == "" {
				return "Error: no target agent given.", nil
			}
			if registry.Get(body.AgentName) == nil {
				return fmt.Sprintf("Unknown agent %q. Available: %s", body.AgentName, strings.Join(specialistNames(registry), ", ")), nil
			}
			return voiceagent.SentinelSwitchPrefix + body.AgentName, nil

		case "list_agents":
			return describeSpecialists(registry), nil

		default:
			return fmt.Sprintf("unknown function: %s", toolName), nil
		}
	}

	return &Descriptor{
		Name:        MainAgentName,
		DisplayName: "Switchboard",
		Description: "Greets the caller and routes to the right specialist.",
		Instructions: mainAgentInstructionsBase,
		Greeting:    "Welcome back.",
		Tools: []ToolDef{
			{Name: "switch_agent", Description: "Switch to the named specialist agent as soon as the caller's need is clear.", Schema: switchSchema()},
			{Name: "list_agents", Description: "List every specialist agent and what it does.", Schema: listAgentsToolSchema},
		},
		Handle: handle,
	}
}

func specialistNames(registry *Registry) []string {
	var names []string
	for _, d := range registry.All() {
		if d.Name == MainAgentName || d.Name == SecurityGateName {
			continue
		}
		names = append(names, d.Name)
	}
	return names
}

func describeSpecialists(registry *Registry) string {
	var lines []string
	for _, d := range registry.All() {
		if d.Name == MainAgentName || d.Name == SecurityGateName {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", d.DisplayName, d.Name, d.Description))
	}
	if len(lines) == 0 {
		return "No specialist agents are available right now."
	}
	return strings.Join(lines, "\n")
}
