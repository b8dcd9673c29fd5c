package agent

import "fmt"

var (
	errNoActiveAgent = fmt.Errorf("no active agent for this call")
	errNoHandler     = fmt.Errorf("active agent has no tool handler")
)

func errUnknownAgent(name string) error {
	return fmt.Errorf("unknown agent %q", name)
}
