// Command voiceagentd is the process entrypoint for the voice-agent
// platform: it wires SIP/RTP telephony, the realtime AI bridge, the
// agent registry, the security gate, persistence, and the operator
// dashboard into one running daemon.
package main

import (
	"os"

	"github.com/agentplexus/voiceagent/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
