package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentplexus/voiceagent"
)

func init() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(voiceagent.Version)
		},
	}
	RootCmd.AddCommand(cmd)
}
