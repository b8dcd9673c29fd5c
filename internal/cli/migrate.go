package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentplexus/voiceagent/internal/config"
	"github.com/agentplexus/voiceagent/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQLite schema at the configured database path",
		Run:   runMigrate,
	}
	RootCmd.AddCommand(cmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	fmt.Printf("schema up to date at %s\n", cfg.DatabasePath)
}
