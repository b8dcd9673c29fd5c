// Package cli implements the voiceagentd command-line surface.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentplexus/voiceagent/internal/config"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "voiceagentd",
	Short: "Telephony voice-agent platform daemon",
	Long:  "Answers inbound SIP calls, bridges audio to a realtime speech-to-speech AI, and steers the conversation through swappable agents behind a security gate.",
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
