// Package voiceagent is a telephony voice-agent platform core: it answers
// inbound SIP calls, bridges the call's audio in real time to a streaming
// speech-to-speech AI service, and steers the conversation through a set of
// swappable, tool-equipped agents behind a security gate.
//
// # Components
//
//   - audio: sample-rate/frame-size conversion between the telephony and AI legs.
//   - sip: SIP UAS + RTP media bridge (github.com/emiago/sipgo, github.com/pion/rtp).
//   - realtime: the persistent websocket session to the speech-to-speech AI.
//   - agent: the agent registry, per-call manager and sentinel protocol.
//   - security: the unlock gate and the blacklist/whitelist access store.
//   - supervisor: per-call lifecycle owner tying the above together.
//   - dashboard: websocket fan-out and REST surface for the operator console.
//
// # Quick Start
//
// The daemon is wired up in internal/cli/serve.go; in outline:
//
//	cfg, _ := config.Load()
//	st, _ := store.Open(cfg.DatabasePath)
//	registry := agent.NewRegistry()
//	gate := security.New(cfg.UnlockCode, st)
//	registry.Register(gate.Descriptor())
//	registry.Register(agent.NewMainAgentDescriptor(registry))
//	hub := dashboard.New(nil)
//	sup := supervisor.New(cfg, registry, gate, st, hub, nil)
//	adapter, _ := sip.New(sip.WithCredentials(cfg.SIPUser, cfg.SIPPassword, cfg.SIPServer, cfg.SIPPort))
//	adapter.OnIncoming(sup.Handler())
//	go adapter.ListenAndServe(ctx, fmt.Sprintf("0.0.0.0:%d", cfg.SIPPort))
//	sup.Run(ctx, adapter)
package voiceagent

import "time"

// Version is the module version.
const Version = "0.1.0"

// Sample rates used across the pipeline, in Hz.
const (
	RateSIP  = 48000 // bridge clock rate: the SIP/RTP adapter's internal mixing rate
	RateAIIn = 16000 // audio sent to the AI session
	RateOut  = 24000 // audio received from the AI session
	RateG711 = 8000  // G.711 payload clock rate
)

// FrameDuration is the fixed frame duration used throughout the pipeline.
const FrameDuration = 20 * time.Millisecond

// Sentinel return values a tool handler can produce; the agent manager
// consumes these and never forwards them to the AI (spec §9: parsed
// immediately into a tagged variant internally, see agent.Signal).
const (
	SentinelSwitchPrefix = "__SWITCH__:"
	SentinelBeep         = "__BEEP__"
	SentinelHangup       = "__HANGUP__"
	SentinelBlocked      = "__BLOCKED__"
)

// Frame is an immutable PCM buffer of signed 16-bit mono audio at a known
// sample rate. Frames produced by audio.Reframer (and so every frame
// exchanged with the SIP leg) hold 20ms: len(Samples) == Rate * 0.020.
// The realtime package also carries each AI audio delta in a Frame, and
// those hold however many samples the delta had.
type Frame struct {
	Samples []int16
	Rate    int
}

// Call is the sealed record of one accepted call.
type Call struct {
	ID         string
	CallerID   string
	StartedAt  time.Time
	EndedAt    time.Time
	DurationS  float64
	CostCents  float64
	Transcript []TranscriptLine
	Logs       string
}

// TranscriptLine is one turn of the call transcript.
type TranscriptLine struct {
	Role string // "user" | "assistant" | "system"
	Text string
}
