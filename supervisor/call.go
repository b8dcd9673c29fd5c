// Package supervisor implements the Call Supervisor (spec component
// 4.F): the per-call lifecycle that wires the SIP/RTP adapter, the
// realtime AI session, and the agent manager together, owns every
// goroutine for the call's duration, and guarantees deterministic
// teardown. Grounded on the teacher's callsystem.Call lifecycle
// (Answer/Hangup/AttachAgent/DetachAgent) generalized from a single
// Twilio REST call object into the full audio-bridging pipeline this
// platform needs.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent"
	"github.com/agentplexus/voiceagent/agent"
	"github.com/agentplexus/voiceagent/audio"
	"github.com/agentplexus/voiceagent/dashboard"
	"github.com/agentplexus/voiceagent/internal/config"
	"github.com/agentplexus/voiceagent/realtime"
	"github.com/agentplexus/voiceagent/security"
	"github.com/agentplexus/voiceagent/sip"
)

// call is one active telephony call: its media session, AI session,
// agent manager, and all bookkeeping needed to seal a voiceagent.Call
// record at teardown.
type call struct {
	sup     *Supervisor
	session *sip.Session
	log     *logrus.Entry
	hook    *callLogHook
	ctx     context.Context

	mgr   *agent.Manager
	ai    *realtime.Session
	model string // active model name currently configured on ai

	mu                      sync.Mutex
	muted                   bool
	unmuteAfterNextResponse bool
	transcript              []voiceagent.TranscriptLine
	costCents               float64
	lastInputTokens         int64
	lastOutputTokens        int64
	startedAt               time.Time
	endReason               string      // first reason recorded; "normal" if never set
	gateTimer               *time.Timer // armed while the call sits behind the security gate

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// run drives one call end to end: connects to the AI, starts the uplink
// and supervisor loops, and blocks until the call ends.
func (c *call) run(ctx context.Context) {
	c.startedAt = time.Now()
	c.ctx = ctx
	callID, callerID := c.session.CallID(), c.session.CallerID()

	registerCallHook(c.sup.log, c.hook)
	defer deregisterCallHook(c.sup.log, c.hook)

	c.sup.securityGate.BeginCall(callID, callerID)
	defer c.sup.securityGate.EndCall(callID)

	decision, err := c.sup.securityGate.CheckAccess(ctx, callerID)
	if err != nil {
		c.log.WithError(err).Warn("access check failed, defaulting to locked")
	}
	initial := c.sup.securityGate.Descriptor()
	c.mgr = agent.NewManager(c.sup.registry, callID, initial)
	if decision.PreUnlocked {
		if main := c.sup.registry.Get(agent.MainAgentName); main != nil {
			c.mgr.PreUnlock(main)
		}
	} else {
		c.armGateTimeout()
	}

	active := c.mgr.Active()
	instructions := active.Instructions
	if active.Name == agent.SecurityGateName {
		instructions = c.sup.securityGate.Instructions()
	}

	ai, err := realtime.Connect(ctx, realtime.Config{
		Endpoint:     c.sup.cfg.RealtimeURL,
		APIKey:       c.sup.cfg.OpenAIAPIKey,
		Model:        c.sup.cfg.DefaultModel,
		Voice:        "alloy",
		Instructions: instructions,
		Tools:        toolSpecs(c.mgr.ActiveTools()),
		Logger:       c.sup.log,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to connect realtime AI session")
		c.session.Hangup()
		return
	}
	c.ai = ai
	c.model = c.sup.cfg.DefaultModel

	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventCallActive, Payload: map[string]string{
		"caller_id": callerID,
		"agent":     active.Name,
	}})

	c.wg.Add(2)
	go c.uplinkLoop(ctx)
	go c.supervisorLoop(ctx)
	c.wg.Wait()

	c.seal(callID, callerID)
}

// uplinkLoop drains the SIP RX queue, resampling 48kHz frames to the
// AI's 16kHz input rate before appending them to the input buffer.
func (c *call) uplinkLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case frame, ok := <-c.session.RX():
			if !ok {
				c.initiateStop()
				return
			}
			down := audio.Resample(frame.Samples, frame.Rate, voiceagent.RateAIIn)
			if err := c.ai.SendAudio(voiceagent.Frame{Samples: down, Rate: voiceagent.RateAIIn}); err != nil {
				c.log.WithError(err).Debug("failed to send audio uplink")
			}
		}
	}
}

// supervisorLoop is the per-call state machine: it reacts to AI
// downlink events, translates agent-manager signals into media/session
// actions, and answers dashboard commands.
func (c *call) supervisorLoop(ctx context.Context) {
	defer c.wg.Done()
	reframer := audio.NewReframer(voiceagent.RateSIP)

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case evt, ok := <-c.ai.Events():
			if !ok {
				c.initiateStop()
				return
			}
			c.handleAIEvent(ctx, evt, reframer)
		}
	}
}

func (c *call) handleAIEvent(ctx context.Context, evt realtime.Event, reframer *audio.Reframer) {
	switch evt.Kind {
	case realtime.EventAudioDelta:
		c.mu.Lock()
		muted := c.muted
		c.mu.Unlock()
		if muted {
			return
		}
		up := audio.Resample(evt.Audio.Samples, evt.Audio.Rate, voiceagent.RateSIP)
		for _, frame := range reframer.Push(up) {
			c.session.PushTX(frame)
		}

	case realtime.EventTranscriptDelta:
		c.mu.Lock()
		c.transcript = append(c.transcript, voiceagent.TranscriptLine{Role: evt.Role, Text: evt.Text})
		c.mu.Unlock()
		c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventTranscript, Payload: map[string]any{
			"role": evt.Role, "text": evt.Text, "is_final": true,
		}})

	case realtime.EventSpeechStarted:
		// Caller barge-in: stop playing whatever the AI already queued.
		c.session.DrainTX()
		if !c.mgr.Unlocked() {
			c.armGateTimeout()
		}
		c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventAIState, Payload: map[string]string{"state": "user_speaking"}})

	case realtime.EventResponseDone:
		c.mu.Lock()
		if c.unmuteAfterNextResponse {
			c.muted = false
			c.unmuteAfterNextResponse = false
		}
		c.mu.Unlock()
		c.accrueCost()
		c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventAIState, Payload: map[string]string{"state": "idle"}})

	case realtime.EventFunctionCall:
		c.handleFunctionCall(ctx, evt)

	case realtime.EventError:
		c.log.WithError(evt.Err).Warn("realtime AI session error")
	}
}

func (c *call) handleFunctionCall(ctx context.Context, evt realtime.Event) {
	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventFunctionCall, Payload: map[string]string{
		"name": evt.ToolName, "args": evt.Arguments,
	}})

	sig, err := c.mgr.ExecuteTool(evt.ToolName, []byte(evt.Arguments))
	if err != nil {
		c.log.WithError(err).Warn("tool execution failed")
		_ = c.ai.SendFunctionResult(evt.CallID, "Error: tool execution failed.")
		return
	}

	switch sig.Kind {
	case agent.SignalBlocked:
		_ = c.ai.SendFunctionResult(evt.CallID, "Access denied. Please provide the unlock code first.")

	case agent.SignalSwitch:
		c.disarmGateTimeout()
		if err := c.ai.SendFunctionResult(evt.CallID, "Access granted."); err != nil {
			c.log.WithError(err).Warn("failed to acknowledge switch to AI")
		}
		c.reconfigureForActiveAgent()

	case agent.SignalSwitchModel:
		newModel := modelIDFor(c.sup.cfg, sig.TargetModel)
		if err := c.ai.SwitchModel(ctx, newModel); err != nil {
			c.log.WithError(err).Warn("failed to switch model via tool call")
			_ = c.ai.SendFunctionResult(evt.CallID, "Error: could not switch model.")
			return
		}
		c.model = newModel
		c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventModelChanged, Payload: map[string]string{"model": newModel}})
		if err := c.ai.SendFunctionResult(evt.CallID, "Model switched."); err != nil {
			c.log.WithError(err).Warn("failed to acknowledge model switch to AI")
		}

	case agent.SignalBeep:
		c.mu.Lock()
		c.muted = true
		c.unmuteAfterNextResponse = true
		c.mu.Unlock()
		c.queueBeep()
		_ = c.ai.SendFunctionResult(evt.CallID, "The code was incorrect.")

	case agent.SignalHangup:
		if evt.ToolName == "unlock" {
			c.log.Warn("security gate exhausted unlock attempts, hanging up")
			c.setEndReason("security_failed")
		} else {
			c.log.Info("hangup requested by the AI, hanging up")
		}
		c.initiateStop()

	default:
		if err := c.ai.SendFunctionResult(evt.CallID, sig.Text); err != nil {
			c.log.WithError(err).Warn("failed to send tool result to AI")
		}
	}

	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventFunctionResult, Payload: map[string]any{
		"name": evt.ToolName, "result": sig.Text,
	}})
}

// accrueCost adds the token-usage delta since the last response.done to
// the call's running cost, priced by the currently configured model.
func (c *call) accrueCost() {
	input, output := c.ai.Usage()
	price := c.sup.cfg.PriceFor(c.model)

	c.mu.Lock()
	deltaIn := input - c.lastInputTokens
	deltaOut := output - c.lastOutputTokens
	c.lastInputTokens = input
	c.lastOutputTokens = output
	c.costCents += float64(deltaIn)/1000*price.InputCentsPer1K + float64(deltaOut)/1000*price.OutputCentsPer1K
	cost := c.costCents
	c.mu.Unlock()

	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventCallCost, Payload: map[string]float64{"cost_cents": cost}})
}

// reconfigureForActiveAgent re-sends the session configuration for the
// now-active agent and hot-swaps the model if its preference changed,
// per the __SWITCH__ effect table in spec §4.D.
func (c *call) reconfigureForActiveAgent() {
	active := c.mgr.Active()
	if active == nil {
		return
	}

	if err := c.ai.Reconfigure(active.Instructions, toolSpecs(c.mgr.ActiveTools())); err != nil {
		c.log.WithError(err).Warn("failed to reconfigure AI session after agent switch")
	}

	newModel := modelIDFor(c.sup.cfg, active.PreferredModel)
	if newModel != c.model {
		if err := c.ai.SwitchModel(c.ctx, newModel); err != nil {
			c.log.WithError(err).Warn("failed to hot-swap model")
			return
		}
		c.model = newModel
		c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventModelChanged, Payload: map[string]string{"model": newModel}})
	}

	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventAgentChanged, Payload: map[string]string{"new_agent": active.Name}})

	if active.Greeting != "" {
		if err := c.ai.Greet(active.Greeting); err != nil {
			c.log.WithError(err).Warn("failed to send post-switch greeting")
		}
	}
}

// queueBeep drops the cached beep tone directly onto the TX stream,
// bypassing the AI entirely.
func (c *call) queueBeep() {
	tone := audio.Beep(voiceagent.RateSIP)
	reframer := audio.NewReframer(voiceagent.RateSIP)
	for _, frame := range reframer.Push(tone) {
		c.session.PushTX(frame)
	}
}

func (c *call) initiateStop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.gateTimer != nil {
			c.gateTimer.Stop()
		}
		c.mu.Unlock()
	})
}

// setEndReason records the reason seal() should report for this call's
// call_ended event. The first reason recorded wins.
func (c *call) setEndReason(reason string) {
	c.mu.Lock()
	if c.endReason == "" {
		c.endReason = reason
	}
	c.mu.Unlock()
}

// armGateTimeout (re)starts the security-gate inactivity timer: if no
// caller speech resets it within security.GateTimeout, the call is hung
// up with reason gate_timeout, per spec §4.E.
func (c *call) armGateTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gateTimer != nil {
		c.gateTimer.Stop()
	}
	c.gateTimer = time.AfterFunc(security.GateTimeout, c.onGateTimeout)
}

// disarmGateTimeout stops the inactivity timer for good, once the call
// has passed the security gate.
func (c *call) disarmGateTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gateTimer != nil {
		c.gateTimer.Stop()
		c.gateTimer = nil
	}
}

func (c *call) onGateTimeout() {
	c.log.Warn("no caller speech within the security gate timeout, hanging up")
	c.setEndReason("gate_timeout")
	c.initiateStop()
}

// handleCommand answers one dashboard command for this call.
func (c *call) handleCommand(cmd dashboard.Command) {
	switch cmd.Type {
	case "hangup":
		c.initiateStop()
		c.session.Hangup()
	case "mute_ai":
		c.mu.Lock()
		c.muted = true
		c.mu.Unlock()
	case "unmute_ai":
		c.mu.Lock()
		c.muted = false
		c.unmuteAfterNextResponse = false
		c.mu.Unlock()
	case "switch_agent":
		if cmd.AgentName == "" || cmd.AgentName == agent.SecurityGateName {
			c.log.Warn("dashboard switch_agent rejected: no target given or target is the security gate")
			return
		}
		if err := c.mgr.SwitchTo(cmd.AgentName); err != nil {
			c.log.WithError(err).Warn("dashboard switch_agent failed")
			return
		}
		c.reconfigureForActiveAgent()
	}
}

// seal finalizes the call record and persists it.
func (c *call) seal(callID, callerID string) {
	c.session.Hangup()
	if c.ai != nil {
		_ = c.ai.Close()
	}

	c.mu.Lock()
	transcript := append([]voiceagent.TranscriptLine(nil), c.transcript...)
	cost := c.costCents
	reason := c.endReason
	c.mu.Unlock()
	if reason == "" {
		reason = "normal"
	}

	ended := time.Now()
	record := voiceagent.Call{
		ID:         callID,
		CallerID:   callerID,
		StartedAt:  c.startedAt,
		EndedAt:    ended,
		DurationS:  ended.Sub(c.startedAt).Seconds(),
		CostCents:  cost,
		Transcript: transcript,
		Logs:       c.hook.String(),
	}

	if c.sup.store != nil {
		if _, err := c.sup.store.PutCall(context.Background(), record); err != nil {
			c.log.WithError(err).Error("failed to persist call record")
		}
	}

	c.sup.hub.Broadcast(dashboard.Event{Type: dashboard.EventCallEnded, Payload: map[string]string{"reason": reason}})
}

func toolSpecs(defs []agent.ToolDef) []realtime.ToolSpec {
	out := make([]realtime.ToolSpec, 0, len(defs))
	for _, d := range defs {
		out = append(out, realtime.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return out
}

func modelIDFor(cfg *config.Config, preferred string) string {
	switch preferred {
	case "premium":
		return cfg.PremiumModel
	default:
		return cfg.DefaultModel
	}
}
