package supervisor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent/agent"
	"github.com/agentplexus/voiceagent/dashboard"
	"github.com/agentplexus/voiceagent/internal/config"
	"github.com/agentplexus/voiceagent/security"
	"github.com/agentplexus/voiceagent/sip"
	"github.com/agentplexus/voiceagent/store"
)

// Supervisor owns the process-lifetime collaborators shared by every
// call: the agent registry, the security gate, the persistent store,
// and the dashboard hub. Exactly one call runs at a time (spec's
// single-node-per-call non-goal).
type Supervisor struct {
	cfg          *config.Config
	registry     *agent.Registry
	securityGate *security.Gate
	store        *store.Store
	hub          *dashboard.Hub
	log          *logrus.Logger

	mu      sync.Mutex
	current *call
}

// New creates a Supervisor.
func New(cfg *config.Config, registry *agent.Registry, gate *security.Gate, st *store.Store, hub *dashboard.Hub, log *logrus.Logger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Supervisor{cfg: cfg, registry: registry, securityGate: gate, store: st, hub: hub, log: log}
	hub.OnCommand(s.dispatchCommand)
	return s
}

// Handler returns the sip.Handler that decides whether to accept an
// inbound INVITE, consulting the access store's blacklist before any
// media is bridged (spec §4.E).
func (s *Supervisor) Handler() sip.Handler {
	return func(callerID string) sip.Decision {
		s.mu.Lock()
		busy := s.current != nil
		s.mu.Unlock()
		if busy {
			// This node handles exactly one active call at a time; a second
			// inbound INVITE while busy is rejected rather than queued.
			return sip.Decision{Accept: false, RejectCode: 486}
		}

		decision, err := s.securityGate.CheckAccess(context.Background(), callerID)
		if err != nil {
			s.log.WithError(err).Warn("access check failed, accepting the call by default")
			return sip.Decision{Accept: true}
		}
		if decision.Reject {
			s.hub.Broadcast(dashboard.Event{Type: dashboard.EventCallRejected, Payload: map[string]string{
				"caller_id": callerID, "reason": decision.Reason,
			}})
			return sip.Decision{Accept: false, RejectCode: 403}
		}
		s.hub.Broadcast(dashboard.Event{Type: dashboard.EventCallIncoming, Payload: map[string]string{"caller_id": callerID}})
		return sip.Decision{Accept: true}
	}
}

// Run consumes accepted sessions from adapter and drives each to
// completion. It blocks until ctx is cancelled or adapter's incoming
// channel closes.
func (s *Supervisor) Run(ctx context.Context, adapter *sip.Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-adapter.Incoming():
			if !ok {
				return
			}
			s.handle(ctx, sess)
		}
	}
}

// handle runs one call to completion before returning, enforcing the
// one-active-call-per-node constraint.
func (s *Supervisor) handle(ctx context.Context, sess *sip.Session) {
	c := &call{
		sup:     s,
		session: sess,
		log:     s.log.WithField("call_id", sess.CallID()),
		hook:    newCallLogHook(sess.CallID(), s.log.Formatter),
		stop:    make(chan struct{}),
	}

	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	c.run(ctx)

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// dispatchCommand routes one dashboard command to the active call, if any.
func (s *Supervisor) dispatchCommand(cmd dashboard.Command) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		s.log.Debug("dashboard command received with no active call")
		return
	}
	c.handleCommand(cmd)
}
