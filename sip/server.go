// Package sip implements the SIP/RTP telephony adapter (spec component
// 4.B): it registers with a SIP trunk, accepts inbound INVITEs behind NAT,
// negotiates a codec, and bridges a bidirectional 48 kHz PCM media stream.
// It is grounded on other_examples/livetok-ai-sip-proxy__sip.go, the
// pack's only real SIP UAS built on github.com/emiago/sipgo +
// github.com/pion/rtp + github.com/pion/sdp/v3 (see DESIGN.md).
package sip

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/stun"
	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent"
	"github.com/agentplexus/voiceagent/internal/errs"
)

// Decision is the caller-supplied answer to an incoming call, returned
// synchronously from Handler before any media flows.
type Decision struct {
	Accept     bool
	RejectCode int // used when Accept is false, e.g. 403, 488
}

// Handler decides whether to accept an incoming call.
type Handler func(callerID string) Decision

// Adapter is the SIP user agent and RTP media bridge.
type Adapter struct {
	log *logrus.Logger

	sipUser, sipPassword, sipServer, publicIP string
	sipPort                                   int
	stunServers                               []string
	mediaPortMin, mediaPortMax                int

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	mu       sync.RWMutex
	handler  Handler
	sessions map[string]*Session
	incoming chan *Session

	registered bool
	stopReg    chan struct{}
}

// Option configures the Adapter.
type Option func(*Adapter)

func WithPublicIP(ip string) Option        { return func(a *Adapter) { a.publicIP = ip } }
func WithSTUNServers(s []string) Option    { return func(a *Adapter) { a.stunServers = s } }
func WithMediaPortRange(lo, hi int) Option { return func(a *Adapter) { a.mediaPortMin, a.mediaPortMax = lo, hi } }
func WithLogger(l *logrus.Logger) Option   { return func(a *Adapter) { a.log = l } }
func WithCredentials(user, password, server string, port int) Option {
	return func(a *Adapter) {
		a.sipUser, a.sipPassword, a.sipServer, a.sipPort = user, password, server, port
	}
}

// New creates an Adapter. ListenAndServe must be called to bring it up;
// it also starts the periodic SIP registration.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		log:          logrus.StandardLogger(),
		mediaPortMin: 4000,
		mediaPortMax: 4100,
		sessions:     make(map[string]*Session),
		incoming:     make(chan *Session, 8),
		stopReg:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, errs.New(errs.KindInternalInvariant, "sip.New", fmt.Errorf("create user agent: %w", err))
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, errs.New(errs.KindInternalInvariant, "sip.New", fmt.Errorf("create server: %w", err))
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, errs.New(errs.KindInternalInvariant, "sip.New", fmt.Errorf("create client: %w", err))
	}

	a.ua = ua
	a.server = srv
	a.client = client
	return a, nil
}

// OnIncoming sets the decision callback invoked synchronously before media
// bridging begins for each new INVITE.
func (a *Adapter) OnIncoming(h Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Incoming returns the channel of accepted call sessions.
func (a *Adapter) Incoming() <-chan *Session {
	return a.incoming
}

// ListenAndServe starts the SIP server loop; it blocks until ctx is
// cancelled or an unrecoverable transport error occurs.
func (a *Adapter) ListenAndServe(ctx context.Context, addr string) error {
	a.probeSTUN(ctx)

	a.server.OnInvite(a.handleInvite)
	a.server.OnBye(a.handleBye)
	a.server.OnAck(a.handleAck)

	go a.registerLoop(ctx)

	if err := a.server.ListenAndServe(ctx, "udp", addr); err != nil {
		return errs.New(errs.KindNetworkTransient, "sip.ListenAndServe", err)
	}
	return nil
}

// Close tears down the user agent and all active sessions.
func (a *Adapter) Close() error {
	close(a.stopReg)

	a.mu.Lock()
	for _, s := range a.sessions {
		s.hangupLocal()
	}
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()

	if a.server != nil {
		a.server.Close()
	}
	if a.ua != nil {
		return a.ua.Close()
	}
	return nil
}

// registerLoop performs SIP REGISTER every 300s with exponential backoff
// (2s -> 60s cap) on failure, per spec §4.B. An authentication rejection
// (KindAuthPermanent) is not retried: the loop logs it and stops.
func (a *Adapter) registerLoop(ctx context.Context) {
	if a.sipServer == "" {
		// No upstream trunk configured (e.g. tests exercising the UAS in
		// isolation); registration is a no-op.
		return
	}

	backoff := 2 * time.Second
	const maxBackoff = 60 * time.Second
	const refreshInterval = 300 * time.Second

	for {
		if err := a.register(ctx); err != nil {
			if errs.Is(err, errs.KindAuthPermanent) {
				a.log.WithError(err).Error("sip register rejected credentials, not retrying")
				return
			}
			a.log.WithError(err).Warn("sip register failed, backing off")
			a.mu.Lock()
			a.registered = false
			a.mu.Unlock()

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-a.stopReg:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = 2 * time.Second
		a.mu.Lock()
		a.registered = true
		a.mu.Unlock()

		select {
		case <-time.After(refreshInterval):
		case <-ctx.Done():
			return
		case <-a.stopReg:
			return
		}
	}
}

// register sends one SIP REGISTER request against the configured trunk.
func (a *Adapter) register(ctx context.Context) error {
	recipient := &sip.Uri{User: a.sipUser, Host: a.sipServer, Port: a.sipPort}
	req := sip.NewRequest(sip.REGISTER, *recipient)
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", a.sipUser, a.publicIP)))
	req.AppendHeader(sip.NewHeader("Expires", "300"))

	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return errs.New(errs.KindNetworkTransient, "sip.register", err)
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res == nil {
			return errs.New(errs.KindNetworkTransient, "sip.register", fmt.Errorf("no response"))
		}
		if res.StatusCode == 401 || res.StatusCode == 407 {
			return errs.New(errs.KindAuthPermanent, "sip.register", fmt.Errorf("authentication rejected: %d", res.StatusCode))
		}
		if res.StatusCode >= 300 {
			return errs.New(errs.KindNetworkTransient, "sip.register", fmt.Errorf("unexpected status: %d", res.StatusCode))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errs.New(errs.KindNetworkTransient, "sip.register", fmt.Errorf("timeout"))
	}
}

// probeSTUN discovers this host's public address for the Contact/SDP path
// when no static public IP was configured. It walks the configured STUN
// servers in order, falling back to the next on failure, and logs each
// attempt (spec §4.B: "a STUN list is probed with fallback ordering").
func (a *Adapter) probeSTUN(ctx context.Context) {
	if a.publicIP != "" || len(a.stunServers) == 0 {
		return
	}

	for _, server := range a.stunServers {
		addr, err := stunBindingRequest(ctx, server)
		if err != nil {
			a.log.WithError(err).WithField("stun_server", server).Warn("stun probe failed, trying next server")
			continue
		}
		a.log.WithField("stun_server", server).WithField("public_addr", addr).Info("stun probe succeeded")
		a.publicIP = addr
		return
	}
	a.log.Warn("all configured stun servers failed, no public address discovered")
}

// stunBindingRequest sends a single STUN binding request over UDP and
// returns the XOR-mapped public IP from the response.
func stunBindingRequest(ctx context.Context, server string) (string, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := stun.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("stun client: %w", err)
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var xorAddr stun.XORMappedAddress
	var respErr error
	if err := client.Do(msg, func(res stun.Event) {
		if res.Error != nil {
			respErr = res.Error
			return
		}
		respErr = xorAddr.GetFrom(res.Message)
	}); err != nil {
		return "", err
	}
	if respErr != nil {
		return "", respErr
	}
	return xorAddr.IP.String(), nil
}

// IsRegistered reports the last known registration state.
func (a *Adapter) IsRegistered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registered
}

// handleInvite processes an incoming INVITE: extract the caller ID, ask
// the handler for a decision, negotiate a codec, open an RTP port, and
// answer with 200 OK plus the SDP.
func (a *Adapter) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)); err != nil {
		a.log.WithError(err).Error("failed to send 100 Trying")
	}

	callID := req.CallID().Value()
	callerID := ParseCallerID(req.From().Address.String())

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()

	decision := Decision{Accept: true}
	if handler != nil {
		decision = handler(callerID)
	}
	if !decision.Accept {
		code := decision.RejectCode
		if code == 0 {
			code = 403
		}
		resp := sip.NewResponseFromRequest(req, sip.StatusCode(code), "Rejected", nil)
		_ = tx.Respond(resp)
		return
	}

	codec, err := negotiateCodec(req.Body())
	if err != nil {
		a.log.WithError(err).Warn("codec negotiation failed")
		resp := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		_ = tx.Respond(resp)
		return
	}

	sess, err := a.newSession(callID, callerID, codec)
	if err != nil {
		a.log.WithError(err).Error("failed to start media session")
		resp := sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil)
		_ = tx.Respond(resp)
		return
	}

	sdpAnswer, err := buildAnswer(a.publicIP, sess.rtpPort, codec)
	if err != nil {
		a.log.WithError(err).Error("failed to build SDP answer")
		sess.hangupLocal()
		resp := sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil)
		_ = tx.Respond(resp)
		return
	}

	a.mu.Lock()
	a.sessions[callID] = sess
	a.mu.Unlock()

	localTag := newTag()
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", sdpAnswer)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if contact := req.Contact(); contact != nil {
		resp.AppendHeader(contact)
	}
	if to := resp.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", localTag)
	}
	if err := tx.Respond(resp); err != nil {
		a.log.WithError(err).Error("failed to send 200 OK")
		sess.hangupLocal()
		return
	}

	// Retained so Hangup can send an outbound BYE in this dialog later.
	sess.inviteReq = req
	sess.localTag = localTag
	sess.client = a.client
	sess.log = a.log

	go sess.rtpSendLoop()
	go sess.rtpReceiveLoop(a.log)

	select {
	case a.incoming <- sess:
	default:
		a.log.Warn("incoming session channel full, dropping session notification")
	}
}

func (a *Adapter) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	a.mu.Lock()
	if sess, ok := a.sessions[callID]; ok {
		sess.suppressOutboundBye() // peer already sent BYE, don't echo one back
		sess.hangupLocal()
		delete(a.sessions, callID)
	}
	a.mu.Unlock()

	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
}

func (a *Adapter) handleAck(req *sip.Request, _ sip.ServerTransaction) {
	callID := req.CallID().Value()
	a.mu.RLock()
	sess, ok := a.sessions[callID]
	a.mu.RUnlock()
	if ok {
		sess.touch()
	}
}

// newSession allocates an RTP port within the configured range and
// constructs a Session.
func (a *Adapter) newSession(callID, callerID string, codec negotiatedCodec) (*Session, error) {
	conn, port, err := allocateRTPPort(a.mediaPortMin, a.mediaPortMax)
	if err != nil {
		return nil, errs.New(errs.KindNetworkTransient, "sip.newSession", err)
	}

	return &Session{
		callID:       callID,
		callerID:     callerID,
		rtpConn:      conn,
		rtpPort:      port,
		codec:        codec,
		rx:           make(chan voiceagent.Frame, 50),  // spec §5: RX-16k-equivalent bound at telephony rate
		tx:           make(chan voiceagent.Frame, 500), // spec §5: TX-48k bound at 500 frames = 10s
		stopSend:     make(chan struct{}),
		stopReceive:  make(chan struct{}),
		lastActivity: time.Now(),
		rtpSequence:  uint16(rand.Intn(65536)),
		rtpTimestamp: uint32(rand.Intn(1_000_000_000)),
		rtpSSRC:      rand.Uint32(),
	}, nil
}

// newTag generates a local dialog tag for the To header of an outgoing
// 200 OK, retained so a later self-initiated BYE carries it back.
func newTag() string {
	return fmt.Sprintf("%x", rand.Uint64())
}

func allocateRTPPort(lo, hi int) (*net.UDPConn, int, error) {
	for port := lo; port <= hi; port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free RTP port in range %d-%d", lo, hi)
}

// rtpHeaderPayloadType maps a negotiated codec name to its RTP payload type.
func rtpHeaderPayloadType(codec string) uint8 {
	if codec == codecPCMA {
		return payloadTypePCMA
	}
	return payloadTypePCMU
}
