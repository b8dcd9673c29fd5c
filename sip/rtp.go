package sip

import (
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/agentplexus/voiceagent"
	"github.com/agentplexus/voiceagent/audio"
)

// Session is one call's RTP media bridge: it decodes inbound G.711 packets
// into 48kHz PCM frames on rx, and paces outbound frames from tx into RTP
// packets at wall-clock real time. Grounded on the Session/listenRTP/
// rtpPacketSender trio in livetok-ai-sip-proxy__sip.go.
type Session struct {
	callID   string
	callerID string

	rtpConn *net.UDPConn
	rtpPort int
	peer    atomic.Value // *net.UDPAddr, learned from the first inbound packet

	codec negotiatedCodec

	rx chan voiceagent.Frame // decoded 48kHz PCM frames, telephony -> AI
	tx chan voiceagent.Frame // 48kHz PCM frames to encode and send, AI -> telephony

	rtpSequence  uint16
	rtpTimestamp uint32
	rtpSSRC      uint32

	mu           sync.Mutex
	lastActivity time.Time
	tx50Warned   bool

	stopSend    chan struct{}
	stopReceive chan struct{}
	closeOnce   sync.Once

	log *logrus.Logger

	// Dialog state retained solely so Hangup can send an outbound BYE in
	// the dialog this call was established with. Grounded on
	// SoulMyStage-SoulNexus__sip_server.go's InviteReq/LastResponse
	// fields and its sendByeRequest method.
	client    *sipgo.Client
	inviteReq *sip.Request
	localTag  string
	byeOnce   sync.Once
}

// CallID returns the SIP Call-ID of this session.
func (s *Session) CallID() string { return s.callID }

// CallerID returns the parsed caller identity from the INVITE's From header.
func (s *Session) CallerID() string { return s.callerID }

// RX is the channel of decoded inbound audio frames (telephony -> AI).
func (s *Session) RX() <-chan voiceagent.Frame { return s.rx }

// TX is the channel accepting outbound audio frames (AI -> telephony).
func (s *Session) TX() chan<- voiceagent.Frame { return s.tx }

// DrainTX empties the outbound audio queue without blocking. Used on
// caller barge-in so audio already queued for playout doesn't keep going
// out over the caller. Grounded on the original's on_interruption()
// calling sip_client.clear_audio_queue().
func (s *Session) DrainTX() {
	for {
		select {
		case <-s.tx:
		default:
			return
		}
	}
}

// PushTX enqueues frame for outbound playout. When the queue is full it
// drops the oldest queued frame, never the one being pushed, and logs a
// warning the first time occupancy crosses 50% of capacity (spec §5's
// TX-48k overflow discipline).
func (s *Session) PushTX(frame voiceagent.Frame) {
	select {
	case s.tx <- frame:
	default:
		select {
		case <-s.tx:
		default:
		}
		select {
		case s.tx <- frame:
		default:
		}
	}

	n := len(s.tx)
	half := cap(s.tx) / 2
	s.mu.Lock()
	warn := n >= half && !s.tx50Warned
	if warn {
		s.tx50Warned = true
	} else if n < half {
		s.tx50Warned = false
	}
	s.mu.Unlock()

	if warn && s.log != nil {
		s.log.WithField("tx_depth", n).WithField("tx_capacity", cap(s.tx)).Warn("outbound audio queue past 50% full")
	}
}

// touch records that a packet was seen for this call recently.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last observed packet.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// hangupLocal tears down the media loops and socket without sending a BYE
// (used when this side initiates or reacts to teardown).
func (s *Session) hangupLocal() {
	s.closeOnce.Do(func() {
		close(s.stopSend)
		close(s.stopReceive)
		time.Sleep(200 * time.Millisecond) // spec §5: drain window before close
		_ = s.rtpConn.Close()
		close(s.rx)
	})
}

// Hangup is the public teardown entry point used by the call supervisor:
// it sends an outbound BYE in the dialog (unless the peer already ended
// it with one of their own) and then tears down local media.
func (s *Session) Hangup() {
	s.sendBye()
	s.hangupLocal()
}

// suppressOutboundBye marks the dialog as already torn down by an inbound
// BYE so a later Hangup call does not also fire an outbound one.
func (s *Session) suppressOutboundBye() {
	s.byeOnce.Do(func() {})
}

// sendBye transmits a BYE for this dialog, once, mirroring
// SoulMyStage-SoulNexus__sip_server.go's sendByeRequest but from the UAS
// side of the dialog we hold here.
func (s *Session) sendBye() {
	s.byeOnce.Do(func() {
		if s.client == nil || s.inviteReq == nil {
			return
		}
		if err := s.client.WriteRequest(s.buildByeRequest()); err != nil {
			if s.log != nil {
				s.log.WithError(err).WithField("call_id", s.callID).Warn("failed to send outbound BYE")
			}
			return
		}
		if s.log != nil {
			s.log.WithField("call_id", s.callID).Info("BYE sent")
		}
	})
}

// buildByeRequest constructs the in-dialog BYE. The local party (us, the
// original 200 OK's To) becomes From; the remote party (the INVITE's
// From, tag and all) becomes To.
func (s *Session) buildByeRequest() *sip.Request {
	inv := s.inviteReq

	targetURI := inv.From().Address
	if contact := inv.Contact(); contact != nil {
		targetURI = contact.Address
	}

	byeReq := sip.NewRequest(sip.BYE, targetURI)

	fromHdr := &sip.FromHeader{
		DisplayName: inv.To().DisplayName,
		Address:     inv.To().Address,
		Params:      sip.NewParams(),
	}
	fromHdr.Params.Add("tag", s.localTag)
	byeReq.AppendHeader(fromHdr)

	byeReq.AppendHeader(inv.From())

	callIDHdr := sip.CallIDHeader(s.callID)
	byeReq.AppendHeader(&callIDHdr)

	byeReq.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})

	cl := sip.ContentLengthHeader(0)
	byeReq.AppendHeader(&cl)

	return byeReq
}

// rtpReceiveLoop reads inbound RTP packets, decodes them with the
// negotiated G.711 codec, reframes to 20ms boundaries, and resamples from
// 8kHz telephony rate to the 48kHz internal rate before publishing to rx.
func (s *Session) rtpReceiveLoop(log *logrus.Logger) {
	buf := make([]byte, 1500)
	reframer := audio.NewReframer(voiceagent.RateSIP)

	for {
		select {
		case <-s.stopReceive:
			return
		default:
		}

		if err := s.rtpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return
		}
		n, addr, err := s.rtpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopReceive:
				return
			default:
				log.WithError(err).Debug("rtp read error")
				continue
			}
		}
		if n < 12 {
			continue
		}

		if s.peer.Load() == nil {
			s.peer.Store(addr)
		}
		s.touch()

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		codecName := codecPCMU
		if s.codec.name == codecPCMA {
			codecName = codecPCMA
		}
		pcm8k := decodeG711(pkt.Payload, codecName)
		pcm48k := audio.Resample(pcm8k, voiceagent.RateSIP/6, voiceagent.RateSIP) // 8kHz -> 48kHz

		for _, frame := range reframer.Push(pcm48k) {
			select {
			case s.rx <- frame:
			case <-s.stopReceive:
				return
			default:
				// rx is bounded (spec §5 RX bound); drop the oldest rather
				// than block the socket read loop.
				select {
				case <-s.rx:
				default:
				}
				select {
				case s.rx <- frame:
				default:
				}
			}
		}
	}
}

// rtpSendLoop paces outbound frames onto the wire on a fixed 20ms clock,
// substituting silence whenever tx is empty so the stream never actually
// stops: a gap of RTP packets lets NAT/firewall mappings for the call's
// UDP port expire mid-call. Grounded on rtpPacketSender's elapsed-time
// sleep pacing, redesigned around a ticker so the clock keeps running
// independent of whether the AI side has anything queued (spec §4.B).
func (s *Session) rtpSendLoop() {
	const frameDur = 20 * time.Millisecond
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	silence := audio.Silence(voiceagent.RateSIP, 20)

	for {
		select {
		case <-s.stopSend:
			return
		case <-ticker.C:
			samples, rate := silence, voiceagent.RateSIP
			select {
			case frame, ok := <-s.tx:
				if ok {
					samples, rate = frame.Samples, frame.Rate
				}
			default:
			}

			peer, _ := s.peer.Load().(*net.UDPAddr)
			if peer == nil {
				continue // no learned remote address yet, drop
			}

			pcm8k := audio.Resample(samples, rate, voiceagent.RateSIP/6)
			codecName := codecPCMU
			if s.codec.name == codecPCMA {
				codecName = codecPCMA
			}
			payload := encodeG711(pcm8k, codecName)

			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    rtpHeaderPayloadType(s.codec.name),
					SequenceNumber: s.rtpSequence,
					Timestamp:      s.rtpTimestamp,
					SSRC:           s.rtpSSRC,
				},
				Payload: payload,
			}
			s.rtpSequence++
			s.rtpTimestamp += uint32(len(pcm8k))

			raw, err := pkt.Marshal()
			if err == nil {
				_, _ = s.rtpConn.WriteToUDP(raw, peer)
			}
		}
	}
}

var callerIDPattern = regexp.MustCompile(`sip:([^@;>]+)`)

// ParseCallerID extracts the caller's number/identity from a SIP From
// header value such as `"Jane" <sip:+15551234567@trunk.example.com>`.
func ParseCallerID(from string) string {
	m := callerIDPattern.FindStringSubmatch(from)
	if len(m) < 2 {
		return strings.TrimSpace(from)
	}
	return strings.TrimSpace(m[1])
}
