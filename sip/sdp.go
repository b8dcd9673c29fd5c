package sip

import (
	"fmt"
	"time"

	sdp "github.com/pion/sdp/v3"

	"github.com/agentplexus/voiceagent/internal/errs"
)

// codecOffer describes one codec entry this adapter is willing to answer with.
type codecOffer struct {
	name       string
	payload    uint8
	clockRate  uint32
	channels   uint16
}

// preferenceOrder is the codec preference spec §6 requires: Opus 48000/2,
// PCMA 8000, PCMU 8000, in that order. Opus is listed here but this adapter
// never selects it as the negotiated codec (see codec.go), and the SDP
// answer only advertises the one codec that was negotiated, so Opus is
// never advertised — if a caller's offer only supports Opus, negotiation
// fails with KindCodecUnsupported rather than fabricating an Opus payload
// path.
var preferenceOrder = []codecOffer{
	{name: "opus", payload: 111, clockRate: 48000, channels: 2},
	{name: codecPCMA, payload: payloadTypePCMA, clockRate: 8000, channels: 1},
	{name: codecPCMU, payload: payloadTypePCMU, clockRate: 8000, channels: 1},
}

// negotiatedCodec is the result of matching a caller's SDP offer against
// preferenceOrder.
type negotiatedCodec struct {
	name      string
	payload   uint8
	clockRate uint32
}

// negotiateCodec parses a caller's SDP offer and picks the
// highest-preference codec this adapter can actually decode (PCMA/PCMU).
func negotiateCodec(offer []byte) (negotiatedCodec, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(offer); err != nil {
		return negotiatedCodec{}, errs.New(errs.KindProtocolViolation, "negotiateCodec", err)
	}

	offered := map[string]bool{}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			var pt uint8
			if _, err := fmt.Sscanf(format, "%d", &pt); err != nil {
				continue
			}
			info, err := sd.GetCodecForPayloadType(pt)
			if err != nil {
				continue
			}
			offered[info.Name] = true
		}
	}

	for _, pref := range preferenceOrder {
		if pref.name == "opus" {
			// Opus may be present in the offer, but this adapter has no
			// grounded codec implementation for it; skip to the next
			// preference rather than claim support.
			continue
		}
		if offered[pref.name] {
			return negotiatedCodec{name: pref.name, payload: pref.payload, clockRate: pref.clockRate}, nil
		}
	}

	// An offer that parsed but carries no media descriptions: default to
	// PCMU per the grounded reference's fallback behavior. (An unparseable
	// offer has already been rejected above.)
	if len(sd.MediaDescriptions) == 0 {
		return negotiatedCodec{name: codecPCMU, payload: payloadTypePCMU, clockRate: 8000}, nil
	}

	return negotiatedCodec{}, errs.New(errs.KindCodecUnsupported, "negotiateCodec", fmt.Errorf("no supported codec in offer"))
}

// buildAnswer builds an SDP answer advertising the negotiated codec on the
// given local RTP port, with the connection/origin lines rewritten to the
// configured public IP (NAT handling per spec §4.B).
func buildAnswer(publicIP string, rtpPort int, codec negotiatedCodec) ([]byte, error) {
	sessionID := uint64(time.Now().Unix())

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: publicIP,
		},
		SessionName: "voiceagent",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: publicIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: rtpPort},
			Protos: []string{"RTP", "AVP"},
		},
		Attributes: []sdp.Attribute{{Key: "sendrecv"}},
	}
	mediaDesc = mediaDesc.WithCodec(codec.payload, codec.name, codec.clockRate, 1, "")
	mediaDesc.MediaName.Formats = []string{fmt.Sprintf("%d", codec.payload)}

	sd.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	return sd.Marshal()
}
