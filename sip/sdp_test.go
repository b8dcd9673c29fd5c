package sip

import (
	"strings"
	"testing"
)

const pcmuOffer = "v=0\r\n" +
	"o=- 123 123 IN IP4 203.0.113.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 0 8\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

const pcmaOnlyOffer = "v=0\r\n" +
	"o=- 123 123 IN IP4 203.0.113.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 8\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

const opusOnlyOffer = "v=0\r\n" +
	"o=- 123 123 IN IP4 203.0.113.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestNegotiateCodecPrefersPCMAOverPCMU(t *testing.T) {
	got, err := negotiateCodec([]byte(pcmuOffer))
	if err != nil {
		t.Fatalf("negotiateCodec: %v", err)
	}
	if got.name != codecPCMA {
		t.Fatalf("negotiateCodec picked %s, want PCMA (higher preference than PCMU)", got.name)
	}
}

func TestNegotiateCodecFallsBackToPCMU(t *testing.T) {
	offer := strings.ReplaceAll(pcmuOffer, "0 8", "0")
	got, err := negotiateCodec([]byte(offer))
	if err != nil {
		t.Fatalf("negotiateCodec: %v", err)
	}
	if got.name != codecPCMU {
		t.Fatalf("negotiateCodec picked %s, want PCMU", got.name)
	}
}

func TestNegotiateCodecPCMAOnly(t *testing.T) {
	got, err := negotiateCodec([]byte(pcmaOnlyOffer))
	if err != nil {
		t.Fatalf("negotiateCodec: %v", err)
	}
	if got.name != codecPCMA {
		t.Fatalf("negotiateCodec picked %s, want PCMA", got.name)
	}
}

func TestNegotiateCodecOpusOnlyIsUnsupported(t *testing.T) {
	_, err := negotiateCodec([]byte(opusOnlyOffer))
	if err == nil {
		t.Fatalf("expected KindCodecUnsupported for an opus-only offer")
	}
}

func TestBuildAnswerAdvertisesPublicIP(t *testing.T) {
	answer, err := buildAnswer("198.51.100.9", 4010, negotiatedCodec{name: codecPCMA, payload: payloadTypePCMA, clockRate: 8000})
	if err != nil {
		t.Fatalf("buildAnswer: %v", err)
	}
	s := string(answer)
	if !strings.Contains(s, "198.51.100.9") {
		t.Fatalf("answer does not advertise public IP: %s", s)
	}
	if !strings.Contains(s, "4010") {
		t.Fatalf("answer does not advertise the allocated RTP port: %s", s)
	}
}
