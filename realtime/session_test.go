package realtime

import (
	"testing"

	"github.com/agentplexus/voiceagent/internal/errs"
)

func TestPCMByteRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	bytes := int16ToPCMBytes(samples)
	back := pcmBytesToInt16(bytes)

	if len(back) != len(samples) {
		t.Fatalf("length mismatch: %d vs %d", len(back), len(samples))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestIsActiveResponseError(t *testing.T) {
	protocolErr := errs.New(errs.KindProtocolViolation, "op", errAny{})
	if !isActiveResponseError(protocolErr) {
		t.Fatalf("expected protocol violation to be treated as an active-response error")
	}

	netErr := errs.New(errs.KindNetworkTransient, "op", errAny{})
	if isActiveResponseError(netErr) {
		t.Fatalf("network errors should not be treated as active-response errors")
	}

	if isActiveResponseError(nil) {
		t.Fatalf("nil error should not be an active-response error")
	}
}

type errAny struct{}

func (errAny) Error() string { return "boom" }
