package sip

import "testing"

func TestULawRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000, 1, -1}
	encoded := encodeG711(samples, codecPCMU)
	decoded := decodeG711(encoded, codecPCMU)

	for i, s := range samples {
		diff := int(s) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > 1000 {
			t.Fatalf("mu-law round trip drifted too far at %d: %d -> %d", i, s, decoded[i])
		}
	}
}

func TestALawRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000, 1, -1}
	encoded := encodeG711(samples, codecPCMA)
	decoded := decodeG711(encoded, codecPCMA)

	for i, s := range samples {
		diff := int(s) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > 1000 {
			t.Fatalf("A-law round trip drifted too far at %d: %d -> %d", i, s, decoded[i])
		}
	}
}

func TestUnknownCodecReturnsNil(t *testing.T) {
	if encodeG711([]int16{1, 2, 3}, "G722") != nil {
		t.Fatalf("expected nil for unsupported codec")
	}
	if decodeG711([]byte{1, 2, 3}, "G722") != nil {
		t.Fatalf("expected nil for unsupported codec")
	}
}

func TestParseCallerID(t *testing.T) {
	cases := map[string]string{
		`"Jane" <sip:+15551234567@trunk.example.com>`: "+15551234567",
		"sip:anonymous@trunk.example.com":              "anonymous",
		"garbage without a uri":                         "garbage without a uri",
	}
	for input, want := range cases {
		if got := ParseCallerID(input); got != want {
			t.Fatalf("ParseCallerID(%q) = %q, want %q", input, got, want)
		}
	}
}
