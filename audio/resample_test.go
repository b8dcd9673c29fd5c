package audio

import (
	"math"
	"sync"
	"testing"
)

func TestResampleSilence(t *testing.T) {
	in := make([]int16, 960) // 20ms @ 48kHz, all zero
	out := Resample(in, 48000, 16000)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("expected silence to resample to silence, got sample %d = %d", i, s)
		}
	}
}

func TestResampleRoundTripPreservesAmplitude(t *testing.T) {
	const rate = 48000
	sine := Tone(1000, 20, rate)

	down := Resample(sine, rate, 16000)
	up := Resample(down, 16000, rate)

	peakIn := peak(sine)
	peakOut := peak(up)

	ratio := peakOut / peakIn
	db := 20 * math.Log10(ratio)
	if db < -3 || db > 3 {
		t.Fatalf("round trip amplitude drifted by %.2f dB (want within 3 dB)", db)
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3, -4}
	out := Resample(in, 8000, 8000)
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("identity resample changed sample %d: %d vs %d", i, out[i], in[i])
		}
	}
}

func peak(samples []int16) float64 {
	var max float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > max {
			max = v
		}
	}
	return max
}

func TestReframerLengthPreserving(t *testing.T) {
	r := NewReframer(48000)

	var totalIn, totalOut int
	for i := 0; i < 5; i++ {
		n := 500 + i*37 // deliberately not frame-aligned
		samples := make([]int16, n)
		totalIn += n

		frames := r.Push(samples)
		for _, f := range frames {
			totalOut += len(f.Samples)
		}
	}
	totalOut += len(r.Tail())

	if totalOut != totalIn {
		t.Fatalf("reframer lost or gained samples: in=%d out+tail=%d", totalIn, totalOut)
	}
}

func TestBeepCached(t *testing.T) {
	a := Beep(48000)
	b := Beep(48000)
	if len(a) != len(b) {
		t.Fatalf("beep length changed between calls")
	}
	wantSamples := 48000 * 150 / 1000
	if len(a) != wantSamples {
		t.Fatalf("beep length = %d, want %d", len(a), wantSamples)
	}
}

func TestBeepConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	rates := []int{8000, 16000, 24000, 48000}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		rate := rates[i%len(rates)]
		go func() {
			defer wg.Done()
			out := Beep(rate)
			want := rate * 150 / 1000
			if len(out) != want {
				t.Errorf("beep(%d) length = %d, want %d", rate, len(out), want)
			}
		}()
	}
	wg.Wait()
}
