// Package audio implements sample-rate and frame-size conversion between
// the telephony leg (48 kHz) and the AI leg (16 kHz in / 24 kHz out), plus
// tone synthesis for the security gate's beep. It corresponds to the
// resample_audio/sip_to_ai_input/ai_output_to_sip functions of the
// reference implementation, reimplemented as linear-interpolation
// resampling in pure Go (no third-party pack library performs PCM
// resampling; the reference used numpy/scipy, which has no Go analogue in
// the corpus).
package audio

import (
	"math"
	"sync"

	"github.com/agentplexus/voiceagent"
)

// Resample converts signed 16-bit PCM samples from one sample rate to
// another using linear interpolation. Amplitude is clipped to the int16
// range. Resample(x, r, r) returns a copy of x.
func Resample(in []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(in)) * ratio)
	out := make([]int16, outLen)

	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		frac := srcPos - float64(i0)

		var s0, s1 float64
		if i0 < len(in) {
			s0 = float64(in[i0])
		} else {
			s0 = float64(in[len(in)-1])
		}
		if i0+1 < len(in) {
			s1 = float64(in[i0+1])
		} else {
			s1 = s0
		}

		v := s0 + (s1-s0)*frac
		out[i] = clampInt16(v)
	}

	return out
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Silence returns ms milliseconds of silence at rate, as raw samples.
func Silence(rate int, ms int) []int16 {
	n := rate * ms / 1000
	return make([]int16, n)
}

// beepCache holds the once-computed beep tone, keyed by rate, matching
// spec §4.A's "computed once at startup and cached" requirement.
var (
	beepCacheMu sync.Mutex
	beepCache   = map[int][]int16{}
)

// Tone synthesizes ms milliseconds of a sine wave at freqHz, sample rate
// rate, at roughly 50% full-scale amplitude.
func Tone(freqHz float64, ms int, rate int) []int16 {
	n := rate * ms / 1000
	out := make([]int16, n)
	const amplitude = 0.5 * math.MaxInt16
	for i := range out {
		t := float64(i) / float64(rate)
		out[i] = clampInt16(amplitude * math.Sin(2*math.Pi*freqHz*t))
	}
	return out
}

// The beep at the SIP bridge rate is computed once at startup.
func init() {
	Beep(voiceagent.RateSIP)
}

// Beep returns the cached 800 Hz / 150 ms beep tone at rate, computing it
// on first use for any rate not already cached.
func Beep(rate int) []int16 {
	beepCacheMu.Lock()
	defer beepCacheMu.Unlock()

	if cached, ok := beepCache[rate]; ok {
		out := make([]int16, len(cached))
		copy(out, cached)
		return out
	}
	tone := Tone(800, 150, rate)
	beepCache[rate] = tone
	out := make([]int16, len(tone))
	copy(out, tone)
	return out
}
