package audio

import "github.com/agentplexus/voiceagent"

// Reframer accumulates a raw sample stream and emits fixed-size 20ms
// Frames, carrying any partial trailing samples over to the next call.
// This generalizes the chunking idiom in the SIP/RTP reference's
// SIPRTPWriter.Write (which splits an incoming PCM buffer into 20ms
// chunks) into a reusable, allocation-light component shared by every
// leg of the pipeline.
type Reframer struct {
	rate    int
	tail    []int16
	frameSz int
}

// NewReframer creates a Reframer for the given sample rate.
func NewReframer(rate int) *Reframer {
	return &Reframer{
		rate:    rate,
		frameSz: rate * int(voiceagent.FrameDuration.Milliseconds()) / 1000,
	}
}

// Push appends samples to the internal buffer and returns every complete
// 20ms frame that can be formed. Leftover samples are buffered for the
// next call so that the concatenation of all emitted frames plus the
// final tail equals the total input.
func (r *Reframer) Push(samples []int16) []voiceagent.Frame {
	buf := append(r.tail, samples...)

	var frames []voiceagent.Frame
	i := 0
	for ; i+r.frameSz <= len(buf); i += r.frameSz {
		chunk := make([]int16, r.frameSz)
		copy(chunk, buf[i:i+r.frameSz])
		frames = append(frames, voiceagent.Frame{Samples: chunk, Rate: r.rate})
	}

	r.tail = append([]int16(nil), buf[i:]...)
	return frames
}

// Tail returns the currently buffered, not-yet-emitted samples.
func (r *Reframer) Tail() []int16 {
	return r.tail
}

// FrameSamples returns the sample count of one full frame at this rate.
func (r *Reframer) FrameSamples() int {
	return r.frameSz
}
