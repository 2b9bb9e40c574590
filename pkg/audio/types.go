package audio

import "time"

// WireSampleRate is the sample rate, in Hz, of every PCM16 buffer exchanged
// with the realtime speech service in either direction.
const WireSampleRate = 24000

// WireFormat is the mono 24 kHz format used on the wire.
var WireFormat = Format{SampleRate: WireSampleRate, Channels: 1}

// AudioFrame is a buffer of interleaved little-endian int16 PCM as it moves
// between the local audio devices and the conversion helpers.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a typical sound card, 24000 on the wire).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured or is due for playback,
	// relative to stream start.
	Timestamp time.Duration
}

// Chunk is one decoded unit of synthesised speech: normalised mono samples
// tagged with their arrival order. A Chunk is consumed exactly once by the
// playback scheduler.
type Chunk struct {
	// Seq is the arrival order, starting at 1 for the first chunk of a session.
	Seq uint64

	// Samples holds mono samples in [-1, 1).
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration reports how long the chunk takes to render at its sample rate.
func (c Chunk) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), c.SampleRate)
}

// SamplesDuration converts a mono sample count at rate Hz into a duration.
// Returns zero for non-positive rates.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
