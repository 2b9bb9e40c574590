// Package audio defines the sample formats, conversions and device
// abstractions shared by the careercompass voice pipeline.
//
// The realtime speech service speaks mono PCM16 at [WireSampleRate]. Local
// devices speak whatever they like; this package holds the helpers that
// bridge the two ([EncodeWire], [DecodeBase64Chunk], [FormatConverter]) and
// the narrow interfaces the pipeline needs from its environment:
//
//   - [Microphone] / [InputStream]: a permission-gated source of float
//     sample blocks at the device's native rate.
//   - [Clock]: a monotonic audio clock.
//   - [Sink]: schedules a buffer to start rendering at a clock time.
//
// Implementations live in pkg/audio/pcmio (files, pipes and the pull-driven
// mixer), pkg/audio/malgo (capture devices), pkg/audio/oto (output devices)
// and pkg/audio/mock (tests).
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the user (or the
// operating system) refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Microphone is a capture device that must be explicitly acquired.
type Microphone interface {
	// Open acquires the device. It returns an error wrapping
	// [ErrPermissionDenied] when access is refused. ctx bounds the
	// acquisition only, not the lifetime of the returned stream.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an acquired microphone track.
//
// Read and Close may be called from different goroutines; Close must unblock
// a pending Read.
type InputStream interface {
	// SampleRate reports the native rate of the samples returned by Read.
	SampleRate() int

	// Read fills block with the next mono samples, blocking until the block is
	// full or the stream ends. It returns the number of samples written. A
	// short final block is returned together with a non-nil error (io.EOF at
	// the natural end of the stream).
	Read(block []float32) (int, error)

	// Close releases the device. Idempotent.
	Close() error
}

// Clock is the audio output clock. Now must be monotonically non-decreasing.
type Clock interface {
	Now() time.Duration
}

// Voice is a handle to one buffer scheduled on a [Sink].
type Voice interface {
	// Stop halts rendering. The buffer's onEnded callback is not invoked after
	// Stop returns. Safe to call after natural completion.
	Stop()
}

// Sink renders mono sample buffers at scheduled clock times.
type Sink interface {
	// Schedule arranges for samples (mono at sampleRate) to start rendering
	// at clock time at, or immediately if at is already past. onEnded is
	// called once rendering completes naturally. Implementations must invoke
	// onEnded asynchronously, never from within Schedule itself.
	Schedule(samples []float32, sampleRate int, at time.Duration, onEnded func()) Voice
}
