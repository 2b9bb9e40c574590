// Package realtime defines the Provider interface for bidirectional voice
// sessions with a hosted speech model.
//
// A session is a single long-lived connection that carries microphone audio
// upstream and synthesised speech, transcripts and turn-taking signals
// downstream. Inbound traffic is normalised into the closed set of [Event]
// types below so callers can dispatch with one type switch.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"
)

// DefaultTranscriptionModel transcribes the user's side of the conversation.
const DefaultTranscriptionModel = "whisper-1"

// VADConfig tunes server-side voice activity detection.
type VADConfig struct {
	// Threshold is the activation level in [0, 1].
	Threshold float64

	// PrefixPadding is the audio retained before detected speech.
	PrefixPadding time.Duration

	// SilenceDuration is how long the user must be quiet before the turn ends.
	SilenceDuration time.Duration
}

// DefaultVAD returns threshold 0.5, 300ms prefix padding and 500ms silence.
func DefaultVAD() VADConfig {
	return VADConfig{
		Threshold:       0.5,
		PrefixPadding:   300 * time.Millisecond,
		SilenceDuration: 500 * time.Millisecond,
	}
}

// SessionConfig is declared to the service once, right after the connection
// opens.
type SessionConfig struct {
	// Voice is the synthesis voice identifier (e.g. "shimmer").
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// TranscriptionModel transcribes user audio. Empty means
	// [DefaultTranscriptionModel].
	TranscriptionModel string

	// VAD configures server-side turn detection.
	VAD VADConfig

	// Secret is the short-lived credential used to authenticate the
	// connection.
	Secret string
}

// Session is an open realtime connection.
type Session interface {
	// Send transmits one wire-format PCM16 frame. Frames sent after the
	// session has closed are dropped and nil is returned.
	Send(frame []byte) error

	// Events returns the inbound event stream, in arrival order. When the
	// connection ends a [Closed] event is delivered and the channel is
	// closed. After a local Close the trailing Closed is best effort, so
	// consumers should treat a closed channel as Closed{}.
	Events() <-chan Event

	// Close terminates the connection. Idempotent.
	Close() error
}

// Provider opens realtime sessions.
type Provider interface {
	// Connect dials the service and declares cfg. The returned Session is
	// ready to accept audio. ctx bounds the dial only.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
