package realtime

import "fmt"

// Event is one inbound message from a realtime session. The set of
// implementations is closed: AudioDelta, InputTranscriptCompleted,
// OutputTranscriptDone, SpeechStarted, SpeechStopped, ServiceError and
// Closed.
type Event interface {
	isEvent()
}

// AudioDelta carries one base64 PCM16 chunk of synthesised speech.
type AudioDelta struct {
	Data string
}

// InputTranscriptCompleted is the final transcript of one user utterance.
type InputTranscriptCompleted struct {
	Text string
}

// OutputTranscriptDone is the final transcript of one assistant response.
type OutputTranscriptDone struct {
	Text string
}

// SpeechStarted signals that server-side VAD detected the user speaking.
type SpeechStarted struct{}

// SpeechStopped signals that the user stopped speaking.
type SpeechStopped struct{}

// ServiceError is an error reported in-band by the service. The session stays
// open.
type ServiceError struct {
	Type    string
	Code    string
	Message string
}

// Error implements error.
func (e ServiceError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("realtime: service error %s (%s): %s", e.Type, e.Code, e.Message)
	case e.Type != "":
		return fmt.Sprintf("realtime: service error %s: %s", e.Type, e.Message)
	default:
		return "realtime: service error: " + e.Message
	}
}

// Closed is the terminal event of every session. Err is nil after a local
// Close or a normal closure by the peer, and non-nil when the transport
// failed.
type Closed struct {
	Err error
}

func (AudioDelta) isEvent()               {}
func (InputTranscriptCompleted) isEvent() {}
func (OutputTranscriptDone) isEvent()     {}
func (SpeechStarted) isEvent()            {}
func (SpeechStopped) isEvent()            {}
func (ServiceError) isEvent()             {}
func (Closed) isEvent()                   {}
