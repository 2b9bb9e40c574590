package conversation

// Level is the severity of a [Notification].
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// String returns the lower-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a transient, user-facing message.
type Notification struct {
	Level   Level
	Message string
}

// Notifier surfaces notifications to the user. Implementations must not
// block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard is a [Notifier] that drops everything.
var Discard Notifier = NotifierFunc(func(Notification) {})

// User-facing messages.
const (
	MsgConnected            = "Connected to Career Advisor"
	MsgEnded                = "Conversation ended"
	MsgConnectionError      = "Connection error occurred"
	MsgMicrophoneDenied     = "Please allow microphone access to use voice features"
	MsgCredentialFailed     = "Failed to get session token"
	MsgStartFailed          = "Failed to start conversation"
	MsgServiceErrorFallback = "An error occurred"
	MsgResponseFailed       = "Failed to get response. Please try again."
	MsgInitiateFailed       = "Failed to connect. Please try again."
)
