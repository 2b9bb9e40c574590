// Package conversation derives the externally observed state of a voice
// conversation from realtime session events.
//
// A [Reducer] owns the connection flags, the turn-taking flags and the
// transcript. It consumes [realtime.Event] values through a single exhaustive
// switch, forwards synthesised audio to a [Player], and surfaces
// service-reported failures through a [Notifier]. Observers registered with
// [Reducer.Subscribe] receive a snapshot after every change.
package conversation

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/careercompass/pkg/provider/realtime"
)

// TurnState tells who currently holds the floor.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnListening
	TurnSpeaking
)

// String returns the lower-case name of the turn state.
func (t TurnState) String() string {
	switch t {
	case TurnListening:
		return "listening"
	case TurnSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

// State is a snapshot of the observable conversation state. Messages is a
// copy owned by the receiver.
type State struct {
	Connected  bool    `json:"connected"`
	Connecting bool    `json:"connecting"`
	Speaking   bool    `json:"speaking"`
	Listening  bool    `json:"listening"`
	Messages   []Entry `json:"messages"`
}

// Turn derives the turn state. Assistant speech wins over a simultaneous
// user turn because it is what the user hears.
func (s State) Turn() TurnState {
	switch {
	case s.Speaking:
		return TurnSpeaking
	case s.Listening:
		return TurnListening
	default:
		return TurnIdle
	}
}

// Player receives synthesised audio payloads (base64 PCM16).
type Player interface {
	Enqueue(payload string) error
}

// Hooks are optional callbacks for metrics. Nil fields are skipped.
type Hooks struct {
	OnEntry        func(Entry)
	OnServiceError func(realtime.ServiceError)
}

// Option configures a [Reducer].
type Option func(*Reducer)

// WithPlayer sets the destination of [realtime.AudioDelta] payloads.
func WithPlayer(p Player) Option {
	return func(r *Reducer) { r.player = p }
}

// WithNotifier sets the notification sink. Default [Discard].
func WithNotifier(n Notifier) Option {
	return func(r *Reducer) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithHooks sets metric callbacks.
func WithHooks(h Hooks) Option {
	return func(r *Reducer) { r.hooks = h }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reducer) { r.log = l }
}

// Reducer is the single writer of conversation state.
//
// Subscribers run synchronously, in order of change, while the reducer's lock
// is held: they must not block or call back into the Reducer.
type Reducer struct {
	player   Player
	notifier Notifier
	hooks    Hooks
	log      *slog.Logger

	mu         sync.Mutex
	connected  bool
	connecting bool
	speaking   bool
	listening  bool
	transcript Transcript
	// live is true between Begin and the matching close. Events outside a
	// live session are ignored.
	live bool
	subs []func(State)
}

// New creates an idle Reducer.
func New(opts ...Option) *Reducer {
	r := &Reducer{
		notifier: Discard,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe registers fn to receive a snapshot after every change and
// returns a function that removes it.
func (r *Reducer) Subscribe(fn func(State)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	idx := len(r.subs) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.subs) {
			r.subs[idx] = nil
		}
	}
}

// State returns the current snapshot.
func (r *Reducer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Begin marks a new session as connecting. The transcript is kept; use
// [Reducer.ClearMessages] to drop it.
func (r *Reducer) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = true
	r.connecting = true
	r.connected = false
	r.listening = false
	r.speaking = false
	r.publishLocked()
}

// Open marks the session as connected and listening for the user.
func (r *Reducer) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return
	}
	r.connecting = false
	r.connected = true
	r.listening = true
	r.publishLocked()
}

// Close forces every flag to false. Only the first close of a session has an
// effect; it reports whether this call was that first close.
func (r *Reducer) Close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// SetSpeaking mirrors the playback speaking edge. Ignored outside a live
// session except when clearing the flag.
func (r *Reducer) SetSpeaking(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if (v && !r.live) || r.speaking == v {
		return
	}
	r.speaking = v
	r.publishLocked()
}

// ClearMessages drops the transcript.
func (r *Reducer) ClearMessages() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript.Reset()
	r.publishLocked()
}

// Apply folds one session event into the state.
func (r *Reducer) Apply(e realtime.Event) {
	// Audio is forwarded without the lock: the player reports speaking edges
	// back through SetSpeaking.
	if d, ok := e.(realtime.AudioDelta); ok {
		r.mu.Lock()
		live := r.live
		r.mu.Unlock()
		if live && r.player != nil && d.Data != "" {
			_ = r.player.Enqueue(d.Data)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		r.log.Debug("conversation: event outside live session ignored", "event", e)
		return
	}

	switch ev := e.(type) {
	case realtime.SpeechStarted:
		r.setListeningLocked(true)
	case realtime.SpeechStopped:
		r.setListeningLocked(false)
	case realtime.InputTranscriptCompleted:
		r.appendLocked(Entry{Role: RoleUser, Content: ev.Text})
	case realtime.OutputTranscriptDone:
		r.appendLocked(Entry{Role: RoleAssistant, Content: ev.Text})
	case realtime.ServiceError:
		r.log.Error("conversation: service error", "type", ev.Type, "code", ev.Code, "message", ev.Message)
		if r.hooks.OnServiceError != nil {
			r.hooks.OnServiceError(ev)
		}
		msg := ev.Message
		if msg == "" {
			msg = MsgServiceErrorFallback
		}
		r.notifier.Notify(Notification{Level: LevelError, Message: msg})
	case realtime.Closed:
		if r.closeLocked() && ev.Err != nil {
			r.log.Warn("conversation: transport closed", "err", ev.Err)
			r.notifier.Notify(Notification{Level: LevelError, Message: MsgConnectionError})
		}
	case realtime.AudioDelta:
		// handled above
	default:
		r.log.Debug("conversation: unhandled event", "event", e)
	}
}

func (r *Reducer) setListeningLocked(v bool) {
	if r.listening == v {
		return
	}
	r.listening = v
	r.publishLocked()
}

func (r *Reducer) appendLocked(e Entry) {
	if e.Content == "" {
		return
	}
	r.transcript.Append(e)
	if r.hooks.OnEntry != nil {
		r.hooks.OnEntry(e)
	}
	r.publishLocked()
}

func (r *Reducer) closeLocked() bool {
	if !r.live {
		return false
	}
	r.live = false
	r.connected = false
	r.connecting = false
	r.listening = false
	r.speaking = false
	r.publishLocked()
	return true
}

func (r *Reducer) snapshotLocked() State {
	return State{
		Connected:  r.connected,
		Connecting: r.connecting,
		Speaking:   r.speaking,
		Listening:  r.listening,
		Messages:   r.transcript.Entries(),
	}
}

func (r *Reducer) publishLocked() {
	if len(r.subs) == 0 {
		return
	}
	s := r.snapshotLocked()
	for _, fn := range r.subs {
		if fn != nil {
			fn(s)
		}
	}
}
