// Package voice implements the voice-session lifecycle: the only mutating
// surface the user interface needs ({Start, Stop}) plus the observable
// conversation state.
//
// A [Controller] owns at most one session at a time. Starting a session runs
// three suspension points in order (credential exchange, transport open,
// microphone acquisition); a failure at any of them releases whatever was
// acquired so far and leaves the controller closed. [Controller.Stop] is safe
// in every state and returns only after every resource of the session has
// been released.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/internal/conversation"
	"github.com/MrWong99/careercompass/internal/observe"
	"github.com/MrWong99/careercompass/pkg/audio"
	"github.com/MrWong99/careercompass/pkg/audio/capture"
	"github.com/MrWong99/careercompass/pkg/audio/playback"
	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
)

var (
	// ErrCredential wraps a failed credential exchange.
	ErrCredential = errors.New("voice: credential exchange failed")

	// ErrTransport wraps a failure to open the realtime transport.
	ErrTransport = errors.New("voice: transport failed")

	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = audio.ErrPermissionDenied

	// ErrSessionActive is returned by Start while a session is connecting or
	// open.
	ErrSessionActive = errors.New("voice: session already active")

	// ErrAborted is returned by a Start that was abandoned by Stop.
	ErrAborted = errors.New("voice: start aborted")
)

// Status is the lifecycle of the controller's current session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Config holds all dependencies for a [Controller].
type Config struct {
	// Credentials issues one short-lived secret per Start. Required.
	Credentials credential.Issuer

	// Realtime opens the transport. Required.
	Realtime realtime.Provider

	// Microphone is acquired after the transport opens. Required.
	Microphone audio.Microphone

	// Clock and Sink drive playback. Required.
	Clock audio.Clock
	Sink  audio.Sink

	// VAD is sent with every session. Zero means realtime.DefaultVAD().
	VAD realtime.VADConfig

	// TranscriptionModel transcribes user speech. Empty means
	// realtime.DefaultTranscriptionModel.
	TranscriptionModel string

	// BlockSize is the capture block in native samples. Zero means
	// capture.DefaultBlockSize.
	BlockSize int

	// Notifier receives user-facing notifications. Nil discards them.
	Notifier conversation.Notifier

	// Metrics records instruments. Nil means observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// session groups the resources owned by one open conversation.
type session struct {
	id      string
	rt      realtime.Session
	capture *capture.Pipeline
	player  *playback.Scheduler
	quit    chan struct{}
	done    chan struct{}
}

// release stops capture, closes the transport and silences playback.
func (s *session) release() {
	s.capture.Stop()
	_ = s.rt.Close()
	s.player.Reset()
}

// Controller runs voice sessions. All exported methods are safe for
// concurrent use. Subscribers must not call back into the Controller.
type Controller struct {
	cfg      Config
	notifier conversation.Notifier
	metrics  *observe.Metrics
	log      *slog.Logger
	reducer  *conversation.Reducer

	// gen is bumped whenever the current session ends. Work tagged with an
	// older generation is discarded.
	gen atomic.Uint64
	// dispatchMu serialises event application with generation changes.
	dispatchMu sync.Mutex

	mu          sync.Mutex
	status      Status
	cur         *session
	cancelStart context.CancelFunc
	starting    chan struct{} // closed when the in-flight Start returns
	sessionID   string
}

// New creates an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Credentials == nil {
		errs = append(errs, errors.New("credentials issuer is required"))
	}
	if cfg.Realtime == nil {
		errs = append(errs, errors.New("realtime provider is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if cfg.Clock == nil || cfg.Sink == nil {
		errs = append(errs, errors.New("playback clock and sink are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}

	if cfg.VAD == (realtime.VADConfig{}) {
		cfg.VAD = realtime.DefaultVAD()
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = realtime.DefaultTranscriptionModel
	}
	c := &Controller{
		cfg:      cfg,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
	}
	if c.notifier == nil {
		c.notifier = conversation.Discard
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.reducer = conversation.New(
		conversation.WithPlayer(playerFunc(c.play)),
		conversation.WithNotifier(c.notifier),
		conversation.WithLogger(c.log),
		conversation.WithHooks(conversation.Hooks{
			OnEntry: func(e conversation.Entry) {
				c.metrics.RecordTranscriptEntry(context.Background(), string(e.Role))
			},
			OnServiceError: func(e realtime.ServiceError) {
				c.metrics.RecordServiceError(context.Background(), e.Type)
			},
		}),
	)
	return c, nil
}

// ── Observable state ──────────────────────────────────────────────────────────

// State returns a snapshot of {connected, connecting, speaking, listening,
// messages}.
func (c *Controller) State() conversation.State { return c.reducer.State() }

// Subscribe registers fn to receive every state change.
func (c *Controller) Subscribe(fn func(conversation.State)) (unsubscribe func()) {
	return c.reducer.Subscribe(fn)
}

// Status returns the lifecycle status of the current session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the identifier of the current or last session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// QueuedChunks returns the number of assistant audio chunks waiting behind
// the one playing, or 0 without a session.
func (c *Controller) QueuedChunks() int {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return 0
	}
	return cur.player.Pending()
}

// ClearMessages drops the transcript.
func (c *Controller) ClearMessages() { c.reducer.ClearMessages() }

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start opens a voice session speaking with persona and prompted for mode.
// It returns once the session is open or has failed. Errors wrap
// [ErrCredential], [ErrTransport] or [ErrPermissionDenied]; a Start that is
// abandoned by [Controller.Stop] returns [ErrAborted]. No retry is attempted.
func (c *Controller) Start(ctx context.Context, persona advisor.Persona, mode advisor.UserType) error {
	if persona == "" {
		persona = advisor.DefaultPersona
	}

	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusOpen {
		c.mu.Unlock()
		return ErrSessionActive
	}
	gen := c.gen.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	starting := make(chan struct{})
	defer close(starting)
	id := uuid.NewString()
	c.status = StatusConnecting
	c.cancelStart = cancel
	c.starting = starting
	c.sessionID = id
	c.reducer.Begin()
	c.mu.Unlock()

	log := c.log.With("session_id", id, "persona", string(persona), "mode", string(mode))
	ctx, span := observe.StartSpan(ctx, "voice.start", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("voice.persona", string(persona)),
	))
	defer span.End()
	began := time.Now()
	log.Info("voice: starting session")

	secret, err := c.cfg.Credentials.Issue(ctx)
	if err == nil && secret.Expired(time.Now()) {
		err = fmt.Errorf("secret expired at %s", secret.ExpiresAt.Format(time.RFC3339))
	}
	if err != nil {
		c.metrics.RecordProviderError(ctx, "credential", "issue")
		return c.abort(ctx, gen, began, span, nil, fmt.Errorf("%w: %w", ErrCredential, err), "credential_error", conversation.MsgCredentialFailed)
	}
	c.metrics.RecordProviderRequest(ctx, "credential", "issue", "ok")

	rt, err := c.cfg.Realtime.Connect(ctx, realtime.SessionConfig{
		Voice:              string(persona),
		Instructions:       advisor.SystemPrompt(mode),
		TranscriptionModel: c.cfg.TranscriptionModel,
		VAD:                c.cfg.VAD,
		Secret:             secret.Value,
	})
	if err != nil {
		c.metrics.RecordProviderError(ctx, "realtime", "connect")
		return c.abort(ctx, gen, began, span, nil, fmt.Errorf("%w: %w", ErrTransport, err), "transport_error", conversation.MsgConnectionError)
	}
	c.metrics.RecordProviderRequest(ctx, "realtime", "connect", "ok")

	pipeline := capture.New(
		capture.WithBlockSize(c.cfg.BlockSize),
		capture.WithLogger(log),
		capture.WithOnFrame(func(n int) { c.metrics.RecordFrameSent(context.Background(), n) }),
	)
	err = pipeline.Start(ctx, c.cfg.Microphone, func(frame []byte) {
		if err := rt.Send(frame); err != nil {
			log.Debug("voice: frame not sent", "err", err)
		}
	})
	if err != nil {
		_ = rt.Close()
		if errors.Is(err, audio.ErrPermissionDenied) {
			return c.abort(ctx, gen, began, span, log, fmt.Errorf("voice: acquire microphone: %w", err), "permission_denied", conversation.MsgMicrophoneDenied)
		}
		return c.abort(ctx, gen, began, span, log, fmt.Errorf("voice: start capture: %w", err), "capture_error", conversation.MsgStartFailed)
	}

	player := playback.New(c.cfg.Clock, c.cfg.Sink,
		playback.WithLogger(log),
		playback.WithOnSpeaking(c.reducer.SetSpeaking),
		playback.WithOnScheduled(func(audio.Chunk, time.Duration) {
			c.metrics.AudioChunksPlayed.Add(context.Background(), 1)
		}),
		playback.WithOnDecodeError(func(error) {
			c.metrics.AudioDecodeErrors.Add(context.Background(), 1)
		}),
	)
	s := &session{
		id:      id,
		rt:      rt,
		capture: pipeline,
		player:  player,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		s.release()
		return ErrAborted
	}
	c.status = StatusOpen
	c.cur = s
	c.cancelStart = nil
	c.reducer.Open()
	c.mu.Unlock()

	go c.dispatch(gen, s)

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.metrics.ConnectDuration.Record(ctx, time.Since(began).Seconds(),
		metric.WithAttributes(attribute.String("status", "ok")))
	log.Info("voice: session open", "connect_time", time.Since(began))
	c.notifier.Notify(conversation.Notification{Level: conversation.LevelSuccess, Message: conversation.MsgConnected})
	return nil
}

// abort finishes a failed Start. Resources acquired so far must already be
// released by the caller.
func (c *Controller) abort(ctx context.Context, gen uint64, began time.Time, span trace.Span, log *slog.Logger, err error, status, msg string) error {
	if log == nil {
		log = c.log
	}
	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		return ErrAborted
	}
	c.status = StatusClosed
	c.cancelStart = nil
	c.mu.Unlock()

	c.reducer.Close()
	span.RecordError(err)
	c.metrics.ConnectDuration.Record(ctx, time.Since(began).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	log.Warn("voice: start failed", "err", err)
	c.notifier.Notify(conversation.Notification{Level: conversation.LevelError, Message: msg})
	return err
}

// Stop ends the current session, or abandons one that is still connecting.
// It returns after the transport is closed, the microphone released and
// playback silenced. Events that arrive afterwards are ignored. Calling Stop
// when nothing is active is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.status != StatusConnecting && c.status != StatusOpen {
		c.mu.Unlock()
		return
	}
	c.gen.Add(1)
	if c.cancelStart != nil {
		c.cancelStart()
		c.cancelStart = nil
	}
	starting := c.starting
	cur := c.cur
	c.cur = nil
	c.status = StatusClosed
	c.mu.Unlock()

	// Barrier: no event of the old generation is applied past this point.
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()

	// Let an abandoned Start release what it acquired.
	if starting != nil {
		<-starting
	}
	if cur != nil {
		close(cur.quit)
		cur.release()
		<-cur.done
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	c.reducer.Close()
	c.log.Info("voice: session stopped", "session_id", c.SessionID())
	c.notifier.Notify(conversation.Notification{Level: conversation.LevelInfo, Message: conversation.MsgEnded})
}

// dispatch applies inbound events of one session in arrival order.
func (c *Controller) dispatch(gen uint64, s *session) {
	defer close(s.done)
	events := s.rt.Events()
	for {
		var (
			ev realtime.Event
			ok bool
		)
		select {
		case <-s.quit:
			return
		case ev, ok = <-events:
		}
		if !ok {
			ev = realtime.Closed{}
		}
		if !c.apply(gen, ev) {
			return
		}
		if closed, isClosed := ev.(realtime.Closed); isClosed {
			c.endSession(gen, closed.Err)
			return
		}
	}
}

func (c *Controller) apply(gen uint64, ev realtime.Event) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.reducer.Apply(ev)
	return true
}

// endSession releases a session whose transport closed on its own.
func (c *Controller) endSession(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		return
	}
	c.gen.Add(1)
	cur := c.cur
	c.cur = nil
	c.status = StatusClosed
	c.mu.Unlock()

	if cur != nil {
		cur.release()
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.reducer.Close()
	if cause != nil {
		c.metrics.RecordProviderError(context.Background(), "realtime", "transport")
		c.log.Warn("voice: session lost", "session_id", cur.idOrEmpty(), "err", cause)
		return
	}
	c.log.Info("voice: session closed by service", "session_id", cur.idOrEmpty())
}

// play forwards audio to the current session's scheduler.
func (c *Controller) play(payload string) error {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.player.Enqueue(payload)
}

func (s *session) idOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.id
}

// playerFunc adapts a function to conversation.Player.
type playerFunc func(payload string) error

func (f playerFunc) Enqueue(payload string) error { return f(payload) }
