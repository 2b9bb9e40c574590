// Package openai implements realtime.Provider for OpenAI's Realtime API.
//
// A session is one WebSocket connection to the Realtime endpoint. Right after
// the connection opens, a single session.update declares modalities, voice,
// instructions, PCM16 audio in both directions, input transcription and
// server-side VAD. Microphone frames go upstream as input_audio_buffer.append
// events; inbound JSON events are mapped onto the realtime.Event union by one
// receive goroutine, so delivery order matches wire order.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/MrWong99/careercompass/pkg/audio"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
	"github.com/coder/websocket"
)

var (
	_ realtime.Provider = (*Provider)(nil)
	_ realtime.Session  = (*session)(nil)
)

const (
	// DefaultModel is the realtime model requested when none is configured.
	DefaultModel   = "gpt-4o-realtime-preview-2024-12-17"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	eventBuffer  = 64
	maxEventSize = 10 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for OpenAI's Realtime API. It holds no
// credentials: each Connect authenticates with the short-lived secret carried
// in the SessionConfig.
type Provider struct {
	model      string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials the Realtime endpoint and sends the session configuration.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	if cfg.Secret == "" {
		return nil, errors.New("openai: connect: empty session secret")
	}
	endpoint := p.baseURL + "?model=" + url.QueryEscape(p.model)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.Secret},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	// Audio deltas can be large; the default 32 KiB read limit is too small.
	conn.SetReadLimit(maxEventSize)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, eventBuffer),
		log:    p.log,
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(newSessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
	TurnDetection           turnDetectionParam  `json:"turn_detection"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type turnDetectionParam struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms"`
	SilenceDurationMs int64   `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

func newSessionUpdate(cfg realtime.SessionConfig) sessionUpdateMessage {
	model := cfg.TranscriptionModel
	if model == "" {
		model = realtime.DefaultTranscriptionModel
	}
	vad := cfg.VAD
	if vad == (realtime.VADConfig{}) {
		vad = realtime.DefaultVAD()
	}
	return sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Modalities:              []string{"text", "audio"},
			Instructions:            cfg.Instructions,
			Voice:                   cfg.Voice,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &transcriptionParam{Model: model},
			TurnDetection: turnDetectionParam{
				Type:              "server_vad",
				Threshold:         vad.Threshold,
				PrefixPaddingMs:   vad.PrefixPadding.Milliseconds(),
				SilenceDurationMs: vad.SilenceDuration.Milliseconds(),
			},
		},
	}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event
	log    *slog.Logger

	mu     sync.Mutex
	closed bool

	// outputText accumulates response.audio_transcript.delta events in case
	// the matching done event omits the full transcript. Only touched by
	// receiveLoop.
	outputText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and maps them onto the event
// channel. It owns s.events and closes it when it exits.
func (s *session) receiveLoop() {
	var closeErr error
	defer func() {
		s.finish(closeErr)
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				closeErr = transportError(err)
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.log.Debug("openai: ignoring malformed event", "err", err)
			continue
		}
		if out := s.translate(&evt); out != nil {
			if !s.emit(out) {
				return
			}
		}
	}
}

// translate maps one server event onto a realtime.Event. It returns nil for
// events that carry nothing the caller needs.
func (s *session) translate(evt *serverEvent) realtime.Event {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return nil
		}
		return realtime.AudioDelta{Data: evt.Delta}

	case "response.audio_transcript.delta":
		s.outputText += evt.Delta
		return nil

	case "response.audio_transcript.done":
		text := evt.Transcript
		if text == "" {
			text = s.outputText
		}
		s.outputText = ""
		if text == "" {
			return nil
		}
		return realtime.OutputTranscriptDone{Text: text}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return nil
		}
		return realtime.InputTranscriptCompleted{Text: evt.Transcript}

	case "input_audio_buffer.speech_started":
		return realtime.SpeechStarted{}

	case "input_audio_buffer.speech_stopped":
		return realtime.SpeechStopped{}

	case "error":
		se := realtime.ServiceError{}
		if evt.Error != nil {
			se.Type, se.Code, se.Message = evt.Error.Type, evt.Error.Code, evt.Error.Message
		}
		return se

	default:
		s.log.Debug("openai: unhandled event", "type", evt.Type)
		return nil
	}
}

// emit delivers e unless the session is closed locally first.
func (s *session) emit(e realtime.Event) bool {
	select {
	case s.events <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish delivers the terminal Closed event and closes the channel. After a
// local Close nobody may be reading, so the send is best effort.
func (s *session) finish(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		select {
		case s.events <- realtime.Closed{}:
		default:
		}
	} else {
		s.emit(realtime.Closed{Err: err})
	}
	close(s.events)
	s.cancel()
}

// transportError classifies a read failure. A normal closure by the peer is
// not an error.
func transportError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return fmt.Errorf("openai: connection lost: %w", err)
}

// ── realtime.Session methods ───────────────────────────────────────────────────

// Send encodes frame and transmits it as input_audio_buffer.append. Frames
// sent after the session closed are dropped.
func (s *session) Send(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || len(frame) == 0 {
		return nil
	}

	err := s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio.EncodeBase64(frame),
	})
	if err != nil && s.ctx.Err() == nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
