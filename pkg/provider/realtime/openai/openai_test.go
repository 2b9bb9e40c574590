package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/careercompass/pkg/provider/realtime"
	"github.com/MrWong99/careercompass/pkg/provider/realtime/openai"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeRaw sends a text frame verbatim.
func writeRaw(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Logf("writeRaw: %v (may be expected on close)", err)
	}
}

// nextEvent receives one event or fails after a timeout.
func nextEvent(t *testing.T, sess realtime.Session) realtime.Event {
	t.Helper()
	select {
	case e, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

// drainUntilClosed waits for the event channel to close and returns the
// Closed event seen on the way, if any.
func drainUntilClosed(t *testing.T, sess realtime.Session) (realtime.Closed, bool) {
	t.Helper()
	var closed realtime.Closed
	var seen bool
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-sess.Events():
			if !ok {
				return closed, seen
			}
			if c, isClosed := e.(realtime.Closed); isClosed {
				closed, seen = c, true
			}
		case <-timeout:
			t.Fatal("timeout waiting for event channel to close")
		}
	}
}

func connect(t *testing.T, srv *httptest.Server, cfg realtime.SessionConfig) realtime.Session {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "ek_test"
	}
	p := openai.New(openai.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// ── Handshake ─────────────────────────────────────────────────────────────────

type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		Modalities              []string `json:"modalities"`
		Instructions            string   `json:"instructions"`
		Voice                   string   `json:"voice"`
		InputAudioFormat        string   `json:"input_audio_format"`
		OutputAudioFormat       string   `json:"output_audio_format"`
		InputAudioTranscription struct {
			Model string `json:"model"`
		} `json:"input_audio_transcription"`
		TurnDetection struct {
			Type              string  `json:"type"`
			Threshold         float64 `json:"threshold"`
			PrefixPaddingMs   int     `json:"prefix_padding_ms"`
			SilenceDurationMs int     `json:"silence_duration_ms"`
		} `json:"turn_detection"`
	} `json:"session"`
}

func TestConnect_SendsSessionUpdateFirst(t *testing.T) {
	t.Parallel()

	type handshake struct {
		auth, beta, model string
		update            sessionUpdate
	}
	got := make(chan handshake, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		h := handshake{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		readJSON(t, conn, &h.update)
		got <- h
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, realtime.SessionConfig{
		Voice:        "shimmer",
		Instructions: "be helpful",
		Secret:       "ek_abc",
		VAD:          realtime.DefaultVAD(),
	})

	var h handshake
	select {
	case h = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}

	if h.auth != "Bearer ek_abc" {
		t.Errorf("Authorization = %q, want Bearer ek_abc", h.auth)
	}
	if h.beta != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", h.beta)
	}
	if h.model != openai.DefaultModel {
		t.Errorf("model = %q, want %q", h.model, openai.DefaultModel)
	}

	u := h.update
	if u.Type != "session.update" {
		t.Fatalf("first message type = %q, want session.update", u.Type)
	}
	s := u.Session
	if len(s.Modalities) != 2 || s.Modalities[0] != "text" || s.Modalities[1] != "audio" {
		t.Errorf("modalities = %v", s.Modalities)
	}
	if s.Voice != "shimmer" || s.Instructions != "be helpful" {
		t.Errorf("voice/instructions = %q/%q", s.Voice, s.Instructions)
	}
	if s.InputAudioFormat != "pcm16" || s.OutputAudioFormat != "pcm16" {
		t.Errorf("audio formats = %q/%q", s.InputAudioFormat, s.OutputAudioFormat)
	}
	if s.InputAudioTranscription.Model != "whisper-1" {
		t.Errorf("transcription model = %q", s.InputAudioTranscription.Model)
	}
	td := s.TurnDetection
	if td.Type != "server_vad" || td.Threshold != 0.5 || td.PrefixPaddingMs != 300 || td.SilenceDurationMs != 500 {
		t.Errorf("turn_detection = %+v", td)
	}
}

func TestConnect_ZeroVADUsesDefaults(t *testing.T) {
	t.Parallel()

	got := make(chan sessionUpdate, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var u sessionUpdate
		readJSON(t, conn, &u)
		got <- u
		<-conn.CloseRead(context.Background()).Done()
	})
	connect(t, srv, realtime.SessionConfig{TranscriptionModel: "gpt-4o-transcribe"})

	u := <-got
	if u.Session.TurnDetection.SilenceDurationMs != 500 {
		t.Errorf("silence_duration_ms = %d, want 500", u.Session.TurnDetection.SilenceDurationMs)
	}
	if u.Session.InputAudioTranscription.Model != "gpt-4o-transcribe" {
		t.Errorf("transcription model = %q", u.Session.InputAudioTranscription.Model)
	}
}

func TestConnect_EmptySecret(t *testing.T) {
	t.Parallel()
	p := openai.New(openai.WithBaseURL("ws://127.0.0.1:1"))
	if _, err := p.Connect(context.Background(), realtime.SessionConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p := openai.New(openai.WithBaseURL(wsURL(srv)))
	_, err := p.Connect(context.Background(), realtime.SessionConfig{Secret: "bad"})
	if err == nil || !strings.Contains(err.Error(), "openai: dial") {
		t.Fatalf("err = %v, want dial error", err)
	}
}

// ── Outbound audio ────────────────────────────────────────────────────────────

func TestSend_AppendsBase64Audio(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan appendMsg, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		for range 2 {
			var m appendMsg
			readJSON(t, conn, &m)
			got <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	frames := [][]byte{{1, 2, 3, 4}, {5, 6}}
	for _, f := range frames {
		if err := sess.Send(f); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, f := range frames {
		select {
		case m := <-got:
			if m.Type != "input_audio_buffer.append" {
				t.Errorf("type = %q", m.Type)
			}
			if m.Audio != base64.StdEncoding.EncodeToString(f) {
				t.Errorf("frame %d audio = %q", i, m.Audio)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestSend_AfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Send([]byte{1, 2}); err != nil {
		t.Errorf("Send after Close = %v, want nil", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if c, seen := drainUntilClosed(t, sess); seen && c.Err != nil {
		t.Errorf("Closed.Err after local close = %v, want nil", c.Err)
	}
}

// ── Inbound events ────────────────────────────────────────────────────────────

func TestEvents_MappedInWireOrder(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		for _, m := range []string{
			`{"type":"session.created"}`,
			`{"type":"input_audio_buffer.speech_started"}`,
			`not json`,
			`{"type":"input_audio_buffer.speech_stopped"}`,
			`{"type":"conversation.item.input_audio_transcription.completed","transcript":"How do I negotiate salary?"}`,
			`{"type":"response.audio.delta","delta":"AAAA"}`,
			`{"type":"response.audio.delta","delta":""}`,
			`{"type":"response.audio_transcript.delta","delta":"Start "}`,
			`{"type":"response.audio_transcript.done","transcript":"Start with research."}`,
			`{"type":"error","error":{"type":"invalid_request_error","code":"bad_audio","message":"nope"}}`,
		} {
			writeRaw(t, conn, m)
		}
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	want := []realtime.Event{
		realtime.SpeechStarted{},
		realtime.SpeechStopped{},
		realtime.InputTranscriptCompleted{Text: "How do I negotiate salary?"},
		realtime.AudioDelta{Data: "AAAA"},
		realtime.OutputTranscriptDone{Text: "Start with research."},
		realtime.ServiceError{Type: "invalid_request_error", Code: "bad_audio", Message: "nope"},
	}
	for i, w := range want {
		if got := nextEvent(t, sess); got != w {
			t.Errorf("event %d = %#v, want %#v", i, got, w)
		}
	}
}

func TestEvents_OutputTranscriptFallsBackToDeltas(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		writeRaw(t, conn, `{"type":"response.audio_transcript.delta","delta":"Update "}`)
		writeRaw(t, conn, `{"type":"response.audio_transcript.delta","delta":"your CV."}`)
		writeRaw(t, conn, `{"type":"response.audio_transcript.done"}`)
		writeRaw(t, conn, `{"type":"response.audio_transcript.done"}`)
		writeRaw(t, conn, `{"type":"input_audio_buffer.speech_started"}`)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	if got := nextEvent(t, sess); got != (realtime.OutputTranscriptDone{Text: "Update your CV."}) {
		t.Fatalf("event = %#v", got)
	}
	// The second, empty done produces nothing.
	if got := nextEvent(t, sess); got != (realtime.SpeechStarted{}) {
		t.Fatalf("event = %#v, want SpeechStarted", got)
	}
}

func TestEvents_ServerDropReportsClosedWithError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		conn.Close(websocket.StatusInternalError, "boom")
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	c, seen := drainUntilClosed(t, sess)
	if !seen {
		t.Fatal("no Closed event before channel close")
	}
	if c.Err == nil {
		t.Fatal("Closed.Err = nil, want transport error")
	}
	if websocket.CloseStatus(c.Err) != websocket.StatusInternalError {
		t.Errorf("close status of %v, want StatusInternalError", c.Err)
	}
}

func TestEvents_NormalServerCloseIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		// Handler returns; startServer closes with StatusNormalClosure.
	})
	sess := connect(t, srv, realtime.SessionConfig{})

	c, seen := drainUntilClosed(t, sess)
	if !seen {
		t.Fatal("no Closed event before channel close")
	}
	if c.Err != nil {
		t.Errorf("Closed.Err = %v, want nil", c.Err)
	}
}

func TestServiceError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  realtime.ServiceError
		want string
	}{
		{realtime.ServiceError{Type: "t", Code: "c", Message: "m"}, "realtime: service error t (c): m"},
		{realtime.ServiceError{Type: "t", Message: "m"}, "realtime: service error t: m"},
		{realtime.ServiceError{Message: "m"}, "realtime: service error: m"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
