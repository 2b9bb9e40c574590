package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/internal/app"
	"github.com/MrWong99/careercompass/internal/config"
	"github.com/MrWong99/careercompass/internal/conversation"
	"github.com/MrWong99/careercompass/internal/observe"
	"github.com/MrWong99/careercompass/internal/resilience"
	"github.com/MrWong99/careercompass/internal/voice"
	audiomock "github.com/MrWong99/careercompass/pkg/audio/mock"
	"github.com/MrWong99/careercompass/pkg/provider/credential"
	llmmock "github.com/MrWong99/careercompass/pkg/provider/llm/mock"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
	rtmock "github.com/MrWong99/careercompass/pkg/provider/realtime/mock"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

type fixture struct {
	rt  *rtmock.Provider
	llm *llmmock.Provider
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) (*app.App, *fixture) {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{rt: &rtmock.Provider{}, llm: &llmmock.Provider{}}
	if providers == nil {
		providers = &app.Providers{}
	}
	if providers.Realtime == nil {
		providers.Realtime = f.rt
	}
	if providers.Credential == nil {
		providers.Credential = credential.Static("ek_test")
	}
	if providers.LLM == nil {
		providers.LLM = f.llm
	}
	base := []app.Option{
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithPlayback(&audiomock.Clock{}, audiomock.NewSink()),
		app.WithMetrics(m),
	}
	a, err := app.New(cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, f
}

func runApp(ctx context.Context, a *app.App) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	return errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(defaultConfig(t), nil); err == nil {
		t.Error("nil providers accepted")
	}
	_, err := app.New(defaultConfig(t), &app.Providers{LLM: &llmmock.Provider{}})
	if err == nil {
		t.Fatal("missing realtime and credential accepted")
	}
	for _, want := range []string{"realtime", "credential"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNew_DeviceBackendKeepsInjectedDevices(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Audio.Backend = config.AudioDevice
	a, _ := newApp(t, cfg, nil)
	if a.Voice() == nil || a.Chat() == nil {
		t.Fatal("subsystems not initialised")
	}
}

func TestConsole_VoiceThenChat(t *testing.T) {
	t.Parallel()

	in, inW := io.Pipe()
	out := &syncBuffer{}
	a, f := newApp(t, defaultConfig(t), nil, app.WithConsole(in, out))
	f.llm.Respond("Lead with measurable results.", nil)

	errc := runApp(context.Background(), a)
	send := func(line string) {
		t.Helper()
		if _, err := fmt.Fprintln(inW, line); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}

	send("/voice sage")
	waitFor(t, "voice session open", func() bool { return a.Voice().Status() == voice.StatusOpen })
	if calls := f.rt.Calls(); len(calls) != 1 || calls[0].Cfg.Voice != "sage" {
		t.Fatalf("connect calls = %+v", calls)
	}
	if calls := f.rt.Calls(); calls[0].Cfg.Instructions != advisor.SystemPrompt(advisor.JobSeeker) {
		t.Error("voice session not prompted for job seekers")
	}

	f.rt.Sessions()[0].Emit(realtime.InputTranscriptCompleted{Text: "How do I stand out?"})
	waitFor(t, "user transcript", func() bool { return strings.Contains(out.String(), "you> How do I stand out?") })
	if !strings.Contains(out.String(), "[success] "+conversation.MsgConnected) {
		t.Errorf("connected notification missing from output:\n%s", out)
	}

	send("/stop")
	waitFor(t, "voice session closed", func() bool { return a.Voice().Status() != voice.StatusOpen })

	send("Should I list side projects?")
	waitFor(t, "chat reply", func() bool { return strings.Contains(out.String(), "advisor> Lead with measurable results.") })

	send("/quit")
	if err := waitRun(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConsole_SelectionCommands(t *testing.T) {
	t.Parallel()

	in, inW := io.Pipe()
	out := &syncBuffer{}
	a, _ := newApp(t, defaultConfig(t), nil, app.WithConsole(in, out))
	errc := runApp(context.Background(), a)

	for _, line := range []string{"/persona coral", "/mode recruiter", "/persona nobody", "/bogus"} {
		fmt.Fprintln(inW, line)
	}
	waitFor(t, "unknown command reply", func() bool { return strings.Contains(out.String(), "unknown command /bogus") })

	if a.Persona() != advisor.Coral {
		t.Errorf("Persona = %q, want coral", a.Persona())
	}
	if a.UserType() != advisor.Recruiter || a.Chat().UserType() != advisor.Recruiter {
		t.Errorf("UserType = %q / chat %q, want recruiter", a.UserType(), a.Chat().UserType())
	}
	if !strings.Contains(out.String(), "unknown persona") {
		t.Errorf("invalid persona not reported:\n%s", out)
	}

	inW.Close()
	if err := waitRun(t, errc); err != nil {
		t.Fatalf("Run after EOF: %v", err)
	}
}

func TestRun_HeadlessEndsWithSession(t *testing.T) {
	t.Parallel()

	a, f := newApp(t, defaultConfig(t), nil)
	errc := runApp(context.Background(), a)

	waitFor(t, "voice session open", func() bool { return a.Voice().Status() == voice.StatusOpen })
	s := f.rt.Sessions()[0]
	s.Emit(realtime.OutputTranscriptDone{Text: "Welcome!"})
	waitFor(t, "transcript entry", func() bool { return len(a.Voice().State().Messages) == 1 })
	s.Drop(nil)

	if err := waitRun(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_HeadlessStartFailure(t *testing.T) {
	t.Parallel()

	failing := credential.IssuerFunc(func(context.Context) (credential.Secret, error) {
		return credential.Secret{}, errors.New("401")
	})
	a, _ := newApp(t, defaultConfig(t), &app.Providers{Credential: failing})
	err := waitRun(t, runApp(context.Background(), a))
	if !errors.Is(err, voice.ErrCredential) {
		t.Errorf("Run err = %v, want ErrCredential", err)
	}
}

func TestHandler_StatusAndReadiness(t *testing.T) {
	t.Parallel()

	issuer := resilience.NewGuardedIssuer(
		credential.IssuerFunc(func(context.Context) (credential.Secret, error) {
			return credential.Secret{}, errors.New("503")
		}),
		resilience.BreakerConfig{MaxFailures: 1},
	)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "# metrics")
	})
	a, _ := newApp(t, defaultConfig(t), &app.Providers{Credential: issuer}, app.WithMetricsHandler(metrics))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get("/readyz"); resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz = %d before failures", resp.StatusCode)
	}
	if resp := get("/metrics"); resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d", resp.StatusCode)
	}

	if _, err := issuer.Issue(context.Background()); err == nil {
		t.Fatal("expected issue failure")
	}
	if resp := get("/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d with open breaker, want 503", resp.StatusCode)
	}

	resp := get("/status")
	var snap app.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if snap.Persona != string(advisor.DefaultPersona) || snap.UserType != string(advisor.JobSeeker) {
		t.Errorf("selection = %s/%s", snap.Persona, snap.UserType)
	}
	if snap.Voice.Status != "idle" || snap.Voice.Turn != "idle" {
		t.Errorf("voice = %+v", snap.Voice)
	}
	if snap.Breakers["credential"] != "open" {
		t.Errorf("breakers = %v", snap.Breakers)
	}
}

func TestRun_AppliesConfigReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "careercompass.yaml")
	if err := os.WriteFile(path, []byte("voice:\n  persona: sage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := config.NewWatcher(path, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	level := new(slog.LevelVar)
	in, inW := io.Pipe()
	a, _ := newApp(t, cfg, nil,
		app.WithWatcher(w), app.WithLevelVar(level), app.WithConsole(in, io.Discard))
	if a.Persona() != advisor.Sage {
		t.Fatalf("initial persona = %q", a.Persona())
	}
	errc := runApp(context.Background(), a)

	next := "server:\n  log_level: debug\nvoice:\n  persona: coral\n  user_type: recruiter\nchat:\n  temperature: 0.3\n"
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reload applied", func() bool {
		return a.Persona() == advisor.Coral && a.UserType() == advisor.Recruiter && level.Level() == slog.LevelDebug
	})

	inW.Close()
	if err := waitRun(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
