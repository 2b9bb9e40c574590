// Package app wires the voice controller, the typed chat, the console and the
// local status server into one process and owns their lifetimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/internal/config"
	"github.com/MrWong99/careercompass/internal/conversation"
	"github.com/MrWong99/careercompass/internal/health"
	"github.com/MrWong99/careercompass/internal/observe"
	"github.com/MrWong99/careercompass/internal/textchat"
	"github.com/MrWong99/careercompass/internal/voice"
	"github.com/MrWong99/careercompass/pkg/audio"
	"github.com/MrWong99/careercompass/pkg/audio/malgo"
	"github.com/MrWong99/careercompass/pkg/audio/oto"
	"github.com/MrWong99/careercompass/pkg/audio/pcmio"
	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
)

// serverShutdownTimeout bounds the status server's graceful stop.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one value per remote service. Populated by main.go via the
// config registry.
type Providers struct {
	Realtime   realtime.Provider
	Credential credential.Issuer
	LLM        llm.Provider

	// LLMName labels text-completion metrics. Default "llm".
	LLMName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	watcher        *config.Watcher

	mic   audio.Microphone
	clock audio.Clock
	sink  audio.Sink

	in  io.Reader
	out io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	voice   *voice.Controller
	chat    *textchat.Chat
	console *console
	handler http.Handler
	server  *http.Server

	mu          sync.Mutex
	persona     advisor.Persona
	userType    advisor.UserType
	chatTimeout time.Duration

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMicrophone replaces the file-backed microphone from the audio config.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithPlayback replaces the wall clock and file-backed sink.
func WithPlayback(clock audio.Clock, sink audio.Sink) Option {
	return func(a *App) {
		a.clock = clock
		a.sink = sink
	}
}

// WithMetrics sets the instruments. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics on the status server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatcher applies reloads reported by w while the app runs.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithConsole enables the interactive console reading commands from in and
// printing to out. Without a console the app runs one voice session
// headless.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, err
	}
	a := &App{
		cfg:         cfg,
		providers:   providers,
		chatTimeout: cfg.Chat.ChatTimeout(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var err error
	if a.persona, err = advisor.ParsePersona(cfg.Voice.Persona); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.userType, err = advisor.ParseUserType(cfg.Voice.UserType); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Console ───────────────────────────────────────────────────────
	if a.in != nil {
		if a.out == nil {
			a.out = io.Discard
		}
		a.console = newConsole(a, a.in, a.out)
	}

	// ── 2. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Voice controller ──────────────────────────────────────────────
	a.voice, err = voice.New(voice.Config{
		Credentials: providers.Credential,
		Realtime:    providers.Realtime,
		Microphone:  a.mic,
		Clock:       a.clock,
		Sink:        a.sink,
		VAD: realtime.VADConfig{
			Threshold:       cfg.Voice.VAD.Threshold,
			PrefixPadding:   time.Duration(cfg.Voice.VAD.PrefixPaddingMS) * time.Millisecond,
			SilenceDuration: time.Duration(cfg.Voice.VAD.SilenceDurationMS) * time.Millisecond,
		},
		TranscriptionModel: cfg.Voice.TranscriptionModel,
		BlockSize:          cfg.Audio.BlockSize,
		Notifier:           conversation.NotifierFunc(a.notify),
		Metrics:            a.metrics,
	})
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	a.closers = append([]func() error{func() error { a.voice.Stop(); return nil }}, a.closers...)

	// ── 4. Text chat ─────────────────────────────────────────────────────
	llmName := providers.LLMName
	if llmName == "" {
		llmName = "llm"
	}
	a.chat = textchat.New(providers.LLM,
		textchat.WithNotifier(conversation.NotifierFunc(a.notify)),
		textchat.WithMetrics(a.metrics),
		textchat.WithSampling(cfg.Chat.Temperature, cfg.Chat.MaxTokens),
		textchat.WithProviderName(llmName),
	)
	a.chat.SetUserType(a.userType)

	// ── 5. Status server ─────────────────────────────────────────────────
	a.handler = a.buildHandler()
	if addr := cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.Realtime == nil {
		errs = append(errs, errors.New("realtime provider is not configured"))
	}
	if p.Credential == nil {
		errs = append(errs, errors.New("credential issuer is not configured"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("llm provider is not configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudio builds the devices selected by the audio config unless test
// doubles were injected.
func (a *App) initAudio() error {
	ac := a.cfg.Audio
	if ac.Backend == config.AudioDevice {
		return a.initDeviceAudio()
	}
	if a.mic == nil {
		a.mic = &pcmio.Microphone{
			Path:       ac.InputPath,
			SampleRate: ac.InputSampleRate,
			Channels:   ac.InputChannels,
			Realtime:   ac.PaceInput,
		}
	}
	if a.clock == nil {
		a.clock = pcmio.NewClock()
	}
	if a.sink == nil {
		var w io.Writer = io.Discard
		if ac.OutputPath != "" {
			f, err := os.Create(ac.OutputPath)
			if err != nil {
				return fmt.Errorf("open output %q: %w", ac.OutputPath, err)
			}
			a.closers = append(a.closers, f.Close)
			w = f
		}
		out := audio.Format{SampleRate: ac.OutputSampleRate, Channels: 1}
		a.sink = pcmio.NewSink(w, a.clock, out, slog.Default())
	}
	return nil
}

// initDeviceAudio opens the default microphone and speaker.
func (a *App) initDeviceAudio() error {
	ac := a.cfg.Audio
	if a.mic == nil {
		a.mic = &malgo.Microphone{SampleRate: ac.InputSampleRate, Channels: ac.InputChannels}
	}
	if a.clock == nil && a.sink == nil {
		speaker, err := oto.Open(audio.Format{SampleRate: ac.OutputSampleRate, Channels: 1}, 0)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, speaker.Close)
		a.clock, a.sink = speaker, speaker
	}
	if a.clock == nil || a.sink == nil {
		return errors.New("clock and sink must be injected together")
	}
	return nil
}

// buildHandler assembles the status server routes.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.readinessChecks(), health.WithStatus(func() any { return a.Status() })).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics, "/healthz", "/readyz", "/metrics")(mux)
}

// Handler returns the status server's root handler.
func (a *App) Handler() http.Handler { return a.handler }

// Voice returns the voice controller.
func (a *App) Voice() *voice.Controller { return a.voice }

// Chat returns the typed chat.
func (a *App) Chat() *textchat.Chat { return a.chat }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the status endpoints, applies config reloads and drives either
// the console or one headless voice session. It blocks until ctx is
// cancelled, the console quits or the headless session ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("status server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer scancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx, a.applyConfig) })
	}

	g.Go(func() error {
		defer cancel()
		if a.console != nil {
			return a.console.run(ctx)
		}
		return a.runHeadless(ctx)
	})

	slog.Info("app running", "persona", a.Persona(), "user_type", a.UserType(), "console", a.console != nil)
	return g.Wait()
}

// runHeadless starts one voice session and returns when it ends or ctx is
// done. Transcript entries are logged.
func (a *App) runHeadless(ctx context.Context) error {
	ended := make(chan struct{})
	var once sync.Once
	printed, wasConnected := 0, false
	unsubscribe := a.voice.Subscribe(func(s conversation.State) {
		for _, e := range s.Messages[min(printed, len(s.Messages)):] {
			slog.Info("transcript", "role", e.Role, "content", e.Content)
		}
		printed = len(s.Messages)
		if s.Connected {
			wasConnected = true
		} else if wasConnected && !s.Connecting {
			once.Do(func() { close(ended) })
		}
	})
	defer unsubscribe()

	if err := a.voice.Start(ctx, a.Persona(), a.UserType()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: start voice session: %w", err)
	}
	select {
	case <-ctx.Done():
		a.voice.Stop()
	case <-ended:
		slog.Info("voice session ended")
	}
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfig applies the hot-reloadable part of a config change.
func (a *App) applyConfig(_, next *config.Config, d config.Diff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		if p, err := advisor.ParsePersona(d.NewPersona); err == nil {
			a.SetPersona(p)
		}
	}
	if d.UserTypeChanged {
		if u, err := advisor.ParseUserType(d.NewUserType); err == nil {
			a.SetUserType(u)
		}
	}
	if d.ChatChanged {
		a.chat.SetSampling(next.Chat.Temperature, next.Chat.MaxTokens)
		a.mu.Lock()
		a.chatTimeout = next.Chat.ChatTimeout()
		a.mu.Unlock()
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change takes effect after restart", "section", section)
	}
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
}

// ─── Selections ──────────────────────────────────────────────────────────────

// Persona returns the persona used by the next voice session.
func (a *App) Persona() advisor.Persona {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persona
}

// SetPersona selects the persona for the next voice session.
func (a *App) SetPersona(p advisor.Persona) {
	a.mu.Lock()
	a.persona = p
	a.mu.Unlock()
	slog.Info("persona selected", "persona", p)
}

// UserType returns the audience for new sessions and chat requests.
func (a *App) UserType() advisor.UserType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userType
}

// SetUserType switches the audience for the next voice session and the chat.
func (a *App) SetUserType(u advisor.UserType) {
	a.mu.Lock()
	a.userType = u
	a.mu.Unlock()
	a.chat.SetUserType(u)
	slog.Info("user type selected", "user_type", u)
}

func (a *App) chatContext(ctx context.Context) (context.Context, context.CancelFunc) {
	a.mu.Lock()
	d := a.chatTimeout
	a.mu.Unlock()
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// notify routes user-facing notifications to the console, or to the log when
// running headless.
func (a *App) notify(n conversation.Notification) {
	if a.console != nil {
		a.console.notify(n)
		return
	}
	level := slog.LevelInfo
	if n.Level == conversation.LevelError {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "notification", "level", n.Level, "message", n.Message)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the voice session and releases resources. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("status server shutdown error", "err", err)
			}
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New already opened.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
