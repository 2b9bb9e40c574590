// Package textchat implements the typed conversation with the advisor. It
// shares the transcript model of the voice path but talks to a text
// completion provider: every request carries the full history plus the
// system prompt for the selected audience.
package textchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/internal/conversation"
	"github.com/MrWong99/careercompass/internal/observe"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
)

var (
	// ErrBusy is returned by Send while a request is in flight.
	ErrBusy = errors.New("textchat: a request is already in flight")

	// ErrCleared is returned when the conversation was cleared while a
	// request was in flight. The late reply is discarded.
	ErrCleared = errors.New("textchat: conversation cleared")
)

// Option configures a [Chat].
type Option func(*Chat)

// WithNotifier sets the notification sink. Default conversation.Discard.
func WithNotifier(n conversation.Notifier) Option {
	return func(c *Chat) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithMetrics sets the metrics. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Chat) { c.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chat) { c.log = l }
}

// WithSampling sets temperature and max tokens for every request. Zero
// values leave the provider defaults.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(c *Chat) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithProviderName labels metrics. Default "llm".
func WithProviderName(name string) Option {
	return func(c *Chat) { c.providerName = name }
}

// Chat is a single text conversation. All methods are safe for concurrent
// use.
type Chat struct {
	provider     llm.Provider
	providerName string
	notifier     conversation.Notifier
	metrics      *observe.Metrics
	log          *slog.Logger

	mu          sync.Mutex
	temperature float64
	maxTokens   int
	messages    []conversation.Entry
	loading     bool
	initiated   bool
	userType    advisor.UserType
	gen         uint64 // bumped by Clear
}

// New creates an empty Chat backed by provider.
func New(provider llm.Provider, opts ...Option) *Chat {
	c := &Chat{
		provider:     provider,
		providerName: "llm",
		notifier:     conversation.Discard,
		log:          slog.Default(),
		userType:     advisor.JobSeeker,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Initiate asks the advisor to open the conversation for audience u. The
// reply replaces the transcript. It is a no-op returning a zero Entry and nil
// if the conversation was already initiated or a request is in flight. On
// failure the chat can be initiated again.
func (c *Chat) Initiate(ctx context.Context, u advisor.UserType) (conversation.Entry, error) {
	c.mu.Lock()
	if c.initiated || c.loading {
		c.mu.Unlock()
		return conversation.Entry{}, nil
	}
	c.initiated = true
	c.userType = u
	c.loading = true
	temp, maxTokens := c.temperature, c.maxTokens
	gen := c.gen
	c.mu.Unlock()

	greeting := []llm.Message{{Role: llm.RoleUser, Content: advisor.GreetingPrompt(u)}}
	reply, err := c.complete(ctx, greeting, u, temp, maxTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if gen != c.gen {
		return conversation.Entry{}, ErrCleared
	}
	if err != nil {
		c.initiated = false
		c.log.Error("textchat: initiate conversation", "err", err)
		c.notifier.Notify(conversation.Notification{Level: conversation.LevelError, Message: conversation.MsgInitiateFailed})
		return conversation.Entry{}, fmt.Errorf("textchat: initiate: %w", err)
	}
	entry := conversation.Entry{Role: conversation.RoleAssistant, Content: reply}
	c.messages = []conversation.Entry{entry}
	return entry, nil
}

// Send appends the user's message and the advisor's reply. Leading and
// trailing whitespace is trimmed; an empty message is ignored. The user
// message stays in the transcript even when the request fails.
func (c *Chat) Send(ctx context.Context, content string) (conversation.Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return conversation.Entry{}, nil
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return conversation.Entry{}, ErrBusy
	}
	c.messages = append(c.messages, conversation.Entry{Role: conversation.RoleUser, Content: content})
	history := toLLM(c.messages)
	u := c.userType
	temp, maxTokens := c.temperature, c.maxTokens
	c.loading = true
	gen := c.gen
	c.mu.Unlock()

	reply, err := c.complete(ctx, history, u, temp, maxTokens)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if gen != c.gen {
		return conversation.Entry{}, ErrCleared
	}
	if err != nil {
		c.log.Error("textchat: send message", "err", err)
		c.notifier.Notify(conversation.Notification{Level: conversation.LevelError, Message: conversation.MsgResponseFailed})
		return conversation.Entry{}, fmt.Errorf("textchat: send: %w", err)
	}
	entry := conversation.Entry{Role: conversation.RoleAssistant, Content: reply}
	c.messages = append(c.messages, entry)
	return entry, nil
}

// Clear drops the transcript and allows a new greeting.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.initiated = false
	c.loading = false
	c.gen++
}

// Messages returns a copy of the transcript.
func (c *Chat) Messages() []conversation.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]conversation.Entry, len(c.messages))
	copy(out, c.messages)
	return out
}

// Loading reports whether a request is in flight.
func (c *Chat) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// UserType returns the audience of the conversation.
func (c *Chat) UserType() advisor.UserType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userType
}

// SetUserType switches the audience for subsequent Send calls. The greeting
// is not repeated; call Clear first for a fresh conversation.
func (c *Chat) SetUserType(u advisor.UserType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userType = u
}

// SetSampling replaces the values given to [WithSampling]. Requests already
// in flight keep the old values.
func (c *Chat) SetSampling(temperature float64, maxTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = temperature
	c.maxTokens = maxTokens
}

func (c *Chat) complete(ctx context.Context, history []llm.Message, u advisor.UserType, temperature float64, maxTokens int) (string, error) {
	ctx, span := observe.StartSpan(ctx, "textchat.complete")
	defer span.End()

	start := time.Now()
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     history,
		SystemPrompt: advisor.SystemPrompt(u),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	})
	if err == nil && (resp == nil || resp.Content == "") {
		err = errors.New("empty completion")
	}
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		c.metrics.RecordProviderError(ctx, c.providerName, "llm")
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", status)
	c.metrics.CompletionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Debug("textchat: completion", "tokens", resp.Usage.TotalTokens, "duration", time.Since(start))
	return resp.Content, nil
}

func toLLM(entries []conversation.Entry) []llm.Message {
	out := make([]llm.Message, len(entries))
	for i, e := range entries {
		out[i] = llm.Message{Role: string(e.Role), Content: e.Content}
	}
	return out
}
