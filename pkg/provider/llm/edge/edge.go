// Package edge provides an LLM provider that delegates chat completions to a
// hosted backend function. The function holds the upstream model credentials;
// the client only ships the conversation and the system prompt.
//
// Wire contract (POST {baseURL}/functions/v1/{name}):
//
//	request:  {"messages":[{"role":"user","content":"..."}],"systemPrompt":"..."}
//	response: {"response":"..."}
package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MrWong99/careercompass/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

const (
	// DefaultFunction is the function invoked when none is configured.
	DefaultFunction = "text-chat"

	defaultTimeout = 60 * time.Second
)

// ErrEmptyResponse is returned when the function answers without content.
var ErrEmptyResponse = errors.New("edge: empty response")

// Option is a functional option for Provider.
type Option func(*Provider)

// WithFunctionName overrides the invoked function. Default "text-chat".
func WithFunctionName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.function = name
		}
	}
}

// WithAccessToken authenticates as a signed-in user instead of with the
// anonymous key.
func WithAccessToken(token string) Option {
	return func(p *Provider) { p.accessToken = token }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTimeout sets a per-request timeout. Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider implements llm.Provider against a hosted chat function.
type Provider struct {
	anonKey     string
	accessToken string
	function    string
	timeout     time.Duration
	httpClient  *http.Client

	client *resty.Client
}

// New returns a Provider for the backend at baseURL.
func New(baseURL, anonKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("edge: baseURL must not be empty")
	}
	p := &Provider{
		anonKey:  anonKey,
		function: DefaultFunction,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}

	if p.httpClient != nil {
		p.client = resty.NewWithClient(p.httpClient)
	} else {
		p.client = resty.New().SetTimeout(p.timeout)
	}
	p.client.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if anonKey != "" {
		p.client.SetHeader("apikey", anonKey)
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages     []chatMessage `json:"messages"`
	SystemPrompt string        `json:"systemPrompt"`
}

type chatResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Complete implements llm.Provider. Temperature and MaxTokens are decided by
// the hosted function and are not forwarded.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := chatRequest{
		Messages:     make([]chatMessage, 0, len(req.Messages)),
		SystemPrompt: req.SystemPrompt,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	token := p.accessToken
	if token == "" {
		token = p.anonKey
	}

	var out chatResponse
	r := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out)
	if token != "" {
		r.SetAuthToken(token)
	}
	resp, err := r.Post("/functions/v1/" + p.function)
	if err != nil {
		return nil, fmt.Errorf("edge: invoke %s: %w", p.function, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("edge: invoke %s: status %d: %s", p.function, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.Error != "" {
		return nil, fmt.Errorf("edge: invoke %s: %s", p.function, out.Error)
	}
	if out.Response == "" {
		return nil, fmt.Errorf("edge: invoke %s: %w", p.function, ErrEmptyResponse)
	}
	return &llm.CompletionResponse{Content: out.Response}, nil
}
