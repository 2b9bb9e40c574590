package credential

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	_ Issuer = (*EdgeFunction)(nil)
	_ Issuer = (*OpenAISessions)(nil)
)

const (
	defaultEdgeFunction   = "realtime-session"
	defaultOpenAIBaseURL  = "https://api.openai.com"
	defaultRequestTimeout = 15 * time.Second
)

// ── EdgeFunction ──────────────────────────────────────────────────────────────

// EdgeOption configures an [EdgeFunction].
type EdgeOption func(*EdgeFunction)

// WithFunctionName overrides the function invoked. Default "realtime-session".
func WithFunctionName(name string) EdgeOption {
	return func(e *EdgeFunction) {
		if name != "" {
			e.function = name
		}
	}
}

// WithAccessToken authenticates as a signed-in user instead of with the
// anonymous key.
func WithAccessToken(token string) EdgeOption {
	return func(e *EdgeFunction) { e.accessToken = token }
}

// WithEdgeHTTPClient sets the underlying HTTP client.
func WithEdgeHTTPClient(c *http.Client) EdgeOption {
	return func(e *EdgeFunction) { e.httpClient = c }
}

// EdgeFunction invokes a hosted backend function
// (POST {baseURL}/functions/v1/{name}) that returns a session secret.
type EdgeFunction struct {
	baseURL     string
	anonKey     string
	accessToken string
	function    string
	httpClient  *http.Client

	client *resty.Client
}

// NewEdgeFunction returns an issuer for the backend at baseURL, authenticated
// with the project's public anonymous key.
func NewEdgeFunction(baseURL, anonKey string, opts ...EdgeOption) *EdgeFunction {
	e := &EdgeFunction{
		baseURL:  strings.TrimRight(baseURL, "/"),
		anonKey:  anonKey,
		function: defaultEdgeFunction,
	}
	for _, o := range opts {
		o(e)
	}
	e.client = newRestyClient(e.httpClient).
		SetBaseURL(e.baseURL).
		SetHeader("apikey", anonKey)
	return e
}

// Issue implements [Issuer].
func (e *EdgeFunction) Issue(ctx context.Context) (Secret, error) {
	token := e.accessToken
	if token == "" {
		token = e.anonKey
	}
	var out clientSecretResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{}).
		SetResult(&out).
		Post("/functions/v1/" + e.function)
	if err != nil {
		return Secret{}, fmt.Errorf("credential: invoke %s: %w", e.function, err)
	}
	if resp.IsError() {
		return Secret{}, fmt.Errorf("credential: invoke %s: status %d: %s", e.function, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	s, err := out.secret()
	if err != nil {
		return Secret{}, fmt.Errorf("credential: invoke %s: %w", e.function, err)
	}
	return s, nil
}

// ── OpenAISessions ────────────────────────────────────────────────────────────

// OpenAIOption configures an [OpenAISessions] issuer.
type OpenAIOption func(*OpenAISessions)

// WithOpenAIBaseURL overrides the REST base URL. Primarily used in tests.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(o *OpenAISessions) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithOpenAIHTTPClient sets the underlying HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAISessions) { o.httpClient = c }
}

// OpenAISessions mints ephemeral realtime keys via POST /v1/realtime/sessions.
type OpenAISessions struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client

	client *resty.Client
}

// NewOpenAISessions returns an issuer that mints ephemeral keys for model and
// voice using the long-lived apiKey.
func NewOpenAISessions(apiKey, model, voice string, opts ...OpenAIOption) *OpenAISessions {
	o := &OpenAISessions{
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		baseURL: defaultOpenAIBaseURL,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.client = newRestyClient(o.httpClient).
		SetBaseURL(o.baseURL).
		SetAuthToken(apiKey)
	return o
}

type openAISessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

// Issue implements [Issuer].
func (o *OpenAISessions) Issue(ctx context.Context) (Secret, error) {
	var out clientSecretResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(openAISessionRequest{Model: o.model, Voice: o.voice}).
		SetResult(&out).
		Post("/v1/realtime/sessions")
	if err != nil {
		return Secret{}, fmt.Errorf("credential: create realtime session: %w", err)
	}
	if resp.IsError() {
		return Secret{}, fmt.Errorf("credential: create realtime session: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	s, err := out.secret()
	if err != nil {
		return Secret{}, fmt.Errorf("credential: create realtime session: %w", err)
	}
	return s, nil
}

func newRestyClient(hc *http.Client) *resty.Client {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New().SetTimeout(defaultRequestTimeout)
	}
	return c.SetHeader("Content-Type", "application/json")
}
