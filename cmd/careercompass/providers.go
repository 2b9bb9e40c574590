package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/careercompass/internal/app"
	"github.com/MrWong99/careercompass/internal/config"
	"github.com/MrWong99/careercompass/internal/observe"
	"github.com/MrWong99/careercompass/internal/resilience"
	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
	"github.com/MrWong99/careercompass/pkg/provider/llm/anyllm"
	"github.com/MrWong99/careercompass/pkg/provider/llm/edge"
	llmopenai "github.com/MrWong99/careercompass/pkg/provider/llm/openai"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
	rtopenai "github.com/MrWong99/careercompass/pkg/provider/realtime/openai"
)

// defaultChatModel is used by the openai text provider when no model is set.
const defaultChatModel = "gpt-4o-mini"

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Realtime ──────────────────────────────────────────────────────────────

	reg.RegisterRealtime("openai", func(entry config.ProviderEntry) (realtime.Provider, error) {
		return rtopenai.New(
			rtopenai.WithModel(entry.Model),
			rtopenai.WithBaseURL(entry.BaseURL),
		), nil
	})

	// ── Credentials ───────────────────────────────────────────────────────────

	reg.RegisterCredential("openai", func(entry config.ProviderEntry) (credential.Issuer, error) {
		if entry.APIKey == "" {
			return nil, errors.New("api_key is required to mint session keys")
		}
		model := entry.Model
		if model == "" {
			model = rtopenai.DefaultModel
		}
		return credential.NewOpenAISessions(entry.APIKey, model, entry.StringOption("voice"),
			credential.WithOpenAIBaseURL(entry.BaseURL)), nil
	})

	// edge calls a hosted function that holds the service key; api_key is the
	// project's public anonymous key.
	reg.RegisterCredential("edge", func(entry config.ProviderEntry) (credential.Issuer, error) {
		return credential.NewEdgeFunction(entry.BaseURL, entry.APIKey,
			credential.WithFunctionName(entry.StringOption("function")),
			credential.WithAccessToken(entry.StringOption("access_token")),
		), nil
	})

	reg.RegisterCredential("static", func(entry config.ProviderEntry) (credential.Issuer, error) {
		return credential.Static(entry.APIKey), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm-go backend shares the same pattern: optional APIKey and
	// optional BaseURL. openai is served by the native SDK instead.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultChatModel
		}
		return llmopenai.New(entry.APIKey, model,
			llmopenai.WithBaseURL(entry.BaseURL),
			llmopenai.WithOrganization(entry.StringOption("organization")),
		)
	})

	reg.RegisterLLM("edge", func(entry config.ProviderEntry) (llm.Provider, error) {
		return edge.New(entry.BaseURL, entry.APIKey,
			edge.WithFunctionName(entry.StringOption("function")),
			edge.WithAccessToken(entry.StringOption("access_token")),
		)
	})

	for _, kind := range []string{"realtime", "credential", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg and wraps the
// credential issuer and text backends in circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p := cfg.Providers
	ps := &app.Providers{LLMName: p.LLM.Name}

	rt, err := reg.CreateRealtime(p.Realtime)
	if err != nil {
		return nil, fmt.Errorf("create realtime provider %q: %w", p.Realtime.Name, err)
	}
	ps.Realtime = rt
	slog.Info("provider created", "kind", "realtime", "name", p.Realtime.Name)

	credEntry := p.Credential
	if credEntry.Model == "" {
		// Session keys are minted for the model the transport will request.
		credEntry.Model = p.Realtime.Model
	}
	issuer, err := reg.CreateCredential(credEntry)
	if err != nil {
		return nil, fmt.Errorf("create credential issuer %q: %w", credEntry.Name, err)
	}
	ps.Credential = resilience.NewGuardedIssuer(issuer, resilience.BreakerConfig{
		Name:          "credential",
		OnStateChange: countBreaker,
	})
	slog.Info("provider created", "kind", "credential", "name", credEntry.Name)

	primary, err := reg.CreateLLM(p.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", p.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", p.LLM.Name, "model", p.LLM.Model)
	ps.LLM = primary

	if p.LLMFallback.Enabled() {
		fallback, err := reg.CreateLLM(p.LLMFallback)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", p.LLMFallback.Name, err)
		}
		fo := resilience.NewLLMFailover(p.LLM.Name, primary, resilience.BreakerConfig{OnStateChange: countBreaker})
		fallbackName := p.LLMFallback.Name
		if fallbackName == p.LLM.Name {
			fallbackName += "-fallback"
		}
		fo.Add(fallbackName, fallback)
		ps.LLM = fo
		slog.Info("provider created", "kind", "llm_fallback", "name", p.LLMFallback.Name, "model", p.LLMFallback.Model, "chain", fo.Names())
	}
	return ps, nil
}

// countBreaker records breaker transitions as metrics. The breaker logs the
// transition itself.
func countBreaker(name string, _, to resilience.State) {
	observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, to.String())
}
