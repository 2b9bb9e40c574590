package resilience

import (
	"context"

	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
)

// LLMFailover is an [llm.Provider] that fails over across text-completion
// backends.
type LLMFailover struct {
	*Failover[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates an LLMFailover preferring primary.
func NewLLMFailover(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLMFailover {
	return &LLMFailover{NewFailover(primaryName, primary, cfg)}
}

// Complete sends req to the first healthy backend.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.Failover, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// GuardedIssuer puts a [Breaker] in front of a credential issuer.
type GuardedIssuer struct {
	issuer  credential.Issuer
	breaker *Breaker
}

var _ credential.Issuer = (*GuardedIssuer)(nil)

// NewGuardedIssuer wraps issuer.
func NewGuardedIssuer(issuer credential.Issuer, cfg BreakerConfig) *GuardedIssuer {
	if cfg.Name == "" {
		cfg.Name = "credential"
	}
	return &GuardedIssuer{issuer: issuer, breaker: NewBreaker(cfg)}
}

// Issue forwards to the wrapped issuer unless the breaker is open.
func (g *GuardedIssuer) Issue(ctx context.Context) (credential.Secret, error) {
	var s credential.Secret
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		s, err = g.issuer.Issue(ctx)
		return err
	})
	return s, err
}

// State reports the breaker state, for readiness probes.
func (g *GuardedIssuer) State() State { return g.breaker.State() }
