// Package credential obtains the short-lived secrets that authenticate a
// realtime voice session.
//
// A secret is scoped to one session and must never be reused: callers ask the
// [Issuer] for a fresh one on every connect. Three issuers are provided:
//
//   - [EdgeFunction] calls a hosted backend function that mints the secret
//     server-side, so the client never sees a long-lived API key.
//   - [OpenAISessions] mints an ephemeral key directly from the OpenAI REST
//     API with a long-lived key held locally (development setups).
//   - [Static] returns a fixed value (tests and manual debugging).
package credential

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySecret is returned when the issuing service answers without a
// usable secret.
var ErrEmptySecret = errors.New("credential: empty client secret")

// Secret is a short-lived session credential.
type Secret struct {
	Value string

	// ExpiresAt is zero when the issuer did not report an expiry.
	ExpiresAt time.Time
}

// Expired reports whether the secret has expired at now.
func (s Secret) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Issuer hands out one fresh secret per call.
type Issuer interface {
	Issue(ctx context.Context) (Secret, error)
}

// IssuerFunc adapts a function to the [Issuer] interface.
type IssuerFunc func(ctx context.Context) (Secret, error)

// Issue calls f.
func (f IssuerFunc) Issue(ctx context.Context) (Secret, error) { return f(ctx) }

// Static returns an Issuer that always yields value.
func Static(value string) Issuer {
	return IssuerFunc(func(ctx context.Context) (Secret, error) {
		if err := ctx.Err(); err != nil {
			return Secret{}, err
		}
		if value == "" {
			return Secret{}, ErrEmptySecret
		}
		return Secret{Value: value}, nil
	})
}

// clientSecretResponse is the body shared by both hosted issuers:
// {"client_secret":{"value":"ek_...","expires_at":1735689600}}.
type clientSecretResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (r clientSecretResponse) secret() (Secret, error) {
	if r.ClientSecret.Value == "" {
		return Secret{}, ErrEmptySecret
	}
	s := Secret{Value: r.ClientSecret.Value}
	if r.ClientSecret.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(r.ClientSecret.ExpiresAt, 0)
	}
	return s, nil
}
