package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists for the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(e ProviderEntry) (T, error) {
	fn, ok := f.m[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	v, err := fn(e)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%s: %w", f.kind, e.Name, err)
	}
	return v, nil
}

// Registry maps provider names to factories for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	realtime   factories[realtime.Provider]
	credential factories[credential.Issuer]
	llm        factories[llm.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		realtime:   factories[realtime.Provider]{kind: "realtime", m: map[string]Factory[realtime.Provider]{}},
		credential: factories[credential.Issuer]{kind: "credential", m: map[string]Factory[credential.Issuer]{}},
		llm:        factories[llm.Provider]{kind: "llm", m: map[string]Factory[llm.Provider]{}},
	}
}

// RegisterRealtime registers a realtime session provider. A later call with
// the same name replaces the earlier one.
func (r *Registry) RegisterRealtime(name string, f Factory[realtime.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime.m[name] = f
}

// RegisterCredential registers a credential issuer.
func (r *Registry) RegisterCredential(name string, f Factory[credential.Issuer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credential.m[name] = f
}

// RegisterLLM registers a text-completion provider.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// CreateRealtime builds the realtime provider selected by e.Name.
func (r *Registry) CreateRealtime(e ProviderEntry) (realtime.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.realtime.create(e)
}

// CreateCredential builds the credential issuer selected by e.Name.
func (r *Registry) CreateCredential(e ProviderEntry) (credential.Issuer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.credential.create(e)
}

// CreateLLM builds the text-completion provider selected by e.Name.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(e)
}

// Names returns the sorted registered names for kind ("realtime",
// "credential" or "llm").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "realtime":
		out = keys(r.realtime.m)
	case "credential":
		out = keys(r.credential.m)
	case "llm":
		out = keys(r.llm.m)
	}
	slices.Sort(out)
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
