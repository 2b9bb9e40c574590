package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error when no backend of a [Failover] succeeded.
var ErrAllFailed = errors.New("resilience: all backends failed")

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds interchangeable backends tried in registration order. The
// backend list is fixed once calls start; register everything up front.
type Failover[T any] struct {
	cfg      BreakerConfig
	backends []backend[T]
}

// NewFailover creates a group whose first backend is primary. Each backend
// gets its own [Breaker] configured from cfg with Name set to the backend's
// name.
func NewFailover[T any](primaryName string, primary T, cfg BreakerConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a backend.
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Names lists the backends in order.
func (f *Failover[T]) Names() []string {
	out := make([]string, len(f.backends))
	for i, b := range f.backends {
		out[i] = b.name
	}
	return out
}

// States reports each backend's breaker state keyed by name.
func (f *Failover[T]) States() map[string]State {
	out := make(map[string]State, len(f.backends))
	for _, b := range f.backends {
		out[b.name] = b.breaker.State()
	}
	return out
}

// Do calls fn on each backend until one succeeds. It stops early when ctx is
// done. Go methods cannot take type parameters, hence the free function.
func Do[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, b := range f.backends {
		var out R
		err := b.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, b.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend", "backend", b.name)
			continue
		}
		slog.Warn("resilience: backend failed", "backend", b.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
