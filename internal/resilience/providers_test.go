package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
	llmmock "github.com/MrWong99/careercompass/pkg/provider/llm/mock"
)

func TestLLMFailover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		primaryErr  error
		fallbackErr error
		want        string
		wantErr     error
	}{
		{name: "primary answers", want: "from openai"},
		{name: "falls over", primaryErr: errBoom, want: "from edge"},
		{name: "both fail", primaryErr: errBoom, fallbackErr: errors.New("502"), wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary, fallback := &llmmock.Provider{}, &llmmock.Provider{}
			primary.Respond("from openai", tt.primaryErr)
			fallback.Respond("from edge", tt.fallbackErr)

			f := NewLLMFailover("openai", primary, BreakerConfig{MaxFailures: 5})
			f.Add("edge", fallback)

			resp, err := f.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "sys"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if got := fallback.CompleteCalls(); tt.primaryErr != nil && (len(got) != 1 || got[0].Req.SystemPrompt != "sys") {
				t.Errorf("fallback calls = %+v", got)
			}
		})
	}
}

func TestLLMFailover_SkipsOpenBackend(t *testing.T) {
	t.Parallel()

	primary, fallback := &llmmock.Provider{}, &llmmock.Provider{}
	primary.Respond("", errBoom)
	fallback.Respond("ok", nil)

	f := NewLLMFailover("primary", primary, BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	f.Add("fallback", fallback)

	for range 3 {
		if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if n := len(primary.CompleteCalls()); n != 1 {
		t.Errorf("primary calls = %d, want 1 (breaker should stay open)", n)
	}
	if st := f.States(); st["primary"] != StateOpen || st["fallback"] != StateClosed {
		t.Errorf("states = %v", st)
	}
	if names := f.Names(); len(names) != 2 || names[0] != "primary" {
		t.Errorf("names = %v", names)
	}
}

func TestLLMFailover_StopsOnCancel(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Block: make(chan struct{})}
	fallback := &llmmock.Provider{}
	f := NewLLMFailover("primary", primary, BreakerConfig{})
	f.Add("fallback", fallback)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if n := len(fallback.CompleteCalls()); n != 0 {
		t.Errorf("fallback called %d times after cancellation", n)
	}
}

func TestGuardedIssuer(t *testing.T) {
	t.Parallel()

	calls := 0
	issuer := credential.IssuerFunc(func(context.Context) (credential.Secret, error) {
		calls++
		if calls <= 2 {
			return credential.Secret{}, errors.New("503")
		}
		return credential.Secret{Value: "ek_ok"}, nil
	})
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGuardedIssuer(issuer, BreakerConfig{MaxFailures: 2, Cooldown: time.Minute, Now: clk.Now})
	ctx := context.Background()

	for range 2 {
		if _, err := g.Issue(ctx); err == nil {
			t.Fatal("expected failure")
		}
	}
	if _, err := g.Issue(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 || g.State() != StateOpen {
		t.Fatalf("calls=%d state=%v", calls, g.State())
	}

	clk.Advance(time.Minute)
	s, err := g.Issue(ctx)
	if err != nil || s.Value != "ek_ok" {
		t.Fatalf("Issue after cooldown = %+v, %v", s, err)
	}
	if g.State() != StateClosed {
		t.Errorf("state = %v", g.State())
	}
}
