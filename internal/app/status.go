package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/careercompass/internal/health"
	"github.com/MrWong99/careercompass/internal/resilience"
)

// VoiceStatus describes the voice session for /status.
type VoiceStatus struct {
	Status       string `json:"status"`
	SessionID    string `json:"session_id,omitempty"`
	Turn         string `json:"turn"`
	Connected    bool   `json:"connected"`
	Connecting   bool   `json:"connecting"`
	Messages     int    `json:"messages"`
	QueuedChunks int    `json:"queued_chunks"`
}

// ChatStatus describes the typed chat for /status.
type ChatStatus struct {
	Loading  bool `json:"loading"`
	Messages int  `json:"messages"`
}

// Snapshot is the JSON document served at /status.
type Snapshot struct {
	Persona  string            `json:"persona"`
	UserType string            `json:"user_type"`
	Voice    VoiceStatus       `json:"voice"`
	Chat     ChatStatus        `json:"chat"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

type breakerGuarded interface {
	State() resilience.State
}

type failoverGuarded interface {
	States() map[string]resilience.State
}

// Status returns a point-in-time snapshot of the app.
func (a *App) Status() Snapshot {
	st := a.voice.State()
	snap := Snapshot{
		Persona:  string(a.Persona()),
		UserType: string(a.UserType()),
		Voice: VoiceStatus{
			Status:       a.voice.Status().String(),
			SessionID:    a.voice.SessionID(),
			Turn:         st.Turn().String(),
			Connected:    st.Connected,
			Connecting:   st.Connecting,
			Messages:     len(st.Messages),
			QueuedChunks: a.voice.QueuedChunks(),
		},
		Chat: ChatStatus{
			Loading:  a.chat.Loading(),
			Messages: len(a.chat.Messages()),
		},
	}
	if g, ok := a.providers.Credential.(breakerGuarded); ok {
		snap.Breakers = map[string]string{"credential": g.State().String()}
	}
	if f, ok := a.providers.LLM.(failoverGuarded); ok {
		if snap.Breakers == nil {
			snap.Breakers = map[string]string{}
		}
		for name, s := range f.States() {
			snap.Breakers["llm/"+name] = s.String()
		}
	}
	return snap
}

// readinessChecks reports the app unready while a guarded provider cannot
// take requests.
func (a *App) readinessChecks() []health.Checker {
	var checks []health.Checker
	if g, ok := a.providers.Credential.(breakerGuarded); ok {
		checks = append(checks, health.Checker{
			Name: "credential",
			Check: func(context.Context) error {
				if g.State() == resilience.StateOpen {
					return resilience.ErrCircuitOpen
				}
				return nil
			},
		})
	}
	if f, ok := a.providers.LLM.(failoverGuarded); ok {
		checks = append(checks, health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				states := f.States()
				for _, s := range states {
					if s != resilience.StateOpen {
						return nil
					}
				}
				return fmt.Errorf("%w: all %d backends", resilience.ErrCircuitOpen, len(states))
			},
		})
	}
	return checks
}
