package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/careercompass/internal/config"
	"github.com/MrWong99/careercompass/pkg/provider/credential"
	"github.com/MrWong99/careercompass/pkg/provider/llm"
	llmmock "github.com/MrWong99/careercompass/pkg/provider/llm/mock"
	"github.com/MrWong99/careercompass/pkg/provider/realtime"
	rtmock "github.com/MrWong99/careercompass/pkg/provider/realtime/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("edge", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("missing api key")
	})
	reg.RegisterRealtime("openai", func(config.ProviderEntry) (realtime.Provider, error) {
		return &rtmock.Provider{}, nil
	})
	reg.RegisterCredential("static", func(e config.ProviderEntry) (credential.Issuer, error) {
		return credential.Static(e.APIKey), nil
	})

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "edge", BaseURL: "https://x"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.BaseURL != "https://x" {
		t.Errorf("factory got %+v", gotEntry)
	}

	_, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"})
	if err == nil || errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("factory error = %v, want wrapped non-registration error", err)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "watson"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateRealtime(config.ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("CreateRealtime: %v", err)
	}
	iss, err := reg.CreateCredential(config.ProviderEntry{Name: "static", APIKey: "ek_dev"})
	if err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if s, err := iss.Issue(context.Background()); err != nil || s.Value != "ek_dev" {
		t.Errorf("Issue = %+v, %v", s, err)
	}

	if got := reg.Names("llm"); !slices.Equal(got, []string{"edge", "openai"}) {
		t.Errorf("Names(llm) = %v", got)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v", got)
	}
}
