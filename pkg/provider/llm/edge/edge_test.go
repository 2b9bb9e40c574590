package edge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/careercompass/pkg/provider/llm"
	"github.com/MrWong99/careercompass/pkg/provider/llm/edge"
)

type wireRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	SystemPrompt string `json:"systemPrompt"`
}

func TestComplete_SendsConversation(t *testing.T) {
	t.Parallel()

	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/text-chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if h := r.Header.Get("apikey"); h != "anon" {
			t.Errorf("apikey = %q", h)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer anon" {
			t.Errorf("Authorization = %q", h)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Start with a skills inventory."}`))
	}))
	t.Cleanup(srv.Close)

	p, err := edge.New(srv.URL+"/", "anon")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be helpful",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "I want to switch careers."},
			{Role: llm.RoleAssistant, Content: "Into what field?"},
			{Role: llm.RoleUser, Content: "Data science."},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Start with a skills inventory." {
		t.Errorf("Content = %q", resp.Content)
	}
	if got.SystemPrompt != "be helpful" {
		t.Errorf("systemPrompt = %q", got.SystemPrompt)
	}
	if len(got.Messages) != 3 || got.Messages[1].Role != "assistant" || got.Messages[2].Content != "Data science." {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_CustomFunctionAndToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/advisor-chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer jwt" {
			t.Errorf("Authorization = %q", h)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := edge.New(srv.URL, "anon", edge.WithFunctionName("advisor-chat"), edge.WithAccessToken("jwt"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestComplete_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantEmpty bool
		wantText  string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"upstream failed"}`, wantText: "status 500"},
		{name: "error field", status: http.StatusOK, body: `{"error":"rate limited"}`, wantText: "rate limited"},
		{name: "empty response", status: http.StatusOK, body: `{"response":""}`, wantEmpty: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			p, err := edge.New(srv.URL, "anon")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantEmpty != errors.Is(err, edge.ErrEmptyResponse) {
				t.Errorf("err = %v, ErrEmptyResponse wanted = %v", err, tc.wantEmpty)
			}
			if tc.wantText != "" && !strings.Contains(err.Error(), tc.wantText) {
				t.Errorf("err = %v, want substring %q", err, tc.wantText)
			}
		})
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := edge.New("", "anon"); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}
