// Package llm defines the Provider interface for text-completion backends.
//
// The text-mode chat sends the whole conversation plus a system prompt and
// receives one assistant reply. Backends wrap a remote model API (OpenAI
// directly, any vendor through any-llm-go, or the hosted text-chat function)
// behind this single call so the chat logic never couples to an SDK.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import "context"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the turn.
	Content string
}

// Usage holds token accounting information returned by the backend. Backends
// that do not report usage leave it zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce one reply.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// usually from the user.
	Messages []Message

	// SystemPrompt is sent ahead of the history. Backends without a native
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls randomness. Zero means the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the backend default.
	MaxTokens int
}

// CompletionResponse is one assistant reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
