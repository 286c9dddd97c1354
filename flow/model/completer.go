// Package model defines the LLM completer abstraction used by workflow
// nodes, plus token usage accounting. Provider adapters live in the
// anthropic, openai, and google sub-packages.
package model

import "context"

// Role identifies a message author.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	// System is an optional system prompt; providers that take system
	// text separately receive it there.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls sampling randomness; negative means provider
	// default.
	Temperature float64

	// JSONOnly asks the provider for a JSON object response where the
	// provider supports enforcing it.
	JSONOnly bool
}

// Response is a provider-neutral completion result.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	Model     string
}

// Completer is the single LLM collaborator interface. Implementations
// must be safe for concurrent use and honor context cancellation.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// UserRequest builds the common single-turn request.
func UserRequest(system, prompt string, maxTokens int) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: -1,
	}
}
