// Package llm defines the provider-agnostic interface for the
// generation capability. The core treats generation as a black box:
// given a prompt and constraints it returns text, times out, or is
// unavailable — the degradation supervisor absorbs the latter two.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the provider could not be reached or
// returned a server-side failure. Feeds degradation probes.
var ErrUnavailable = errors.New("generation unavailable")

// ErrTimeout indicates the provider did not answer within the deadline.
var ErrTimeout = errors.New("generation timed out")

// Provider is the abstraction over any LLM backend (Anthropic, OpenAI,
// Ollama, etc.).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64 // 0 = provider default.
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
