// Package llm abstracts the model providers the runtime can talk to. A
// Provider turns a chat request (optionally carrying tool definitions) into
// a response that is either plain content or a set of tool calls.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every provider call.
const TimeoutLLMCall = 60 * time.Second

var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrNoChoices            = errors.New("model returned no choices")
)

// Provider is the interface all model providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in USD for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message is one chat message. Role is "system", "user", "assistant", or
// "tool". Tool-result messages carry the ToolCallID they answer; assistant
// messages that requested tools carry the ToolCalls themselves.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool is a tool definition passed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Response is a chat completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}
