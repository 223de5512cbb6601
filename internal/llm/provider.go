// Package llm provides the structured-output LLM contract the connection
// engine (C7) and temporal analyzer (C8) use to classify relationships and
// augment pattern detection. Unlike the teacher's full chat-completion
// Provider (tool calling, streaming, image generation), this module's LLM
// surface is narrowed to the one operation the domain needs: given a
// system/user prompt pair, return JSON matching a requested shape.
package llm

import "context"

// Message is a single turn in a classification prompt. Only system/user
// roles are meaningful here; there is no multi-turn tool-calling loop.
type Message struct {
	Role    string // "system" | "user"
	Content string
}

// ObjectRequest describes one structured-output call.
type ObjectRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ObjectResponse is the raw JSON text returned by the model plus token
// usage for cost tracking.
type ObjectResponse struct {
	JSON             string
	PromptTokens     int
	CompletionTokens int
}

// Provider generates one structured JSON object from a prompt. Concrete
// implementations (Anthropic, OpenAI, Google) each constrain their
// underlying chat API to emit JSON-only output.
type Provider interface {
	GenerateObject(ctx context.Context, req ObjectRequest) (ObjectResponse, error)
}
