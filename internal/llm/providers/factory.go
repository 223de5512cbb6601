// Package providers selects a concrete llm.Provider implementation by name,
// mirroring the teacher's Build() switch (internal/llm/providers/factory.go)
// but narrowed to the three SDKs this module wires: Anthropic, OpenAI, and
// Google Gemini.
package providers

import (
	"context"
	"fmt"

	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/llm/anthropic"
	"github.com/driftlane/memoryengine/internal/llm/google"
	"github.com/driftlane/memoryengine/internal/llm/openai"
)

// Build constructs an llm.Provider for the given provider name. apiKey and
// baseURL are provider-specific; baseURL may be empty to use the SDK
// default. model is only used where the provider needs a default (e.g. the
// Anthropic tokenizer); classification calls pass their model explicitly
// per-request.
func Build(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error) {
	switch providerName {
	case "", "openai":
		return openai.New(apiKey, baseURL), nil
	case "anthropic":
		return anthropic.New(apiKey, baseURL, model), nil
	case "google", "gemini":
		return google.New(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", providerName)
	}
}
