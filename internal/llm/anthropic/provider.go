// Package anthropic implements the Anthropic-backed llm.Provider used by
// the connection engine and temporal analyzer for structured classification
// calls, plus a Messages-API-backed llm.Tokenizer for preflight token
// counting.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/observability"
)

// Provider wraps the Anthropic Messages API, constraining output to a
// single JSON object per call via a strong system-prompt instruction (the
// SDK has no native JSON-mode flag for Claude).
type Provider struct {
	sdk          anthropicsdk.Client
	defaultModel string
}

func New(apiKey, baseURL, defaultModel string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{sdk: anthropicsdk.NewClient(opts...), defaultModel: defaultModel}
}

func (p *Provider) GenerateObject(ctx context.Context, req llm.ObjectRequest) (llm.ObjectResponse, error) {
	apiMsgs, system := buildMessageParams(req.Messages)
	system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  apiMsgs,
		System: []anthropicsdk.TextBlockParam{
			{Text: system},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.ObjectResponse{}, fmt.Errorf("anthropic generateObject: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	log := observability.LoggerWithTrace(ctx)
	log.Debug().Str("model", req.Model).Int64("input_tokens", resp.Usage.InputTokens).Int64("output_tokens", resp.Usage.OutputTokens).Msg("anthropic_generate_object")

	return llm.ObjectResponse{
		JSON:             text.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// Tokenizer returns a MessagesTokenizer bound to this provider's SDK client
// and default model, satisfying llm.TokenizableProvider.
func (p *Provider) Tokenizer() llm.Tokenizer {
	return NewMessagesTokenizer(p.sdk, p.defaultModel, nil)
}

var (
	_ llm.Provider            = (*Provider)(nil)
	_ llm.TokenizableProvider = (*Provider)(nil)
)
