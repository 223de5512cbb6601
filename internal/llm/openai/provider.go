// Package openai implements the OpenAI-backed llm.Provider using the
// chat completions API with a JSON response format, for the connection
// engine's and temporal analyzer's structured classification calls.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/driftlane/memoryengine/internal/llm"
)

type Provider struct {
	client openai.Client
}

func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

func (p *Provider) GenerateObject(ctx context.Context, req llm.ObjectRequest) (llm.ObjectResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ObjectResponse{}, fmt.Errorf("openai generateObject: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.ObjectResponse{}, fmt.Errorf("openai generateObject: no choices returned")
	}
	return llm.ObjectResponse{
		JSON:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

var _ llm.Provider = (*Provider)(nil)
