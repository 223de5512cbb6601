// Package google implements the Gemini-backed llm.Provider via
// google.golang.org/genai, used as the third leg of the connection engine's
// and temporal analyzer's provider cascade.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/driftlane/memoryengine/internal/llm"
)

type Provider struct {
	client *genai.Client
}

func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google llm client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) GenerateObject(ctx context.Context, req llm.ObjectRequest) (llm.ObjectResponse, error) {
	var system, user string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		if user != "" {
			user += "\n"
		}
		user += m.Content
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(user), cfg)
	if err != nil {
		return llm.ObjectResponse{}, fmt.Errorf("google generateObject: %w", err)
	}

	var promptTokens, completionTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return llm.ObjectResponse{
		JSON:             resp.Text(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

var _ llm.Provider = (*Provider)(nil)
