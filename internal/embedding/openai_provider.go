package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/driftlane/memoryengine/internal/observability"
)

// OpenAIProvider calls the OpenAI embeddings endpoint (or any OpenAI-
// compatible base URL) via the generated SDK client.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider builds a provider. baseURL may be empty to use the
// default OpenAI endpoint; headers are injected for OpenAI-compatible
// gateways that expect a non-standard auth header.
func NewOpenAIProvider(apiKey, baseURL string, extraHeaders map[string]string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	httpClient := observability.WithHeaders(observability.NewHTTPClient(nil), extraHeaders)
	opts = append(opts, option.WithHTTPClient(httpClient))
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
