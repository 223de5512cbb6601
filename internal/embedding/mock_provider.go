package embedding

import (
	"context"
	"crypto/sha256"
)

// MockProvider deterministically derives a fixed-size vector from the input
// text's hash, for tests and for MOCK_EMBEDDINGS=true development runs where
// no API key is configured. It has no notion of semantic similarity beyond
// exact and near-exact text matches.
type MockProvider struct {
	Dimensions int
}

func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 32
	}
	return &MockProvider{Dimensions: dimensions}
}

func (p *MockProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *MockProvider) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, p.Dimensions)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = float32(b)/127.5 - 1.0
	}
	return vec
}
