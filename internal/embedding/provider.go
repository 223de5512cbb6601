package embedding

import "context"

// Provider is the minimal surface a backing embedding API must implement.
// Service wraps a Provider with caching, batching, and dimension
// normalization so callers never deal with raw vectors from mismatched
// models.
type Provider interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}
