// Package embedding implements C2 (SPEC_FULL.md §4.2): provider-backed
// embedding generation with an LRU cache, batching, and dimension
// normalization.
package embedding

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/driftlane/memoryengine/internal/config"
)

// Service is the embedding facade every tier/connection/recall component
// depends on. It never returns a vector of the wrong dimension: shorter
// provider vectors are zero-padded, longer ones truncated, and each
// adjustment increments the DimensionAdjusted counter (spec §9 open
// question, pinned in DESIGN.md).
type Service struct {
	provider Provider
	cache    *vectorCache
	cfg      config.EmbeddingConfig

	dimOnce    sync.Once
	dimCounter otelmetric.Int64Counter
}

// NewService wires a Service around an explicit provider, bypassing the
// config-driven provider selection in NewServiceFromConfig. Useful for
// tests that want to inject a stub provider directly.
func NewService(cfg config.EmbeddingConfig, provider Provider) *Service {
	return &Service{
		provider: provider,
		cache:    newVectorCache(cfg.CacheSize),
		cfg:      cfg,
	}
}

// NewServiceFromConfig selects a provider based on cfg.Provider
// ("mock" or empty selects the mock provider; "openai" or anything else
// selects the openai-compatible provider).
func NewServiceFromConfig(cfg config.EmbeddingConfig) *Service {
	var p Provider
	switch cfg.Provider {
	case "mock", "":
		p = NewMockProvider(cfg.Dimensions)
	default:
		p = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, nil)
	}
	return NewService(cfg, p)
}

func (s *Service) ensureDimCounter() {
	s.dimOnce.Do(func() {
		m := otel.Meter("internal/embedding")
		s.dimCounter, _ = m.Int64Counter("embedding.dimension_adjusted",
			otelmetric.WithDescription("Count of embeddings whose vector was padded or truncated to match the configured dimension"))
	})
}

// Embed returns a single cached-or-computed embedding for content.
func (s *Service) Embed(ctx context.Context, content string) ([]float32, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	if s.cfg.CacheEnabled {
		if v, ok := s.cache.get(content, s.cfg.Model); ok {
			return v, nil
		}
	}
	vecs, err := s.provider.Embed(ctx, s.cfg.Model, []string{content})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	vec := s.adjustDimensions(vecs[0])
	if s.cfg.CacheEnabled {
		s.cache.put(content, s.cfg.Model, vec)
	}
	return vec, nil
}

// EmbedBatch embeds many texts, serving cache hits directly and fanning the
// remainder out to the provider in concurrent chunks of cfg.BatchSize via
// errgroup, the same fan-out pattern the teacher uses for concurrent fetches
// (internal/tools/web/fetch_tool.go).
func (s *Service) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	if !s.cfg.Enabled || len(contents) == 0 {
		return make([][]float32, len(contents)), nil
	}
	out := make([][]float32, len(contents))
	var pending []int
	for i, c := range contents {
		if s.cfg.CacheEnabled {
			if v, ok := s.cache.get(c, s.cfg.Model); ok {
				out[i] = v
				continue
			}
		}
		pending = append(pending, i)
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		idxs := pending[start:end]
		g.Go(func() error {
			inputs := make([]string, len(idxs))
			for j, idx := range idxs {
				inputs[j] = contents[idx]
			}
			vecs, err := s.provider.Embed(gctx, s.cfg.Model, inputs)
			if err != nil {
				return err
			}
			for j, idx := range idxs {
				if j >= len(vecs) {
					continue
				}
				vec := s.adjustDimensions(vecs[j])
				out[idx] = vec
				if s.cfg.CacheEnabled {
					s.cache.put(contents[idx], s.cfg.Model, vec)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) adjustDimensions(vec []float32) []float32 {
	want := s.cfg.Dimensions
	if want <= 0 || len(vec) == want {
		return vec
	}
	s.ensureDimCounter()
	if s.dimCounter != nil {
		s.dimCounter.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("embedding.model", s.cfg.Model)))
	}
	if len(vec) > want {
		return append([]float32(nil), vec[:want]...)
	}
	padded := make([]float32, want)
	copy(padded, vec)
	return padded
}

// Stats exposes cache hit/miss counters for diagnostics.
func (s *Service) Stats() CacheStats { return s.cache.stats() }
