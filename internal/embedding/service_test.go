package embedding

import (
	"context"
	"testing"

	"github.com/driftlane/memoryengine/internal/config"
)

type stubProvider struct {
	calls int
	dim   int
}

func (p *stubProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, p.dim)
		for j := range vec {
			vec[j] = float32(i + 1)
		}
		out[i] = vec
	}
	return out, nil
}

func testConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Enabled:      true,
		Model:        "test-model",
		Dimensions:   8,
		CacheEnabled: true,
		CacheSize:    100,
		BatchSize:    2,
	}
}

func TestEmbedCachesResults(t *testing.T) {
	p := &stubProvider{dim: 8}
	s := NewService(testConfig(), p)

	v1, err := s.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := s.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected provider to be called once, got %d", p.calls)
	}
	if len(v1) != len(v2) {
		t.Fatalf("cached vector length mismatch")
	}
	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected one hit and one miss, got %+v", stats)
	}
}

func TestEmbedAdjustsDimensions(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 4

	shortProvider := &stubProvider{dim: 2}
	s := NewService(cfg, shortProvider)
	vec, err := s.Embed(context.Background(), "short")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected zero-padded vector of length 4, got %d", len(vec))
	}

	longProvider := &stubProvider{dim: 10}
	s2 := NewService(cfg, longProvider)
	vec2, err := s2.Embed(context.Background(), "long")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec2) != 4 {
		t.Fatalf("expected truncated vector of length 4, got %d", len(vec2))
	}
}

func TestEmbedBatchSplitsByBatchSize(t *testing.T) {
	p := &stubProvider{dim: 8}
	s := NewService(testConfig(), p)

	vecs, err := s.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("embedBatch: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("expected 5 results, got %d", len(vecs))
	}
	// batch size 2 over 5 uncached inputs -> 3 provider calls
	if p.calls != 3 {
		t.Fatalf("expected 3 batched provider calls, got %d", p.calls)
	}
}

func TestEmbedBatchServesCacheHitsWithoutCallingProvider(t *testing.T) {
	p := &stubProvider{dim: 8}
	s := NewService(testConfig(), p)

	if _, err := s.Embed(context.Background(), "cached"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	p.calls = 0

	vecs, err := s.EmbedBatch(context.Background(), []string{"cached", "new"})
	if err != nil {
		t.Fatalf("embedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[0] == nil || vecs[1] == nil {
		t.Fatalf("expected both results populated, got %+v", vecs)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly one provider call for the uncached entry, got %d", p.calls)
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMockProvider(16)
	v1, _ := p.Embed(context.Background(), "m", []string{"same text"})
	v2, _ := p.Embed(context.Background(), "m", []string{"same text"})
	if len(v1[0]) != 16 || len(v2[0]) != 16 {
		t.Fatalf("expected 16-dim vectors")
	}
	for i := range v1[0] {
		if v1[0][i] != v2[0][i] {
			t.Fatalf("expected deterministic vector for identical input")
		}
	}
}
