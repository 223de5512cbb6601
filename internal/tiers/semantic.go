package tiers

import (
	"context"
	"time"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// Semantic is the durable-fact tier. Importance doubles as confidence, which
// is also recorded as Metadata["confidence"] for recall's scoring; there
// is no decay (resonance stays fixed at 1) — facts persist until explicitly
// deleted or deduplicated by the connection engine (spec §4.4.3).
type Semantic struct {
	base
	cfg config.SemanticConfig
}

func NewSemantic(store storage.Memory, cfg config.SemanticConfig) *Semantic {
	return &Semantic{base: newBase(store, model.TypeSemantic), cfg: cfg}
}

// WithEmitter attaches an event emitter, for callers wiring a real sink.
func (s *Semantic) WithEmitter(e *events.Emitter) *Semantic {
	s.base = s.base.withEmitter(e)
	return s
}

// WithEmbedding attaches the embedding service, for callers that want
// vector/hybrid search and deduplication over semantic memories.
func (s *Semantic) WithEmbedding(svc *embedding.Service) *Semantic {
	s.base = s.base.withEmbedding(svc)
	return s
}

func (s *Semantic) Store(ctx context.Context, userID, agentID, content string, confidence float64, category string) (string, error) {
	if err := requireUserID("tiers.Semantic.Store", userID); err != nil {
		return "", err
	}
	if confidence < s.cfg.ConfidenceThreshold {
		return "", model.Validation("tiers.Semantic.Store", "confidence below tier threshold")
	}
	data := model.MemoryData{
		Type:       model.TypeSemantic,
		Content:    content,
		Importance: clampFloat(confidence, 0, 1),
		Resonance:  1,
		CreatedAt:  time.Now().UnixMilli(),
		Metadata:   s.embedInto(ctx, content, map[string]any{"category": category, "confidence": confidence}),
	}
	id, err := s.store.Store(ctx, userID, agentID, data)
	if err != nil {
		return "", err
	}
	s.emitter.Created(ctx, userID, agentID, id, nil)
	return id, nil
}

func (s *Semantic) Recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error) {
	return s.recall(ctx, userID, agentID, query, opts)
}

// FindDuplicates returns existing semantic memories whose vector similarity
// to candidateVector exceeds cfg.DeduplicationThreshold, for callers that
// want to merge rather than double-store a fact.
func (s *Semantic) FindDuplicates(ctx context.Context, userID, agentID string, candidateVector []float32) ([]*model.Memory, error) {
	if !s.store.SupportsVectorSearch() {
		return nil, nil
	}
	scored, err := s.store.SearchByVector(ctx, userID, agentID, candidateVector, storage.VectorSearchOptions{
		Limit:     10,
		Threshold: s.cfg.DeduplicationThreshold,
		Type:      model.TypeSemantic,
		HasType:   true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Memory, len(scored))
	for i, sc := range scored {
		out[i] = sc.Memory
	}
	return out, nil
}
