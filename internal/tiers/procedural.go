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

// Procedural stores trigger→action patterns with running success statistics.
// There is no decay; success and failure counts live in metadata and are
// updated by RecordOutcome, and Recall filters on the resulting success rate
// when adaptive learning is on. Importance is set to cfg.ConfidenceThreshold
// at store time and RecordOutcome does not change it (spec §4.4.4).
type Procedural struct {
	base
	cfg config.ProceduralConfig
}

func NewProcedural(store storage.Memory, cfg config.ProceduralConfig) *Procedural {
	return &Procedural{base: newBase(store, model.TypeProcedural), cfg: cfg}
}

// WithEmitter attaches an event emitter, for callers wiring a real sink.
func (p *Procedural) WithEmitter(e *events.Emitter) *Procedural {
	p.base = p.base.withEmitter(e)
	return p
}

// WithEmbedding attaches the embedding service, for callers that want
// vector/hybrid search over trigger patterns.
func (p *Procedural) WithEmbedding(svc *embedding.Service) *Procedural {
	p.base = p.base.withEmbedding(svc)
	return p
}

func (p *Procedural) Store(ctx context.Context, userID, agentID, trigger, action string) (string, error) {
	if err := requireUserID("tiers.Procedural.Store", userID); err != nil {
		return "", err
	}
	data := model.MemoryData{
		Type:       model.TypeProcedural,
		Content:    action,
		Importance: p.cfg.ConfidenceThreshold,
		Resonance:  1,
		CreatedAt:  time.Now().UnixMilli(),
		Metadata: p.embedInto(ctx, trigger, map[string]any{
			"trigger":      trigger,
			"successCount": float64(0),
			"failureCount": float64(0),
		}),
	}
	id, err := p.store.Store(ctx, userID, agentID, data)
	if err != nil {
		return "", err
	}
	p.emitter.Created(ctx, userID, agentID, id, nil)
	return id, nil
}

func (p *Procedural) Recall(ctx context.Context, userID, agentID, trigger string, opts model.RecallOptions) ([]*model.Memory, error) {
	matches, err := p.recall(ctx, userID, agentID, trigger, opts)
	if err != nil {
		return nil, err
	}
	if !p.cfg.AdaptiveLearning {
		return matches, nil
	}
	out := matches[:0]
	for _, m := range matches {
		if p.successRate(m) >= p.cfg.MinSuccessRate {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *Procedural) successRate(m *model.Memory) float64 {
	s := m.MetaFloat("successCount")
	f := m.MetaFloat("failureCount")
	total := s + f
	if total == 0 {
		return 1 // unproven patterns are not yet penalized
	}
	return s / total
}

// RecordOutcome updates a pattern's running success statistics after it is
// used, without touching resonance (procedural memories never decay).
func (p *Procedural) RecordOutcome(ctx context.Context, userID, agentID, memoryID string, success bool) error {
	m, err := p.GetByID(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if m == nil {
		return model.NewError(model.KindStorage, "tiers.Procedural.RecordOutcome", model.ErrNotFound)
	}
	s := m.MetaFloat("successCount")
	f := m.MetaFloat("failureCount")
	if success {
		s++
	} else {
		f++
	}
	return p.store.Update(ctx, userID, agentID, memoryID, map[string]any{
		"metadata": map[string]any{"successCount": s, "failureCount": f},
	})
}
