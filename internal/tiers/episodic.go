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

// Episodic is the tagged, decaying event-log tier. Resonance starts at 1 and
// is reduced by ApplyDecay over time; records older than
// cfg.CompressionAgeDays are flagged via a compressed metadata marker rather
// than deleted (spec §4.4.2); the recall service does not read the marker,
// so flagged records are scored like any other.
type Episodic struct {
	base
	cfg config.EpisodicConfig
}

func NewEpisodic(store storage.Memory, cfg config.EpisodicConfig) *Episodic {
	return &Episodic{base: newBase(store, model.TypeEpisodic), cfg: cfg}
}

// WithEmitter attaches an event emitter, for callers wiring a real sink.
func (e *Episodic) WithEmitter(em *events.Emitter) *Episodic {
	e.base = e.base.withEmitter(em)
	return e
}

// WithEmbedding attaches the embedding service, for callers that want
// vector/hybrid search over episodic memories.
func (e *Episodic) WithEmbedding(svc *embedding.Service) *Episodic {
	e.base = e.base.withEmbedding(svc)
	return e
}

func (e *Episodic) Store(ctx context.Context, userID, agentID, sessionID, content string, importance float64, keywords []string) (string, error) {
	if err := requireUserID("tiers.Episodic.Store", userID); err != nil {
		return "", err
	}
	if importance < e.cfg.ImportanceThreshold {
		return "", model.Validation("tiers.Episodic.Store", "importance below tier threshold")
	}
	data := model.MemoryData{
		Type:       model.TypeEpisodic,
		Content:    content,
		Importance: clampFloat(importance, 0, 1),
		Resonance:  1,
		SessionID:  sessionID,
		Keywords:   keywords,
		CreatedAt:  time.Now().UnixMilli(),
		Metadata:   e.embedInto(ctx, content, nil),
	}
	id, err := e.store.Store(ctx, userID, agentID, data)
	if err != nil {
		return "", err
	}
	e.emitter.Created(ctx, userID, agentID, id, nil)
	return id, nil
}

func (e *Episodic) Recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error) {
	return e.recall(ctx, userID, agentID, query, opts)
}

// ApplyDecay reduces resonance for episodic memories, removing those that
// exhaust it. It also marks records past cfg.CompressionAgeDays as
// compressed without removing them; nothing in recall down-weights them.
func (e *Episodic) ApplyDecay(ctx context.Context, userID, agentID string) (storage.DecayResult, error) {
	if err := requireUserID("tiers.Episodic.ApplyDecay", userID); err != nil {
		return storage.DecayResult{}, err
	}
	result, err := e.store.ApplyDecay(ctx, userID, agentID, storage.DecayOptions{
		DecayRate: e.cfg.DecayRate,
		Type:      model.TypeEpisodic,
		HasType:   true,
	})
	if err != nil {
		return storage.DecayResult{}, err
	}
	e.markCompressed(ctx, userID, agentID)
	return result, nil
}

func (e *Episodic) markCompressed(ctx context.Context, userID, agentID string) {
	if e.cfg.CompressionAgeDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -int(e.cfg.CompressionAgeDays)).UnixMilli()
	all, err := e.store.Recall(ctx, userID, agentID, "", model.RecallOptions{Type: model.TypeEpisodic, Limit: 10000})
	if err != nil {
		return
	}
	for _, m := range all {
		if m.CreatedAt < cutoff && m.MetaString("compressed") != "true" {
			_ = e.store.Update(ctx, userID, agentID, m.ID, map[string]any{
				"metadata": map[string]any{"compressed": "true"},
			})
		}
	}
}
