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

// Working is the session-scoped, TTL-based tier. Every record carries an
// expiresAt metadata field derived from cfg.TTLSeconds. GetByID/Recall in
// the in-process adapter skip expired records on read; the tier facade adds
// no check of its own and the Postgres adapter treats the field as opaque.
type Working struct {
	base
	cfg config.WorkingConfig
}

func NewWorking(store storage.Memory, cfg config.WorkingConfig) *Working {
	return &Working{base: newBase(store, model.TypeWorking), cfg: cfg}
}

// WithEmitter attaches an event emitter, for callers wiring a real sink.
func (w *Working) WithEmitter(e *events.Emitter) *Working {
	w.base = w.base.withEmitter(e)
	return w
}

// WithEmbedding attaches the embedding service, for callers that want
// vector/hybrid search over working memory.
func (w *Working) WithEmbedding(svc *embedding.Service) *Working {
	w.base = w.base.withEmbedding(svc)
	return w
}

// Store requires a sessionId: working memory without a session cannot be
// recalled or cleaned up sensibly (spec §4.4.1).
func (w *Working) Store(ctx context.Context, userID, agentID, sessionID, content string, importance float64) (string, error) {
	if err := requireUserID("tiers.Working.Store", userID); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", model.Validation("tiers.Working.Store", "sessionId required for working memory")
	}
	now := time.Now().UnixMilli()
	ttl := w.cfg.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	data := model.MemoryData{
		Type:       model.TypeWorking,
		Content:    content,
		Importance: clampFloat(importance, 0, 1),
		Resonance:  1,
		SessionID:  sessionID,
		CreatedAt:  now,
		Metadata: w.embedInto(ctx, content, map[string]any{
			"expiresAt": float64(now + ttl*1000),
		}),
	}
	id, err := w.store.Store(ctx, userID, agentID, data)
	if err != nil {
		return "", err
	}
	w.emitter.Created(ctx, userID, agentID, id, nil)
	return id, nil
}

func (w *Working) Recall(ctx context.Context, userID, agentID, sessionID, query string, limit int) ([]*model.Memory, error) {
	opts := model.RecallOptions{Limit: limit}
	all, err := w.recall(ctx, userID, agentID, query, opts)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return all, nil
	}
	out := all[:0]
	for _, m := range all {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}
