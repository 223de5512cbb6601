// Package tiers implements C4 (SPEC_FULL.md §4.4): thin typed facades over
// the StorageProvider memory contract, one per memory tier, each enforcing
// its own defaults, required metadata, and validation rules. None of the
// facades synthesize data a caller didn't provide: GetByID returns (nil,
// nil) on a type or ownership mismatch rather than fabricating a record.
package tiers

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// base is embedded by every tier facade. It owns the storage dependency and
// the universal userId guard shared by all four tiers. emitter defaults to a
// sink-less Emitter (a debug-log-only no-op) so every constructor keeps
// working without a composition root wiring one in; WithEmitter lets the
// caller attach a real sink once one exists (spec §4.10). embed is likewise
// optional: without it, Store writes carry no vector and every downstream
// vector/hybrid search silently degrades to text-only scoring.
type base struct {
	store   storage.Memory
	typ     model.Type
	emitter *events.Emitter
	embed   *embedding.Service
}

func newBase(store storage.Memory, typ model.Type) base {
	if store == nil {
		panic("tiers: storage.Memory is required")
	}
	return base{store: store, typ: typ, emitter: events.New(nil)}
}

// withEmitter replaces the tier's event emitter, returning b for chaining.
func (b base) withEmitter(e *events.Emitter) base {
	b.emitter = e
	return b
}

// withEmbedding attaches the embedding service so Store can populate
// Metadata["embedding"] before persisting (spec §4.4's ingest flow feeding
// C5/C9's vector search).
func (b base) withEmbedding(e *embedding.Service) base {
	b.embed = e
	return b
}

// embedInto computes content's embedding and adds it to meta under
// "embedding", returning meta unchanged if embedding is disabled or the
// provider call fails (logged, not fatal: a memory without a vector still
// stores and recalls via text search).
func (b base) embedInto(ctx context.Context, content string, meta map[string]any) map[string]any {
	if b.embed == nil {
		return meta
	}
	vec, err := b.embed.Embed(ctx, content)
	if err != nil {
		log.Warn().Err(err).Msg("tiers: embedding failed, storing without a vector")
		return meta
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["embedding"] = vec
	return meta
}

func requireUserID(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation(op, "userId required")
	}
	return nil
}

// GetByID fetches a memory by id, returning nil (no error) if it does not
// exist, belongs to another user, or is not of this tier's type.
func (b base) GetByID(ctx context.Context, userID, memoryID string) (*model.Memory, error) {
	if err := requireUserID("tiers.GetByID", userID); err != nil {
		return nil, err
	}
	m, err := b.store.GetByID(ctx, userID, memoryID)
	if err != nil || m == nil {
		return nil, err
	}
	if m.Type != b.typ {
		return nil, nil
	}
	return m, nil
}

func (b base) Delete(ctx context.Context, userID, agentID, memoryID string) error {
	if err := requireUserID("tiers.Delete", userID); err != nil {
		return err
	}
	existing, err := b.GetByID(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return b.store.Delete(ctx, userID, agentID, memoryID)
}

func (b base) GetStats(ctx context.Context, userID, agentID string, hasAgentID bool) (model.Stats, error) {
	if err := requireUserID("tiers.GetStats", userID); err != nil {
		return model.Stats{}, err
	}
	full, err := b.store.GetStats(ctx, userID, agentID, hasAgentID)
	if err != nil {
		return model.Stats{}, err
	}
	count := full.ByType[b.typ]
	return model.Stats{
		TotalMemories: count,
		ByType:        map[model.Type]int64{b.typ: count},
		AvgImportance: full.AvgImportance,
		TotalSize:     full.TotalSize,
	}, nil
}

func (b base) recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error) {
	if err := requireUserID("tiers.Recall", userID); err != nil {
		return nil, err
	}
	opts.Type = b.typ
	return b.store.Recall(ctx, userID, agentID, query, opts)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
