// Package system wires the four memory tiers, the recall service, and the
// event emitter into the single top-level surface named MemorySystem in
// SPEC_FULL.md §6.2. The connection engine and temporal analyzer are
// exposed directly by their own packages (internal/connections.Engine,
// internal/temporal.Analyzer) and are not wrapped here.
package system

import (
	"context"

	"github.com/google/uuid"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/connections"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/recall"
	"github.com/driftlane/memoryengine/internal/storage"
	"github.com/driftlane/memoryengine/internal/tiers"
)

// MemorySystem is the simplified, uniform store/recall/stats surface
// (spec §6.2). The per-tier facades underneath it still expose their own
// richer store signatures (session IDs, keywords, confidence, trigger/
// action) for callers that need tier-specific control.
type MemorySystem struct {
	Working    *tiers.Working
	Episodic   *tiers.Episodic
	Semantic   *tiers.Semantic
	Procedural *tiers.Procedural
	Recall     *recall.Service

	store  storage.Memory
	semCfg config.SemanticConfig
	queue  *connections.Queue
}

// WithQueue attaches the C6 discovery queue (internal/connections.Queue) so
// every successful Store enqueues a deduplicated discovery task for C7
// instead of requiring callers to invoke the connection engine themselves
// (spec §2's ingest flow). Returns m for chaining alongside the tier
// facades' WithEmitter pattern.
func (m *MemorySystem) WithQueue(q *connections.Queue) *MemorySystem {
	m.queue = q
	return m
}

// New builds a MemorySystem over an already-constructed storage adapter and
// recall service, wiring emitter into every tier so Store calls dispatch
// created events through the same path recall uses for accessed events, and
// embed (optional: nil disables it) so every tier's Store populates
// Metadata["embedding"] for C5/C9's vector and hybrid search.
func New(store storage.Memory, recallSvc *recall.Service, embed *embedding.Service, emitter *events.Emitter, cfg config.IntelligenceLayerConfig) *MemorySystem {
	if emitter == nil {
		emitter = events.New(nil)
	}
	return &MemorySystem{
		Working:    tiers.NewWorking(store, cfg.Working).WithEmitter(emitter).WithEmbedding(embed),
		Episodic:   tiers.NewEpisodic(store, cfg.Episodic).WithEmitter(emitter).WithEmbedding(embed),
		Semantic:   tiers.NewSemantic(store, cfg.Semantic).WithEmitter(emitter).WithEmbedding(embed),
		Procedural: tiers.NewProcedural(store, cfg.Procedural).WithEmitter(emitter).WithEmbedding(embed),
		Recall:     recallSvc,
		store:      store,
		semCfg:     cfg.Semantic,
	}
}

// Store routes content to the requested tier, defaulting to semantic (spec
// §6.2: "default type: semantic"). Tier-specific fields the uniform
// signature has no room for (session IDs, trigger/action) are
// auto-generated or defaulted; callers that need control over those use
// the tier facades directly.
func (m *MemorySystem) Store(ctx context.Context, userID, agentID, content string, typ model.Type, hasType bool) (string, error) {
	if !hasType || typ == "" {
		typ = model.TypeSemantic
	}
	var id string
	var err error
	switch typ {
	case model.TypeWorking:
		id, err = m.Working.Store(ctx, userID, agentID, uuid.NewString(), content, 0.5)
	case model.TypeEpisodic:
		id, err = m.Episodic.Store(ctx, userID, agentID, uuid.NewString(), content, 0.5, nil)
	case model.TypeProcedural:
		id, err = m.Procedural.Store(ctx, userID, agentID, content, "unknown")
	default:
		id, err = m.Semantic.Store(ctx, userID, agentID, content, m.semCfg.ConfidenceThreshold, "general")
	}
	if err == nil && m.queue != nil {
		m.queue.Enqueue(connections.Task{UserID: userID, AgentID: agentID, MemoryID: id})
	}
	return id, err
}

// RecallQuery delegates to the recall service (spec §6.2).
func (m *MemorySystem) RecallQuery(ctx context.Context, q recall.Query) (recall.Result, error) {
	return m.Recall.Recall(ctx, q)
}

// Stats reports aggregate memory counts for a user, optionally scoped to
// one agent (spec §6.2).
func (m *MemorySystem) Stats(ctx context.Context, userID, agentID string, hasAgentID bool) (model.Stats, error) {
	return m.store.GetStats(ctx, userID, agentID, hasAgentID)
}
