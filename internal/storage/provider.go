// Package storage implements the StorageProvider contract (SPEC_FULL.md
// §4.1): generic key/value operations plus a typed memory sub-interface,
// optional vector/hybrid search, and an optional event sink. All memory
// operations take userId first to enforce per-tenant isolation.
package storage

import (
	"context"

	"github.com/driftlane/memoryengine/internal/model"
)

// KV is the generic key/value surface used for ancillary state (rules,
// indexes) that does not fit the typed memory model.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, values map[string][]byte) error
	DeleteMany(ctx context.Context, keys []string) error
	// List returns all keys with the given prefix. Adapters that cannot
	// support prefix listing natively must log and return an empty slice
	// rather than erroring (SPEC_FULL.md §4.1).
	List(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// VectorSearchOptions configures Memory.SearchByVector / HybridSearch.
type VectorSearchOptions struct {
	Limit        int
	Filter       map[string]string
	VectorWeight float64
	TextWeight   float64
	Threshold    float64
	Type         model.Type
	HasType      bool
}

// ScoredMemory pairs a memory with a retrieval score from vector/hybrid
// search, distinct from relevance computed later by the recall service.
type ScoredMemory struct {
	Memory *model.Memory
	Score  float64
}

// DecayOptions configures Memory.ApplyDecay.
type DecayOptions struct {
	DecayRate float64
	Type      model.Type
	HasType   bool
}

// DecayResult is the outcome of a batch decay pass.
type DecayResult struct {
	Processed int
	Decayed   int
	Removed   int
}

// ConnectedResult is the outcome of a depth-limited graph traversal served
// directly by a storage adapter (SPEC_FULL.md §4.1 findConnectedMemories).
type ConnectedResult struct {
	Memories    []*model.Memory
	Connections []*model.Connection
}

// Memory is the typed memory sub-interface of the StorageProvider contract.
// It is present whenever the backing adapter supports memory semantics;
// callers type-assert for it (or compose it directly, as this module does).
type Memory interface {
	Store(ctx context.Context, userID, agentID string, data model.MemoryData) (string, error)
	Recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error)
	GetByID(ctx context.Context, userID, memoryID string) (*model.Memory, error)
	Update(ctx context.Context, userID, agentID, memoryID string, partial map[string]any) error
	Delete(ctx context.Context, userID, agentID, memoryID string) error
	GetStats(ctx context.Context, userID, agentID string, hasAgentID bool) (model.Stats, error)

	CreateConnections(ctx context.Context, userID string, connections []*model.Connection) error
	GetConnectionsForMemories(ctx context.Context, userID string, memoryIDs []string) ([]*model.Connection, error)
	FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int) (ConnectedResult, error)

	// ApplyDecay is optional; adapters without decay support return a
	// zero-valued result and a nil error.
	ApplyDecay(ctx context.Context, userID, agentID string, opts DecayOptions) (DecayResult, error)

	// SearchByVector and HybridSearch are optional vector capabilities.
	// Supports reports whether the adapter implements them so callers can
	// follow the fallback chain in SPEC_FULL.md §4.7.2 / §4.9.4.
	SupportsVectorSearch() bool
	SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error)
	SupportsHybridSearch() bool
	HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error)
}

// EventSink is the optional, non-blocking lifecycle event sink
// (SPEC_FULL.md §4.10, §6.1). Failures are logged only, never propagated.
type EventSink interface {
	TrackEvent(ctx context.Context, event model.Event) error
	TrackEventBatch(ctx context.Context, events []model.Event) error
}

// Provider composes the generic KV surface with the typed memory
// sub-interface and an optional event sink. Concrete adapters in this
// package (Memory-backed in-process store, Postgres, Qdrant, Redis) each
// implement as much of this as their backend naturally supports.
type Provider interface {
	KV
	MemoryOps() Memory
	EventSink() (EventSink, bool)
}
