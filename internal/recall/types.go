// Package recall implements C9 (SPEC_FULL.md §4.9): the hybrid recall
// pipeline combining per-tier search, stored-connection and graph
// enrichment, centrality/temporal boosting, relationship discovery, and a
// concurrency-safe result cache with high/low-water cleanup.
package recall

import "github.com/driftlane/memoryengine/internal/model"

// Query is the recall request shape (spec §4.9.1).
type Query struct {
	UserID  string
	AgentID string
	Query   string

	MemoryTypes    []model.Type
	HasMemoryTypes bool

	Limit int

	MinRelevance    float64
	HasMinRelevance bool

	IncludeRelated    bool
	HasIncludeRelated bool

	TimeRangeStart int64
	TimeRangeEnd   int64
	HasTimeRange   bool

	UseConnections    bool
	HasUseConnections bool

	ConnectionHops       int
	HasConnectionHops    bool
	ConnectionTypes      []model.ConnectionType
	BoostCentralMemories bool
}

func (q Query) wantsConnections() bool {
	return !q.HasUseConnections || q.UseConnections
}

func (q Query) wantsRelated() bool {
	return !q.HasIncludeRelated || q.IncludeRelated
}

// Relationship is one discovered link between two top-ranked results
// (spec §4.9.10).
type Relationship struct {
	MemoryID string
	Type     string
	Strength float64
}

// UnifiedResult is one scored memory in a Result, carrying whatever
// enrichment the pipeline attached (stored connections, graph-discovered
// neighbors, relationships).
type UnifiedResult struct {
	Memory        *model.Memory
	Relevance     float64
	Connections   []*model.Connection
	Relationships []Relationship
	Metadata      map[string]any
}

// Result is the full recall response (spec §4.9.3 step 12, §6.2).
// SearchStrategy reports which per-tier search path produced Memories:
// "hybrid" if any tier ran HybridSearch, "text" if every tier fell back to
// Recall's text-only scoring.
type Result struct {
	Memories            []UnifiedResult
	ConversationContext string
	FromCache           bool
	SearchStrategy      string
}

// Metrics tracks running recall statistics (spec §4.9.12).
type Metrics struct {
	TotalQueries           int64
	AvgResponseTimeMillis  float64
	CacheHitRate           float64
	MemoryTypeDistribution map[model.Type]int64
	PopularQueries         []PopularQuery
}

// PopularQuery is one entry of the bounded popular-queries list.
type PopularQuery struct {
	Query        string
	Count        int64
	AvgRelevance float64
}

// tierError records a per-tier search failure without aborting the whole
// pipeline (spec §4.9.4).
type tierError struct {
	Tier model.Type
	Err  error
}
