// Package model holds the data types shared across the memory engine:
// memories, connections, temporal patterns, and the closed error taxonomy.
package model

// Type is the closed set of memory tiers.
type Type string

const (
	TypeWorking    Type = "working"
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
)

// Memory is the universal record persisted by the StorageProvider. See
// SPEC_FULL.md §3.1 for the full invariant list.
type Memory struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	AgentID        string         `json:"agentId"`
	Type           Type           `json:"type"`
	Content        string         `json:"content"`
	Importance     float64        `json:"importance"`
	Resonance      float64        `json:"resonance"`
	AccessCount    int            `json:"accessCount"`
	CreatedAt      int64          `json:"createdAt"`
	UpdatedAt      int64          `json:"updatedAt"`
	LastAccessedAt int64          `json:"lastAccessedAt"`
	SessionID      string         `json:"sessionId,omitempty"`
	TokenCount     int            `json:"tokenCount"`
	Keywords       []string       `json:"keywords,omitempty"`
	EmbeddingID    string         `json:"embeddingId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy of m suitable for cache return values and
// cross-tenant result projections (metadata and keywords are copied).
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Keywords != nil {
		cp.Keywords = append([]string(nil), m.Keywords...)
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// MetaString reads a string field from Metadata, returning "" if absent or
// of the wrong type.
func (m *Memory) MetaString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaFloat reads a numeric field from Metadata, returning 0 if absent.
func (m *Memory) MetaFloat(key string) float64 {
	if m == nil || m.Metadata == nil {
		return 0
	}
	switch v := m.Metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// MemoryData is the write-side payload for StorageProvider.Store; UserID/
// AgentID/CreatedAt/UpdatedAt are attached or verified by the storage layer.
type MemoryData struct {
	Type           Type
	Content        string
	Importance     float64
	Resonance      float64
	SessionID      string
	TokenCount     int
	Keywords       []string
	EmbeddingID    string
	Metadata       map[string]any
	CreatedAt      int64
	UpdatedAt      int64
	LastAccessedAt int64
}

// RecallOptions configures StorageProvider.Recall / tier facade recall.
type RecallOptions struct {
	Type            Type
	Limit           int
	TimeRangeStart  int64
	TimeRangeEnd    int64
	HasTimeRange    bool
	IncludeMetadata bool
}

// Stats is the response shape of StorageProvider.GetStats.
type Stats struct {
	TotalMemories int64
	ByType        map[Type]int64
	AvgImportance float64
	TotalSize     int64
}
