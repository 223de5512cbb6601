package model

// EventType is the lifecycle event taxonomy emitted through the storage
// provider's optional evolution sink (SPEC_FULL.md §4.10, §6.1).
type EventType string

const (
	EventCreated   EventType = "created"
	EventAccessed  EventType = "accessed"
	EventConnected EventType = "connected"
)

// Event is the payload dispatched to StorageProvider.TrackEvent(Batch).
type Event struct {
	MemoryID  string         `json:"memoryId"`
	UserID    string         `json:"userId"`
	AgentID   string         `json:"agentId"`
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
