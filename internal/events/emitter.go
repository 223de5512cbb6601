// Package events implements C10 (SPEC_FULL.md §4.10): a thin dispatcher
// that turns memory lifecycle moments (created, accessed, connected) into
// model.Event values and hands them to a storage provider's optional
// EventSink, logging rather than failing the caller when no sink is wired
// or the sink itself errors. Grounded on the teacher's memChatStore mutation
// logging (persistence/databases/chat_store_memory.go): every state change
// gets a structured zerolog line regardless of whether a durable sink exists.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// Emitter dispatches lifecycle events to an optional sink. A nil sink is
// valid: every method still logs at debug level and returns cleanly.
type Emitter struct {
	sink storage.EventSink
}

// New wires an Emitter around sink, which may be nil.
func New(sink storage.EventSink) *Emitter {
	return &Emitter{sink: sink}
}

// Created records that a new memory was stored (spec §4.10: "created").
func (e *Emitter) Created(ctx context.Context, userID, agentID, memoryID string, metadata map[string]any) {
	e.dispatch(ctx, model.Event{MemoryID: memoryID, UserID: userID, AgentID: agentID, Type: model.EventCreated, Metadata: metadata})
}

// Accessed records that memoryIDs were returned by a recall (spec §4.10:
// "accessed"). Emits one event per memory so a sink can attribute access
// counts per record.
func (e *Emitter) Accessed(ctx context.Context, userID, agentID string, memoryIDs []string) {
	if len(memoryIDs) == 0 {
		return
	}
	batch := make([]model.Event, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		batch = append(batch, model.Event{MemoryID: id, UserID: userID, AgentID: agentID, Type: model.EventAccessed})
	}
	e.dispatchBatch(ctx, batch)
}

// Connected records one discovered connection per event (spec §4.10:
// "connected"), keyed on the source memory so a sink can correlate the
// connection back to the memory that triggered discovery.
func (e *Emitter) Connected(ctx context.Context, userID, agentID string, connections []*model.Connection) {
	if len(connections) == 0 {
		return
	}
	batch := make([]model.Event, 0, len(connections))
	for _, c := range connections {
		batch = append(batch, model.Event{
			MemoryID: c.SourceMemoryID,
			UserID:   userID,
			AgentID:  agentID,
			Type:     model.EventConnected,
			Metadata: map[string]any{"connectionId": c.ID, "targetMemoryId": c.TargetMemoryID, "connectionType": string(c.ConnectionType)},
		})
	}
	e.dispatchBatch(ctx, batch)
}

func (e *Emitter) dispatch(ctx context.Context, event model.Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	log.Debug().Str("memory_id", event.MemoryID).Str("type", string(event.Type)).Msg("events_dispatch")
	if e.sink == nil {
		return
	}
	if err := e.sink.TrackEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("memory_id", event.MemoryID).Str("type", string(event.Type)).Msg("events_dispatch_failed")
	}
}

func (e *Emitter) dispatchBatch(ctx context.Context, batch []model.Event) {
	now := time.Now().UnixMilli()
	for i := range batch {
		if batch[i].Timestamp == 0 {
			batch[i].Timestamp = now
		}
	}
	log.Debug().Int("count", len(batch)).Msg("events_dispatch_batch")
	if e.sink == nil {
		return
	}
	if err := e.sink.TrackEventBatch(ctx, batch); err != nil {
		log.Warn().Err(err).Int("count", len(batch)).Msg("events_dispatch_batch_failed")
	}
}
