package tiers

import (
	"context"
	"sync"
	"testing"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) TrackEvent(ctx context.Context, event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) TrackEventBatch(ctx context.Context, batch []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *recordingSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestWorkingStoreEmitsCreatedEvent(t *testing.T) {
	sink := &recordingSink{}
	w := NewWorking(storage.NewInMemory(nil), config.WorkingConfig{TTLSeconds: 60}).WithEmitter(events.New(sink))
	if _, err := w.Store(context.Background(), "u1", "a1", "s1", "hello", 0.5); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != model.EventCreated {
		t.Fatalf("expected one created event, got %+v", got)
	}
}

func TestEpisodicStoreEmitsCreatedEvent(t *testing.T) {
	sink := &recordingSink{}
	e := NewEpisodic(storage.NewInMemory(nil), config.EpisodicConfig{ImportanceThreshold: 0, DecayRate: 0.05}).WithEmitter(events.New(sink))
	if _, err := e.Store(context.Background(), "u1", "a1", "s1", "note", 0.5, nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != model.EventCreated {
		t.Fatalf("expected one created event, got %+v", got)
	}
}

func TestSemanticStoreEmitsCreatedEvent(t *testing.T) {
	sink := &recordingSink{}
	s := NewSemantic(storage.NewInMemory(nil), config.SemanticConfig{ConfidenceThreshold: 0.3}).WithEmitter(events.New(sink))
	if _, err := s.Store(context.Background(), "u1", "a1", "fact", 0.8, "general"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != model.EventCreated {
		t.Fatalf("expected one created event, got %+v", got)
	}
}

func TestProceduralStoreEmitsCreatedEvent(t *testing.T) {
	sink := &recordingSink{}
	p := NewProcedural(storage.NewInMemory(nil), config.ProceduralConfig{ConfidenceThreshold: 0.5}).WithEmitter(events.New(sink))
	if _, err := p.Store(context.Background(), "u1", "a1", "on error", "retry"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != model.EventCreated {
		t.Fatalf("expected one created event, got %+v", got)
	}
}

func TestWorkingStoreWithoutEmitterDoesNotPanic(t *testing.T) {
	w := NewWorking(storage.NewInMemory(nil), config.WorkingConfig{TTLSeconds: 60})
	if _, err := w.Store(context.Background(), "u1", "a1", "s1", "hello", 0.5); err != nil {
		t.Fatalf("store: %v", err)
	}
}
