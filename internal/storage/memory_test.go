package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlane/memoryengine/internal/model"
)

func TestInMemoryStoreRecallIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)

	id, err := s.Store(ctx, "alice", "agent-1", model.MemoryData{Type: model.TypeEpisodic, Content: "met bob for coffee"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.Store(ctx, "bob", "agent-1", model.MemoryData{Type: model.TypeEpisodic, Content: "met alice for coffee"})
	require.NoError(t, err)

	got, err := s.Recall(ctx, "alice", "agent-1", "coffee", model.RecallOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1, "expected exactly alice's memory")
	assert.Equal(t, "alice", got[0].UserID)

	// cross-user GetByID must return nil, not an error or the other user's memory.
	m, err := s.GetByID(ctx, "bob", id)
	require.NoError(t, err, "getById should not error on ownership mismatch")
	assert.Nil(t, m, "expected nil for cross-tenant getById")

	m, err = s.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	require.NotNil(t, m, "expected owner getById to succeed")
	assert.Equal(t, 1, m.AccessCount, "expected access count to increment")
}

func TestInMemoryGetStatsSumsByType(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)
	for i := 0; i < 3; i++ {
		_, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeEpisodic, Content: "x", Importance: 0.5})
		require.NoError(t, err)
	}
	_, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeSemantic, Content: "fact", Importance: 1})
	require.NoError(t, err)

	stats, err := s.GetStats(ctx, "u1", "a1", true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalMemories, "expected totalMemories to be sum of byType")
	assert.EqualValues(t, 3, stats.ByType[model.TypeEpisodic])
	assert.EqualValues(t, 1, stats.ByType[model.TypeSemantic])
}

func TestInMemoryConnectionsAndTraversal(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)
	a, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeEpisodic, Content: "one"})
	require.NoError(t, err)
	b, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeEpisodic, Content: "two"})
	require.NoError(t, err)
	c, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeEpisodic, Content: "three"})
	require.NoError(t, err)

	err = s.CreateConnections(ctx, "u1", []*model.Connection{
		{SourceMemoryID: a, TargetMemoryID: b, ConnectionType: model.ConnSimilar, Strength: 0.9},
		{SourceMemoryID: b, TargetMemoryID: c, ConnectionType: model.ConnRelated, Strength: 0.7},
	})
	require.NoError(t, err)

	err = s.CreateConnections(ctx, "u1", []*model.Connection{
		{SourceMemoryID: a, TargetMemoryID: b, ConnectionType: "bogus", Strength: 0.9},
	})
	assert.Error(t, err, "expected invalid connection type to be rejected")

	result, err := s.FindConnectedMemories(ctx, "u1", a, 2)
	require.NoError(t, err)
	assert.Len(t, result.Memories, 2, "expected b and c reachable within depth 2")
	assert.Len(t, result.Connections, 2, "expected both edges visited")

	conns, err := s.GetConnectionsForMemories(ctx, "u1", []string{a})
	require.NoError(t, err)
	assert.Len(t, conns, 1, "expected exactly one edge touching a")
}

func TestInMemoryApplyDecayRemovesExhaustedMemories(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)
	id, err := s.Store(ctx, "u1", "a1", model.MemoryData{Type: model.TypeEpisodic, Content: "fading", Resonance: 0.08})
	require.NoError(t, err)

	result, err := s.ApplyDecay(ctx, "u1", "a1", DecayOptions{DecayRate: 0.05})
	require.NoError(t, err)
	assert.Equal(t, DecayResult{Processed: 1, Decayed: 1, Removed: 0}, result)

	result, err = s.ApplyDecay(ctx, "u1", "a1", DecayOptions{DecayRate: 0.05})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed, "expected memory to be removed once resonance hits zero")

	m, err := s.GetByID(ctx, "u1", id)
	require.NoError(t, err)
	assert.Nil(t, m, "expected removed memory to be gone")
}

func TestInMemoryVectorAndHybridSearch(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)

	_, err := s.Store(ctx, "u1", "a1", model.MemoryData{
		Type: model.TypeSemantic, Content: "likes espresso",
		Metadata: map[string]any{"embedding": []float32{1, 0, 0}},
	})
	require.NoError(t, err)
	_, err = s.Store(ctx, "u1", "a1", model.MemoryData{
		Type: model.TypeSemantic, Content: "enjoys hiking",
		Metadata: map[string]any{"embedding": []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	require.True(t, s.SupportsVectorSearch())
	require.True(t, s.SupportsHybridSearch())

	scored, err := s.SearchByVector(ctx, "u1", "a1", []float32{1, 0, 0}, VectorSearchOptions{Limit: 5, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, scored, 1, "expected only the matching vector above threshold")
	assert.Equal(t, "likes espresso", scored[0].Memory.Content)

	hybrid, err := s.HybridSearch(ctx, "u1", "a1", "hiking", []float32{0, 1, 0}, VectorSearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hybrid)
	assert.Equal(t, "enjoys hiking", hybrid[0].Memory.Content, "expected hiking memory to rank first")
}
