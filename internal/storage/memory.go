package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/model"
)

// InMemory is a mutex-protected, map-backed reference implementation of
// Provider. Grounded on the teacher's memChatStore (ownership-check-per-
// lookup pattern) and memoryGraph (id-keyed node/edge maps) shapes. It is
// the default backend for tests and for development without external
// infrastructure.
type InMemory struct {
	mu          sync.RWMutex
	kv          map[string][]byte
	memories    map[string]*model.Memory
	connections map[string]*model.Connection
	outgoing    map[string][]string // memoryID -> connection ids where it is source
	incoming    map[string][]string // memoryID -> connection ids where it is target
	sink        EventSink
}

// NewInMemory constructs an empty in-process store. sink may be nil, in
// which case events are logged at debug level and dropped.
func NewInMemory(sink EventSink) *InMemory {
	return &InMemory{
		kv:          map[string][]byte{},
		memories:    map[string]*model.Memory{},
		connections: map[string]*model.Connection{},
		outgoing:    map[string][]string{},
		incoming:    map[string][]string{},
		sink:        sink,
	}
}

func (s *InMemory) MemoryOps() Memory { return s }

func (s *InMemory) EventSink() (EventSink, bool) {
	if s.sink == nil {
		return noopSink{}, false
	}
	return s.sink, true
}

// --- generic KV ---------------------------------------------------------

func (s *InMemory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *InMemory) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[key] = cp
	return nil
}

func (s *InMemory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *InMemory) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.kv[key]
	return ok, nil
}

func (s *InMemory) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.kv[k]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (s *InMemory) SetMany(ctx context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		s.kv[k] = cp
	}
	return nil
}

func (s *InMemory) DeleteMany(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
	}
	return nil
}

func (s *InMemory) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = map[string][]byte{}
	return nil
}

// --- typed memory ops ----------------------------------------------------

func nowMillis() int64 { return time.Now().UnixMilli() }

func (s *InMemory) Store(ctx context.Context, userID, agentID string, data model.MemoryData) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", model.Validation("storage.Store", "userId required")
	}
	if strings.TrimSpace(agentID) == "" {
		return "", model.Validation("storage.Store", "agentId required")
	}
	now := nowMillis()
	created := data.CreatedAt
	if created == 0 {
		created = now
	}
	m := &model.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		AgentID:        agentID,
		Type:           data.Type,
		Content:        data.Content,
		Importance:     data.Importance,
		Resonance:      data.Resonance,
		CreatedAt:      created,
		UpdatedAt:      now,
		LastAccessedAt: created,
		SessionID:      data.SessionID,
		TokenCount:     data.TokenCount,
		Keywords:       data.Keywords,
		EmbeddingID:    data.EmbeddingID,
		Metadata:       data.Metadata,
	}
	if m.TokenCount == 0 && m.Content != "" {
		m.TokenCount = (len(m.Content) + 3) / 4
	}
	s.mu.Lock()
	s.memories[m.ID] = m
	s.mu.Unlock()
	return m.ID, nil
}

func (s *InMemory) Recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.Recall", "userId required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := nowMillis()
	var out []*model.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if expired(m, now) {
			continue
		}
		if opts.HasTimeRange && (m.CreatedAt < opts.TimeRangeStart || m.CreatedAt > opts.TimeRangeEnd) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func expired(m *model.Memory, now int64) bool {
	if m.Metadata == nil {
		return false
	}
	exp := m.MetaFloat("expiresAt")
	return exp > 0 && now > int64(exp)
}

func (s *InMemory) GetByID(ctx context.Context, userID, memoryID string) (*model.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.GetByID", "userId required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || m.UserID != userID {
		return nil, nil
	}
	if expired(m, nowMillis()) {
		return nil, nil
	}
	m.AccessCount++
	m.LastAccessedAt = nowMillis()
	return m.Clone(), nil
}

func (s *InMemory) Update(ctx context.Context, userID, agentID, memoryID string, partial map[string]any) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.Update", "userId required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || m.UserID != userID {
		return model.NewError(model.KindStorage, "storage.Update", model.ErrNotFound)
	}
	if content, ok := partial["content"].(string); ok {
		m.Content = content
	}
	if imp, ok := partial["importance"].(float64); ok {
		m.Importance = imp
	}
	if res, ok := partial["resonance"].(float64); ok {
		m.Resonance = res
	}
	if meta, ok := partial["metadata"].(map[string]any); ok {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		for k, v := range meta {
			m.Metadata[k] = v
		}
	}
	m.UpdatedAt = nowMillis()
	return nil
}

func (s *InMemory) Delete(ctx context.Context, userID, agentID, memoryID string) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.Delete", "userId required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || m.UserID != userID {
		return nil
	}
	delete(s.memories, memoryID)
	s.removeMemoryEdgesLocked(memoryID)
	return nil
}

func (s *InMemory) GetStats(ctx context.Context, userID, agentID string, hasAgentID bool) (model.Stats, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Stats{}, model.Validation("storage.GetStats", "userId required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := map[model.Type]int64{}
	var totalImportance float64
	var totalSize int64
	var count int64
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if hasAgentID && m.AgentID != agentID {
			continue
		}
		byType[m.Type]++
		totalImportance += m.Importance
		totalSize += int64(len(m.Content))
		count++
	}
	var total int64
	for _, v := range byType {
		total += v
	}
	avg := 0.0
	if count > 0 {
		avg = totalImportance / float64(count)
	}
	return model.Stats{TotalMemories: total, ByType: byType, AvgImportance: avg, TotalSize: totalSize}, nil
}

// --- connections -----------------------------------------------------------

func (s *InMemory) CreateConnections(ctx context.Context, userID string, connections []*model.Connection) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.CreateConnections", "userId required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range connections {
		if c == nil {
			continue
		}
		if !model.ValidConnectionType(c.ConnectionType) {
			return model.Validation("storage.CreateConnections", fmt.Sprintf("invalid connection type %q", c.ConnectionType))
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.UserID = userID
		if c.CreatedAt == 0 {
			c.CreatedAt = nowMillis()
		}
		s.connections[c.ID] = c
		s.outgoing[c.SourceMemoryID] = append(s.outgoing[c.SourceMemoryID], c.ID)
		s.incoming[c.TargetMemoryID] = append(s.incoming[c.TargetMemoryID], c.ID)
	}
	return nil
}

func (s *InMemory) GetConnectionsForMemories(ctx context.Context, userID string, memoryIDs []string) ([]*model.Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.GetConnectionsForMemories", "userId required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []*model.Connection
	for _, id := range memoryIDs {
		for _, cid := range append(append([]string{}, s.outgoing[id]...), s.incoming[id]...) {
			if seen[cid] {
				continue
			}
			c := s.connections[cid]
			if c == nil || c.UserID != userID {
				continue
			}
			seen[cid] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemory) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int) (ConnectedResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ConnectedResult{}, model.Validation("storage.FindConnectedMemories", "userId required")
	}
	if depth < 1 {
		depth = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{memoryID: true}
	frontier := []string{memoryID}
	var memories []*model.Memory
	var connections []*model.Connection
	connSeen := map[string]bool{}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, cid := range append(append([]string{}, s.outgoing[id]...), s.incoming[id]...) {
				c := s.connections[cid]
				if c == nil || c.UserID != userID {
					continue
				}
				if !connSeen[cid] {
					connSeen[cid] = true
					connections = append(connections, c)
				}
				other := c.TargetMemoryID
				if other == id {
					other = c.SourceMemoryID
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
					if m, ok := s.memories[other]; ok && m.UserID == userID {
						memories = append(memories, m.Clone())
					}
				}
			}
		}
		frontier = next
	}
	return ConnectedResult{Memories: memories, Connections: connections}, nil
}

func (s *InMemory) removeMemoryEdgesLocked(memoryID string) {
	for _, cid := range s.outgoing[memoryID] {
		delete(s.connections, cid)
	}
	for _, cid := range s.incoming[memoryID] {
		delete(s.connections, cid)
	}
	delete(s.outgoing, memoryID)
	delete(s.incoming, memoryID)
}

// --- decay -----------------------------------------------------------------

func (s *InMemory) ApplyDecay(ctx context.Context, userID, agentID string, opts DecayOptions) (DecayResult, error) {
	if strings.TrimSpace(userID) == "" {
		return DecayResult{}, model.Validation("storage.ApplyDecay", "userId required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result DecayResult
	rate := opts.DecayRate
	if rate <= 0 {
		rate = 0.05
	}
	for id, m := range s.memories {
		if m.UserID != userID || m.AgentID != agentID {
			continue
		}
		if opts.HasType && m.Type != opts.Type {
			continue
		}
		result.Processed++
		m.Resonance -= rate
		if m.Resonance <= 0 {
			delete(s.memories, id)
			s.removeMemoryEdgesLocked(id)
			result.Removed++
			continue
		}
		result.Decayed++
	}
	return result, nil
}

// --- vector / hybrid search --------------------------------------------

func (s *InMemory) SupportsVectorSearch() bool { return true }
func (s *InMemory) SupportsHybridSearch() bool { return true }

func (s *InMemory) SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.SearchByVector", "userId required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScoredMemory
	for _, m := range s.memories {
		if m.UserID != userID || (agentID != "" && m.AgentID != agentID) {
			continue
		}
		if opts.HasType && m.Type != opts.Type {
			continue
		}
		vec := memoryVector(m)
		if vec == nil {
			continue
		}
		score := cosineSimilarity(embedding, vec)
		if score < opts.Threshold {
			continue
		}
		out = append(out, ScoredMemory{Memory: m.Clone(), Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *InMemory) HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.HybridSearch", "userId required")
	}
	vw, tw := opts.VectorWeight, opts.TextWeight
	if vw == 0 && tw == 0 {
		vw, tw = 0.6, 0.4
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ql := strings.ToLower(query)
	var out []ScoredMemory
	for _, m := range s.memories {
		if m.UserID != userID || (agentID != "" && m.AgentID != agentID) {
			continue
		}
		if opts.HasType && m.Type != opts.Type {
			continue
		}
		var vecScore float64
		if vec := memoryVector(m); vec != nil && embedding != nil {
			vecScore = cosineSimilarity(embedding, vec)
		}
		var textScore float64
		if ql != "" && strings.Contains(strings.ToLower(m.Content), ql) {
			textScore = 1.0
		}
		score := vw*vecScore + tw*textScore
		if score < opts.Threshold {
			continue
		}
		out = append(out, ScoredMemory{Memory: m.Clone(), Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func memoryVector(m *model.Memory) []float32 {
	if m.Metadata == nil {
		return nil
	}
	if v, ok := m.Metadata["embedding"].([]float32); ok {
		return v
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- event sink fallback -------------------------------------------------

type noopSink struct{}

func (noopSink) TrackEvent(ctx context.Context, event model.Event) error {
	log.Debug().Str("memory_id", event.MemoryID).Str("type", string(event.Type)).Msg("event_sink_noop")
	return nil
}

func (noopSink) TrackEventBatch(ctx context.Context, events []model.Event) error {
	log.Debug().Int("count", len(events)).Msg("event_sink_noop_batch")
	return nil
}
