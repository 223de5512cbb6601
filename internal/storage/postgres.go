package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/model"
)

// Postgres is a pgx-backed Provider implementation, grounded on the
// teacher's pgChatStore (persistence/databases/chat_store_postgres.go) for
// its CREATE TABLE IF NOT EXISTS / ALTER TABLE ADD COLUMN IF NOT EXISTS
// migration style and pgx.ErrNoRows handling, and on pgVector
// (persistence/databases/postgres_vector.go) for the pgvector <=> / <-> /
// <#> distance-operator search. Embeddings are stored in a pgvector column
// cast from a bracketed literal ("[0.1,0.2,...]"::vector) rather than bound
// as a typed parameter, matching the teacher's toVectorLiteral approach.
type Postgres struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string

	// cache, if set, fronts GetByID with a Redis read-through layer
	// (internal/storage/redis.go). vectorIndex, if set, delegates
	// SearchByVector's ranking to Qdrant instead of pgvector; HybridSearch
	// always ranks with pgvector.
	cache       *RedisKV
	vectorIndex *QdrantIndex
}

// WithCache attaches a Redis read-through cache for GetByID. Nil-safe: a nil
// cache leaves GetByID hitting Postgres directly.
func (p *Postgres) WithCache(cache *RedisKV) *Postgres {
	p.cache = cache
	return p
}

// WithVectorIndex routes SearchByVector through Qdrant instead of the
// pgvector column (HybridSearch is not routed); Store also upserts into
// Qdrant to keep the index current.
func (p *Postgres) WithVectorIndex(idx *QdrantIndex) *Postgres {
	p.vectorIndex = idx
	return p
}

// NewPostgres opens a pool against dsn and runs the schema migration.
// dimensions <= 0 leaves the embedding column untyped (vector with no fixed
// size), matching pgVector.NewPostgresVector's fallback.
func NewPostgres(ctx context.Context, dsn string, dimensions int, metric string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	p := &Postgres{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, _ = p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vecType := "vector"
	if p.dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", p.dimensions)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memoryengine_memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    importance DOUBLE PRECISION NOT NULL DEFAULT 0,
    resonance DOUBLE PRECISION NOT NULL DEFAULT 1,
    access_count INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    last_accessed_at BIGINT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    keywords TEXT[] NOT NULL DEFAULT '{}',
    embedding_id TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding %s
);
CREATE INDEX IF NOT EXISTS memoryengine_memories_user_agent_idx ON memoryengine_memories(user_id, agent_id);
CREATE INDEX IF NOT EXISTS memoryengine_memories_user_created_idx ON memoryengine_memories(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memoryengine_connections (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    source_memory_id TEXT NOT NULL,
    target_memory_id TEXT NOT NULL,
    connection_type TEXT NOT NULL,
    strength DOUBLE PRECISION NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS memoryengine_connections_source_idx ON memoryengine_connections(source_memory_id);
CREATE INDEX IF NOT EXISTS memoryengine_connections_target_idx ON memoryengine_connections(target_memory_id);

CREATE TABLE IF NOT EXISTS memoryengine_kv (
    key TEXT PRIMARY KEY,
    value BYTEA NOT NULL
);
`, vecType))
	return err
}

func (p *Postgres) MemoryOps() Memory { return p }

func (p *Postgres) EventSink() (EventSink, bool) { return noopSink{}, false }

// Close releases the pool. Not part of Provider; called by the composition
// root on shutdown.
func (p *Postgres) Close() { p.pool.Close() }

// --- generic KV, grounded on pgChatStore's table-backed CRUD style --------

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM memoryengine_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO memoryengine_kv(key, value) VALUES($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memoryengine_kv WHERE key = $1`, key)
	return err
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM memoryengine_kv WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

func (p *Postgres) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := map[string][]byte{}
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM memoryengine_kv WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *Postgres) SetMany(ctx context.Context, values map[string][]byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for k, v := range values {
		if _, err := tx.Exec(ctx, `
INSERT INTO memoryengine_kv(key, value) VALUES($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM memoryengine_kv WHERE key = ANY($1)`, keys)
	return err
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key FROM memoryengine_kv WHERE key LIKE $1 ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE memoryengine_kv`)
	return err
}

// --- typed memory ops -------------------------------------------------

func (p *Postgres) Store(ctx context.Context, userID, agentID string, data model.MemoryData) (string, error) {
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
	id := uuid.NewString()
	tokenCount := data.TokenCount
	if tokenCount == 0 && data.Content != "" {
		tokenCount = (len(data.Content) + 3) / 4
	}
	meta, vecLit := splitEmbedding(data.Metadata)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO memoryengine_memories(
    id, user_id, agent_id, type, content, importance, resonance, access_count,
    created_at, updated_at, last_accessed_at, session_id, token_count, keywords,
    embedding_id, metadata, embedding
) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$10,$11,$12,$13,$14,$15,$16::vector)`,
		id, userID, agentID, string(data.Type), data.Content, data.Importance, data.Resonance,
		created, now, created, data.SessionID, tokenCount, data.Keywords, data.EmbeddingID, metaJSON, vecLit)
	if err != nil {
		return "", fmt.Errorf("postgres: store: %w", err)
	}
	if p.vectorIndex != nil {
		if vec, ok := data.Metadata["embedding"].([]float32); ok && len(vec) > 0 {
			if err := p.vectorIndex.Upsert(ctx, id, userID, agentID, string(data.Type), vec); err != nil {
				log.Warn().Err(err).Str("memoryId", id).Msg("postgres: qdrant upsert failed")
			}
		}
	}
	return id, nil
}

func (p *Postgres) Recall(ctx context.Context, userID, agentID, query string, opts model.RecallOptions) ([]*model.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.Recall", "userId required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	sql := `SELECT ` + memoryColumns + ` FROM memoryengine_memories WHERE user_id = $1`
	args := []any{userID}
	n := 1
	if agentID != "" {
		n++
		sql += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, agentID)
	}
	if opts.Type != "" {
		n++
		sql += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, string(opts.Type))
	}
	if opts.HasTimeRange {
		n++
		sql += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, opts.TimeRangeStart)
		n++
		sql += fmt.Sprintf(" AND created_at <= $%d", n)
		args = append(args, opts.TimeRangeEnd)
	}
	if query != "" {
		n++
		sql += fmt.Sprintf(" AND content ILIKE $%d", n)
		args = append(args, "%"+query+"%")
	}
	n++
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recall: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (p *Postgres) GetByID(ctx context.Context, userID, memoryID string) (*model.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.GetByID", "userId required")
	}
	cacheKey := "memoryengine:memory:" + userID + ":" + memoryID
	if p.cache != nil {
		if raw, ok, err := p.cache.Get(ctx, cacheKey); err == nil && ok {
			var cached model.Memory
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}
	row := p.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memoryengine_memories WHERE id = $1 AND user_id = $2`, memoryID, userID)
	m, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getById: %w", err)
	}
	_, err = p.pool.Exec(ctx, `UPDATE memoryengine_memories SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2`, nowMillis(), memoryID)
	if err != nil {
		return nil, err
	}
	m.AccessCount++
	if p.cache != nil {
		if raw, err := json.Marshal(m); err == nil {
			if err := p.cache.Set(ctx, cacheKey, raw); err != nil {
				log.Debug().Err(err).Str("memoryId", memoryID).Msg("postgres: cache write failed")
			}
		}
	}
	return m, nil
}

func (p *Postgres) Update(ctx context.Context, userID, agentID, memoryID string, partial map[string]any) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.Update", "userId required")
	}
	existing, err := p.GetByID(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if existing == nil {
		return model.NewError(model.KindStorage, "storage.Update", model.ErrNotFound)
	}
	content := existing.Content
	if v, ok := partial["content"].(string); ok {
		content = v
	}
	importance := existing.Importance
	if v, ok := partial["importance"].(float64); ok {
		importance = v
	}
	resonance := existing.Resonance
	if v, ok := partial["resonance"].(float64); ok {
		resonance = v
	}
	meta := existing.Metadata
	if v, ok := partial["metadata"].(map[string]any); ok {
		if meta == nil {
			meta = map[string]any{}
		}
		for k, val := range v {
			meta[k] = val
		}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
UPDATE memoryengine_memories SET content = $1, importance = $2, resonance = $3, metadata = $4, updated_at = $5
WHERE id = $6 AND user_id = $7`, content, importance, resonance, metaJSON, nowMillis(), memoryID, userID)
	if err == nil && p.cache != nil {
		_ = p.cache.Delete(ctx, "memoryengine:memory:"+userID+":"+memoryID)
	}
	return err
}

func (p *Postgres) Delete(ctx context.Context, userID, agentID, memoryID string) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.Delete", "userId required")
	}
	if p.cache != nil {
		_ = p.cache.Delete(ctx, "memoryengine:memory:"+userID+":"+memoryID)
	}
	if p.vectorIndex != nil {
		_ = p.vectorIndex.Delete(ctx, memoryID)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM memoryengine_memories WHERE id = $1 AND user_id = $2`, memoryID, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM memoryengine_connections WHERE user_id = $1 AND (source_memory_id = $2 OR target_memory_id = $2)`, userID, memoryID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetStats(ctx context.Context, userID, agentID string, hasAgentID bool) (model.Stats, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Stats{}, model.Validation("storage.GetStats", "userId required")
	}
	sql := `SELECT type, COUNT(*), COALESCE(AVG(importance),0), COALESCE(SUM(LENGTH(content)),0) FROM memoryengine_memories WHERE user_id = $1`
	args := []any{userID}
	if hasAgentID {
		sql += " AND agent_id = $2"
		args = append(args, agentID)
	}
	sql += " GROUP BY type"
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return model.Stats{}, fmt.Errorf("postgres: getStats: %w", err)
	}
	defer rows.Close()
	byType := map[model.Type]int64{}
	var total int64
	var totalSize int64
	var weightedImportance float64
	for rows.Next() {
		var typ string
		var count int64
		var avgImportance float64
		var size int64
		if err := rows.Scan(&typ, &count, &avgImportance, &size); err != nil {
			return model.Stats{}, err
		}
		byType[model.Type(typ)] = count
		total += count
		totalSize += size
		weightedImportance += avgImportance * float64(count)
	}
	avg := 0.0
	if total > 0 {
		avg = weightedImportance / float64(total)
	}
	return model.Stats{TotalMemories: total, ByType: byType, AvgImportance: avg, TotalSize: totalSize}, rows.Err()
}

// --- connections --------------------------------------------------------

func (p *Postgres) CreateConnections(ctx context.Context, userID string, conns []*model.Connection) error {
	if strings.TrimSpace(userID) == "" {
		return model.Validation("storage.CreateConnections", "userId required")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range conns {
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
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO memoryengine_connections(id, user_id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`, c.ID, userID, c.SourceMemoryID, c.TargetMemoryID, string(c.ConnectionType), c.Strength, c.Reason, c.CreatedAt, metaJSON); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetConnectionsForMemories(ctx context.Context, userID string, memoryIDs []string) ([]*model.Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.GetConnectionsForMemories", "userId required")
	}
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, source_memory_id, target_memory_id, connection_type, strength, reason, created_at, metadata
FROM memoryengine_connections
WHERE user_id = $1 AND (source_memory_id = ANY($2) OR target_memory_id = ANY($2))`, userID, memoryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (p *Postgres) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int) (ConnectedResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ConnectedResult{}, model.Validation("storage.FindConnectedMemories", "userId required")
	}
	if depth < 1 {
		depth = 1
	}
	visited := map[string]bool{memoryID: true}
	frontier := []string{memoryID}
	var memories []*model.Memory
	var conns []*model.Connection
	connSeen := map[string]bool{}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		edges, err := p.GetConnectionsForMemories(ctx, userID, frontier)
		if err != nil {
			return ConnectedResult{}, err
		}
		frontierSet := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			frontierSet[id] = true
		}
		var next []string
		for _, c := range edges {
			if !connSeen[c.ID] {
				connSeen[c.ID] = true
				conns = append(conns, c)
			}
			other := c.TargetMemoryID
			if frontierSet[other] {
				other = c.SourceMemoryID
			}
			if visited[other] {
				continue
			}
			visited[other] = true
			next = append(next, other)
			m, err := p.GetByID(ctx, userID, other)
			if err == nil && m != nil {
				memories = append(memories, m)
			}
		}
		frontier = next
	}
	return ConnectedResult{Memories: memories, Connections: conns}, nil
}

// --- decay ----------------------------------------------------------------

func (p *Postgres) ApplyDecay(ctx context.Context, userID, agentID string, opts DecayOptions) (DecayResult, error) {
	if strings.TrimSpace(userID) == "" {
		return DecayResult{}, model.Validation("storage.ApplyDecay", "userId required")
	}
	rate := opts.DecayRate
	if rate <= 0 {
		rate = 0.05
	}
	sql := `UPDATE memoryengine_memories SET resonance = resonance - $1 WHERE user_id = $2 AND agent_id = $3`
	args := []any{rate, userID, agentID}
	if opts.HasType {
		sql += " AND type = $4"
		args = append(args, string(opts.Type))
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return DecayResult{}, err
	}
	processed := int(tag.RowsAffected())

	delSQL := `DELETE FROM memoryengine_memories WHERE user_id = $1 AND agent_id = $2 AND resonance <= 0`
	delArgs := []any{userID, agentID}
	if opts.HasType {
		delSQL += " AND type = $3"
		delArgs = append(delArgs, string(opts.Type))
	}
	delTag, err := p.pool.Exec(ctx, delSQL, delArgs...)
	if err != nil {
		return DecayResult{}, err
	}
	removed := int(delTag.RowsAffected())
	return DecayResult{Processed: processed, Decayed: processed - removed, Removed: removed}, nil
}

// --- vector / hybrid search, grounded on pgVector's operator switch -------

func (p *Postgres) SupportsVectorSearch() bool { return true }
func (p *Postgres) SupportsHybridSearch() bool { return true }

func (p *Postgres) distanceOp() (op, scoreExpr string) {
	switch p.metric {
	case "l2", "euclidean":
		return "<->", "-(embedding <-> $1::vector)"
	case "ip", "dot":
		return "<#>", "-(embedding <#> $1::vector)"
	default:
		return "<=>", "1 - (embedding <=> $1::vector)"
	}
}

func (p *Postgres) SearchByVector(ctx context.Context, userID, agentID string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.SearchByVector", "userId required")
	}
	if p.vectorIndex != nil {
		return p.searchByVectorQdrant(ctx, userID, agentID, embedding, opts)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	op, scoreExpr := p.distanceOp()
	vecLit := toVectorLiteral(embedding)
	sql := fmt.Sprintf(`SELECT %s, %s AS score FROM memoryengine_memories WHERE user_id = $2 AND embedding IS NOT NULL`, memoryColumns, scoreExpr)
	args := []any{vecLit, userID}
	n := 2
	if agentID != "" {
		n++
		sql += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, agentID)
	}
	if opts.HasType {
		n++
		sql += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, string(opts.Type))
	}
	n++
	sql += fmt.Sprintf(" ORDER BY embedding %s $1::vector LIMIT $%d", op, n)
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: searchByVector: %w", err)
	}
	defer rows.Close()
	return scanScoredMemories(rows, opts.Threshold)
}

// searchByVectorQdrant ranks via Qdrant, then hydrates each hit's full
// memory record from Postgres (GetByID, which is itself Redis read-through
// when p.cache is set).
func (p *Postgres) searchByVectorQdrant(ctx context.Context, userID, agentID string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	hits, err := p.vectorIndex.Search(ctx, userID, agentID, embedding, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMemory, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.Threshold {
			continue
		}
		m, err := p.GetByID(ctx, userID, h.MemoryID)
		if err != nil || m == nil {
			continue
		}
		if opts.HasType && m.Type != opts.Type {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: h.Score})
	}
	return out, nil
}

func (p *Postgres) HybridSearch(ctx context.Context, userID, agentID, query string, embedding []float32, opts VectorSearchOptions) ([]ScoredMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.Validation("storage.HybridSearch", "userId required")
	}
	vw, tw := opts.VectorWeight, opts.TextWeight
	if vw == 0 && tw == 0 {
		vw, tw = 0.6, 0.4
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	_, scoreExpr := p.distanceOp()
	vecLit := toVectorLiteral(embedding)
	textExpr := "CASE WHEN content ILIKE $3 THEN 1.0 ELSE 0.0 END"
	combined := fmt.Sprintf("(%g * COALESCE(CASE WHEN embedding IS NOT NULL THEN (%s) ELSE 0 END, 0)) + (%g * %s)", vw, scoreExpr, tw, textExpr)
	sql := fmt.Sprintf(`SELECT %s, %s AS score FROM memoryengine_memories WHERE user_id = $2`, memoryColumns, combined)
	args := []any{vecLit, userID, "%" + query + "%"}
	n := 3
	if agentID != "" {
		n++
		sql += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, agentID)
	}
	if opts.HasType {
		n++
		sql += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, string(opts.Type))
	}
	n++
	sql += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: hybridSearch: %w", err)
	}
	defer rows.Close()
	return scanScoredMemories(rows, opts.Threshold)
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}

// splitEmbedding pulls Metadata["embedding"] out of a memory's metadata so
// it can be stored in the dedicated pgvector column rather than duplicated
// inside the JSONB blob.
func splitEmbedding(meta map[string]any) (map[string]any, any) {
	if meta == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(meta))
	var vecLit any
	for k, v := range meta {
		if k == "embedding" {
			if vec, ok := v.([]float32); ok {
				vecLit = toVectorLiteral(vec)
			}
			continue
		}
		out[k] = v
	}
	return out, vecLit
}

const memoryColumns = `id, user_id, agent_id, type, content, importance, resonance, access_count, created_at, updated_at, last_accessed_at, session_id, token_count, keywords, embedding_id, metadata`

func scanMemoryRow(scan func(dest ...any) error) (*model.Memory, error) {
	var m model.Memory
	var typ string
	var metaJSON []byte
	if err := scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
		&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.SessionID, &m.TokenCount,
		&m.Keywords, &m.EmbeddingID, &metaJSON); err != nil {
		return nil, err
	}
	m.Type = model.Type(typ)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func scanMemory(row pgx.Row) (*model.Memory, error) { return scanMemoryRow(row.Scan) }

func scanMemories(rows pgx.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanScoredMemories(rows pgx.Rows, threshold float64) ([]ScoredMemory, error) {
	var out []ScoredMemory
	for rows.Next() {
		var m model.Memory
		var typ string
		var metaJSON []byte
		var score float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &typ, &m.Content, &m.Importance, &m.Resonance,
			&m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.SessionID, &m.TokenCount,
			&m.Keywords, &m.EmbeddingID, &metaJSON, &score); err != nil {
			return nil, err
		}
		m.Type = model.Type(typ)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, err
			}
		}
		if score < threshold {
			continue
		}
		out = append(out, ScoredMemory{Memory: &m, Score: score})
	}
	return out, rows.Err()
}

func scanConnections(rows pgx.Rows) ([]*model.Connection, error) {
	var out []*model.Connection
	for rows.Next() {
		var c model.Connection
		var typ string
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.SourceMemoryID, &c.TargetMemoryID, &typ, &c.Strength, &c.Reason, &c.CreatedAt, &metaJSON); err != nil {
			return nil, err
		}
		c.ConnectionType = model.ConnectionType(typ)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
