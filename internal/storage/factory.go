package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
)

// FromConfig builds the Memory-capable Provider selected by cfg.Storage.Backend.
// "memory" (the default) returns the in-process reference implementation;
// "postgres" opens a pgx pool sized to cfg.Embedding.Dimensions and
// optionally layers a Qdrant vector index and/or a Redis read-through cache
// on top of it, per cfg.Storage.Qdrant.Enabled / cfg.Storage.Redis.Enabled.
func FromConfig(ctx context.Context, cfg config.IntelligenceLayerConfig) (Memory, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return newPostgresFromConfig(ctx, cfg)
	case "", "memory":
		return NewInMemory(nil), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
}

func newPostgresFromConfig(ctx context.Context, cfg config.IntelligenceLayerConfig) (Memory, error) {
	sc := cfg.Storage
	if !sc.Postgres.Enabled {
		return nil, fmt.Errorf("storage: backend=postgres requires STORAGE.Postgres.Enabled")
	}
	pg, err := NewPostgres(ctx, sc.Postgres.DSN, cfg.Embedding.Dimensions, sc.Postgres.VectorMetric)
	if err != nil {
		return nil, err
	}
	if sc.Qdrant.Enabled {
		idx, err := NewQdrantIndex(ctx, sc.Qdrant.DSN, sc.Qdrant.Collection, cfg.Embedding.Dimensions, sc.Qdrant.Metric)
		if err != nil {
			log.Warn().Err(err).Msg("storage: qdrant init failed, falling back to pgvector search")
		} else {
			pg.WithVectorIndex(idx)
		}
	}
	if sc.Redis.Enabled {
		cache, err := NewRedisKV(sc.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("storage: redis cache init failed, continuing without it")
		} else {
			pg.WithCache(cache)
		}
	}
	return pg, nil
}
