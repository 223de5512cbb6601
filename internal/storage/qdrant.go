package storage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantOriginalIDField holds a memory's real ID in the point payload when
// that ID isn't itself a valid UUID, matching the teacher's qdrantVector
// (persistence/databases/qdrant_vector.go) workaround for Qdrant's
// UUID/integer-only point ID constraint.
const qdrantOriginalIDField = "_original_id"

// QdrantIndex is a vector-search-only index over memory embeddings, meant to
// be composed in front of the Postgres Provider (see
// Postgres.WithVectorIndex) rather than used standalone: it has no notion of
// connections, decay, or recall text search.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantIndex parses dsn for host/port (and an optional ?api_key=
// query parameter) and ensures the target collection exists, creating it
// with the configured distance metric if missing.
func NewQdrantIndex(ctx context.Context, dsn, collection string, dimensions int, metric string) (*QdrantIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	q := &QdrantIndex{client: client, collection: collection, dimension: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant: requires dimensions > 0")
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func qdrantPointID(memoryID string) string {
	if _, err := uuid.Parse(memoryID); err == nil {
		return memoryID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
}

// Upsert indexes a memory's embedding, tagging it with userId/agentId/type so
// Search can filter without a round trip to the memory store.
func (q *QdrantIndex) Upsert(ctx context.Context, memoryID, userID, agentID string, typ string, vector []float32) error {
	pointUUID := qdrantPointID(memoryID)
	payload := map[string]any{"userId": userID, "agentId": agentID, "type": typ}
	if pointUUID != memoryID {
		payload[qdrantOriginalIDField] = memoryID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *QdrantIndex) Delete(ctx context.Context, memoryID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(qdrantPointID(memoryID))),
	})
	return err
}

// QdrantHit is one scored result from Search, keyed by the original memory ID
// recovered from the point payload.
type QdrantHit struct {
	MemoryID string
	Score    float64
}

// Search runs a kNN query scoped to userID (and agentID, if set).
func (q *QdrantIndex) Search(ctx context.Context, userID, agentID string, vector []float32, k int) ([]QdrantHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	must := []*qdrant.Condition{qdrant.NewMatch("userId", userID)}
	if agentID != "" {
		must = append(must, qdrant.NewMatch("agentId", agentID))
	}
	limit := uint64(k)
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	out := make([]QdrantHit, 0, len(resp))
	for _, hit := range resp {
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if v, ok := hit.Payload[qdrantOriginalIDField]; ok {
				id = v.GetStringValue()
			}
		}
		out = append(out, QdrantHit{MemoryID: id, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *QdrantIndex) Close() error { return q.client.Close() }
