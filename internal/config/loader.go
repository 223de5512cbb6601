package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables (optionally .env),
// applying defaults for anything unset. Mirrors the teacher's cascade style:
// .env overlays the process environment, then each field is read with
// os.Getenv plus a typed parse helper, defaults applied last.
func Load() IntelligenceLayerConfig {
	_ = godotenv.Overload()

	cfg := IntelligenceLayerConfig{}

	cfg.Embedding = EmbeddingConfig{
		Enabled:             boolEnv("EMBEDDING_ENABLED", true),
		Provider:            firstNonEmpty(os.Getenv("EMBEDDING_PROVIDER"), "openai"),
		Model:               firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		Dimensions:          intEnv("EMBEDDING_DIMENSIONS", 1536),
		CacheEnabled:        boolEnv("EMBEDDING_CACHE_ENABLED", true),
		BatchSize:           intEnv("EMBEDDING_BATCH_SIZE", 100),
		CacheSize:           intEnv("EMBEDDING_CACHE_SIZE", 1000),
		SimilarityThreshold: floatEnv("EMBEDDING_SIMILARITY_THRESHOLD", 0.3),
		APIKey:              os.Getenv("OPENAI_API_KEY"),
		BaseURL:             os.Getenv("EMBEDDING_BASE_URL"),
		Timeout:             durationSecondsEnv("EMBEDDING_TIMEOUT_SECONDS", 30*time.Second),
	}
	if strings.EqualFold(os.Getenv("MOCK_EMBEDDINGS"), "true") || cfg.Embedding.Provider == "mock" {
		cfg.Embedding.Provider = "mock"
	}

	cfg.ConnectionDetection = ConnectionConfig{
		Enabled:       boolEnv("CONNECTION_DETECTION_ENABLED", true),
		Provider:      firstNonEmpty(os.Getenv("CONNECTION_PROVIDER"), os.Getenv("PRIME_PROVIDER"), "openai"),
		Model:         os.Getenv("CONNECTION_MODEL"),
		StandardModel: os.Getenv("CONNECTION_STANDARD_MODEL"),
		EnhancedModel: firstNonEmpty(os.Getenv("CONNECTION_ENHANCED_MODEL"), os.Getenv("CONNECTION_ADVANCED_MODEL")),
		EnhancedAlways: boolEnv("CONNECTION_ALWAYS_ADVANCED", false),
		PreferQuality:  boolEnv("CONNECTION_PREFER_QUALITY", false),
		Thresholds: ConnectionThresholds{
			AutoSimilar: floatEnv("CONNECTION_AUTO_SIMILAR", 0.8),
			AutoRelated: floatEnv("CONNECTION_AUTO_RELATED", 0.6),
			LLMRequired: floatEnv("CONNECTION_LLM_REQUIRED", 0.3),
		},
		MaxCandidates: intEnv("CONNECTION_MAX_CANDIDATES", 50),
		BatchSize:     intEnv("CONNECTION_BATCH_SIZE", 10),
		Temperature:   floatEnv("CONNECTION_TEMPERATURE", 0.2),
		MaxTokens:     intEnv("CONNECTION_MAX_TOKENS", 500),
	}

	cfg.Temporal = TemporalConfig{
		Enabled:                boolEnv("TEMPORAL_ENABLED", true),
		AnalysisFrequency:      firstNonEmpty(os.Getenv("TEMPORAL_ANALYSIS_FREQUENCY"), "hourly"),
		MinMemoriesForAnalysis: intEnv("TEMPORAL_MIN_MEMORIES", 5),
		EnableLLMEnhancement:   boolEnv("TEMPORAL_ENABLE_LLM", false),
	}

	cfg.Recall = RecallConfig{
		DefaultLimit:          intEnv("RECALL_DEFAULT_LIMIT", 20),
		ProductionLimit:       intEnv("RECALL_PRODUCTION_LIMIT", 50),
		MinRelevanceThreshold: floatEnv("RECALL_MIN_RELEVANCE", 0.1),
		HybridSearchWeights: HybridWeights{
			Vector:     floatEnv("RECALL_WEIGHT_VECTOR", 0.4),
			Text:       floatEnv("RECALL_WEIGHT_TEXT", 0.3),
			Temporal:   floatEnv("RECALL_WEIGHT_TEMPORAL", 0.2),
			Procedural: floatEnv("RECALL_WEIGHT_PROCEDURAL", 0.1),
		},
		EnableVectorSearch:    boolEnv("RECALL_ENABLE_VECTOR_SEARCH", true),
		EnableRelatedMemories: boolEnv("RECALL_ENABLE_RELATED_MEMORIES", true),
		MaxRelatedDepth:       intEnv("RECALL_MAX_RELATED_DEPTH", 5),
		CacheResults:          boolEnv("RECALL_CACHE_RESULTS", true),
		CacheTTL:              durationMillisEnv("RECALL_CACHE_TTL_MS", 5*time.Minute),
		DefaultConnectionHops: intEnv("RECALL_DEFAULT_CONNECTION_HOPS", 1),
		CacheHighWater:        intEnv("RECALL_CACHE_HIGH_WATER", 1000),
		CacheLowWater:         intEnv("RECALL_CACHE_LOW_WATER", 900),
	}

	cfg.CostControl = CostControlConfig{
		MaxLLMCallsPerBatch:        intEnv("COST_MAX_LLM_CALLS_PER_BATCH", 10),
		PreferEmbeddingWhenSimilar: boolEnv("COST_PREFER_EMBEDDING_WHEN_SIMILAR", true),
		TrackTokenUsage:            boolEnv("COST_TRACK_TOKEN_USAGE", true),
	}
	if v := os.Getenv("COST_MONTHLY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CostControl.MonthlyBudget = f
			cfg.CostControl.HasMonthlyBudget = true
		}
	}

	cfg.Working = WorkingConfig{
		MaxTokens:            intEnv("WORKING_MAX_TOKENS", 4000),
		TTLSeconds:           int64(intEnv("WORKING_TTL_SECONDS", 3600)),
		MaxContextItems:      intEnv("WORKING_MAX_CONTEXT_ITEMS", 20),
		CompressionThreshold: floatEnv("WORKING_COMPRESSION_THRESHOLD", 0.8),
		EncryptSensitive:     boolEnv("WORKING_ENCRYPT_SENSITIVE", false),
	}
	cfg.Episodic = EpisodicConfig{
		MaxMemoriesPerSession: intEnv("EPISODIC_MAX_MEMORIES_PER_SESSION", 1000),
		DecayRate:             floatEnv("EPISODIC_DECAY_RATE", 0.05),
		ImportanceThreshold:   floatEnv("EPISODIC_IMPORTANCE_THRESHOLD", 0.3),
		CompressionAgeDays:    int64(intEnv("EPISODIC_COMPRESSION_AGE_DAYS", 30)),
		EncryptSensitive:      boolEnv("EPISODIC_ENCRYPT_SENSITIVE", false),
	}
	cfg.Semantic = SemanticConfig{
		ConfidenceThreshold:    floatEnv("SEMANTIC_CONFIDENCE_THRESHOLD", 0.5),
		DeduplicationThreshold: floatEnv("SEMANTIC_DEDUPLICATION_THRESHOLD", 0.8),
		MaxMemoriesPerCategory: intEnv("SEMANTIC_MAX_MEMORIES_PER_CATEGORY", 500),
		VectorSearchEnabled:    boolEnv("SEMANTIC_VECTOR_SEARCH_ENABLED", true),
		AutoExtractFacts:       boolEnv("SEMANTIC_AUTO_EXTRACT_FACTS", false),
		EncryptSensitive:       boolEnv("SEMANTIC_ENCRYPT_SENSITIVE", false),
	}
	cfg.Procedural = ProceduralConfig{
		MinSuccessRate:         floatEnv("PROCEDURAL_MIN_SUCCESS_RATE", 0.5),
		MaxPatternsPerCategory: intEnv("PROCEDURAL_MAX_PATTERNS_PER_CATEGORY", 200),
		DecayRate:              floatEnv("PROCEDURAL_DECAY_RATE", 0.0),
		ConfidenceThreshold:    floatEnv("PROCEDURAL_CONFIDENCE_THRESHOLD", 0.7),
		AdaptiveLearning:       boolEnv("PROCEDURAL_ADAPTIVE_LEARNING", true),
		PatternMerging:         boolEnv("PROCEDURAL_PATTERN_MERGING", true),
	}

	cfg.Graph = GraphConfig{
		MaxDepth:          intEnv("GRAPH_MAX_DEPTH", 6),
		MaxConnections:    intEnv("GRAPH_MAX_CONNECTIONS", 50),
		StrengthThreshold: floatEnv("GRAPH_STRENGTH_THRESHOLD", 0.1),
	}

	cfg.Storage = StorageConfig{
		Backend: firstNonEmpty(os.Getenv("STORAGE_BACKEND"), "memory"),
		Postgres: PostgresConfig{
			Enabled:      boolEnv("POSTGRES_ENABLED", false),
			DSN:          os.Getenv("POSTGRES_DSN"),
			VectorMetric: firstNonEmpty(os.Getenv("POSTGRES_VECTOR_METRIC"), "cosine"),
		},
		Qdrant: QdrantConfig{
			Enabled:    boolEnv("QDRANT_ENABLED", false),
			DSN:        firstNonEmpty(os.Getenv("QDRANT_DSN"), "http://localhost:6334"),
			Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "memories"),
			Metric:     firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
		},
		Redis: RedisConfig{
			Enabled:  boolEnv("REDIS_ENABLED", false),
			Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intEnv("REDIS_DB", 0),
		},
	}

	cfg.Obs = ObsConfig{
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "memory-engine"),
		ServiceVersion: firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev"),
		Environment:    firstNonEmpty(os.Getenv("NODE_ENV"), "development"),
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	cfg.TestMode = boolEnv("MEMORY_ENGINE_TEST_MODE", false) || isTestEnvironment()

	return cfg
}

// IsProduction mirrors the NODE_ENV=production check used by several env
// cascades in SPEC_FULL.md §4.7.5.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("NODE_ENV")), "production")
}

func isTestEnvironment() bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_ENV")))
	return env == "test" || env == "testing" || strings.HasSuffix(os.Args[0], ".test")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durationSecondsEnv(key string, def time.Duration) time.Duration {
	n := intEnv(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func durationMillisEnv(key string, def time.Duration) time.Duration {
	n := intEnv(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
