// Package config loads the memory engine's runtime configuration from
// environment variables, following the env-cascade style of the teacher's
// orchestration config loader: read env (with an optional .env file
// overlaid) first, then fall back to hardcoded defaults. No YAML config file
// is read.
package config

import "time"

// ObsConfig configures the ambient tracing/metrics stack.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// EmbeddingConfig configures C2 (SPEC_FULL.md §4.2).
type EmbeddingConfig struct {
	Enabled             bool
	Provider            string // openai | anthropic | google | mock
	Model               string
	Dimensions          int
	CacheEnabled        bool
	BatchSize           int
	CacheSize           int
	SimilarityThreshold float64
	APIKey              string
	BaseURL             string
	Timeout             time.Duration
}

// ConnectionThresholds holds the strictly-ordered smart-triage thresholds
// (SPEC_FULL.md §4.7.3).
type ConnectionThresholds struct {
	AutoSimilar float64
	AutoRelated float64
	LLMRequired float64
}

// Validate enforces the strict ordering autoSimilar > autoRelated >
// llmRequired, each in [0,1]. testMode relaxes the check per spec §8.1.4.
func (t ConnectionThresholds) Validate(testMode bool) error {
	if testMode {
		return nil
	}
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inRange(t.AutoSimilar) || !inRange(t.AutoRelated) || !inRange(t.LLMRequired) {
		return errThreshold("thresholds must be in [0,1]")
	}
	if !(t.AutoSimilar > t.AutoRelated && t.AutoRelated > t.LLMRequired) {
		return errThreshold("thresholds must satisfy autoSimilar > autoRelated > llmRequired")
	}
	return nil
}

// ConnectionConfig configures C7 (SPEC_FULL.md §4.7, §6.4).
type ConnectionConfig struct {
	Enabled        bool
	Provider       string
	Model          string
	StandardModel  string
	EnhancedModel  string
	EnhancedAlways bool
	PreferQuality  bool
	Thresholds     ConnectionThresholds
	MaxCandidates  int
	BatchSize      int
	Temperature    float64
	MaxTokens      int
}

// TemporalConfig configures C8 (SPEC_FULL.md §4.8, §6.4).
type TemporalConfig struct {
	Enabled               bool
	AnalysisFrequency     string // realtime | hourly | daily
	MinMemoriesForAnalysis int
	EnableLLMEnhancement  bool
}

// RecallConfig configures C9 (SPEC_FULL.md §4.9, §6.4).
type RecallConfig struct {
	DefaultLimit            int
	ProductionLimit         int
	MinRelevanceThreshold   float64
	HybridSearchWeights     HybridWeights
	EnableVectorSearch      bool
	EnableRelatedMemories   bool
	MaxRelatedDepth         int
	CacheResults            bool
	CacheTTL                time.Duration
	DefaultConnectionHops   int
	CacheHighWater          int
	CacheLowWater           int
}

// HybridWeights are the four per-signal weights combined in recall's hybrid
// scoring step (SPEC_FULL.md §4.9.5). Normalize makes them sum to 1.
type HybridWeights struct {
	Vector     float64
	Text       float64
	Temporal   float64
	Procedural float64
}

// Normalize returns w scaled so its components sum to 1, or the default
// even split if all weights are zero.
func (w HybridWeights) Normalize() HybridWeights {
	sum := w.Vector + w.Text + w.Temporal + w.Procedural
	if sum <= 0 {
		return HybridWeights{Vector: 0.25, Text: 0.25, Temporal: 0.25, Procedural: 0.25}
	}
	return HybridWeights{
		Vector:     w.Vector / sum,
		Text:       w.Text / sum,
		Temporal:   w.Temporal / sum,
		Procedural: w.Procedural / sum,
	}
}

// CostControlConfig configures the pre-LLM cost cap (SPEC_FULL.md §4.7.2
// step 5, §6.4).
type CostControlConfig struct {
	MaxLLMCallsPerBatch     int
	MonthlyBudget           float64
	HasMonthlyBudget        bool
	PreferEmbeddingWhenSimilar bool
	TrackTokenUsage         bool
}

// WorkingConfig / EpisodicConfig / SemanticConfig / ProceduralConfig hold the
// per-tier defaults named in SPEC_FULL.md §4.4.
type WorkingConfig struct {
	MaxTokens            int
	TTLSeconds           int64
	MaxContextItems      int
	CompressionThreshold float64
	EncryptSensitive     bool
}

type EpisodicConfig struct {
	MaxMemoriesPerSession int
	DecayRate             float64
	ImportanceThreshold   float64
	CompressionAgeDays    int64
	EncryptSensitive      bool
}

type SemanticConfig struct {
	ConfidenceThreshold     float64
	DeduplicationThreshold  float64
	MaxMemoriesPerCategory  int
	VectorSearchEnabled     bool
	AutoExtractFacts        bool
	EncryptSensitive        bool
}

type ProceduralConfig struct {
	MinSuccessRate       float64
	MaxPatternsPerCategory int
	DecayRate            float64
	ConfidenceThreshold  float64
	AdaptiveLearning     bool
	PatternMerging       bool
}

// GraphConfig configures C5 (SPEC_FULL.md §4.5): the in-process connection
// graph's traversal bounds and the strength floor below which a discovered
// edge is dropped rather than inserted.
type GraphConfig struct {
	MaxDepth          int
	MaxConnections    int
	StrengthThreshold float64
}

// PostgresConfig configures the optional pgx-backed StorageProvider.
type PostgresConfig struct {
	Enabled      bool
	DSN          string
	VectorMetric string // cosine | l2 | ip
}

// QdrantConfig configures the optional Qdrant vector index composed in
// front of the Postgres StorageProvider for SearchByVector.
type QdrantConfig struct {
	Enabled    bool
	DSN        string
	Collection string
	Metric     string
}

// RedisConfig configures the optional Redis-backed read-through cache that
// the Postgres StorageProvider uses for GetByID.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects and configures the StorageProvider backend.
type StorageConfig struct {
	Backend  string // memory | postgres
	Postgres PostgresConfig
	Qdrant   QdrantConfig
	Redis    RedisConfig
}

// IntelligenceLayerConfig is the top-level recognized configuration object
// (SPEC_FULL.md §6.4).
type IntelligenceLayerConfig struct {
	Embedding          EmbeddingConfig
	ConnectionDetection ConnectionConfig
	Temporal           TemporalConfig
	Recall             RecallConfig
	CostControl        CostControlConfig

	Working    WorkingConfig
	Episodic   EpisodicConfig
	Semantic   SemanticConfig
	Procedural ProceduralConfig

	Graph   GraphConfig
	Storage StorageConfig

	Obs ObsConfig

	// TestMode relaxes construction-time validation (e.g. threshold
	// ordering) for unit tests that exercise edge configurations.
	TestMode bool
}

func errThreshold(msg string) error { return &thresholdError{msg: msg} }

type thresholdError struct{ msg string }

func (e *thresholdError) Error() string { return e.msg }
