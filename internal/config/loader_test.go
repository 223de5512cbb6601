package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "c", firstNonEmpty("", "", "c"))
	assert.Equal(t, "a", firstNonEmpty("a", "b"))
	assert.Empty(t, firstNonEmpty())
}

func TestBoolEnv(t *testing.T) {
	t.Setenv("MY_FLAG", "yes")
	assert.True(t, boolEnv("MY_FLAG", false))
	assert.True(t, boolEnv("UNSET_FLAG", true), "expected default true")
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"CONNECTION_AUTO_SIMILAR", "CONNECTION_AUTO_RELATED", "CONNECTION_LLM_REQUIRED",
		"RECALL_CACHE_HIGH_WATER", "RECALL_CACHE_LOW_WATER",
	} {
		os.Unsetenv(k)
	}
	cfg := Load()
	require.NoError(t, cfg.ConnectionDetection.Thresholds.Validate(false), "default thresholds should validate")
	assert.Greater(t, cfg.Recall.CacheHighWater, cfg.Recall.CacheLowWater)
}

func TestThresholdValidateOrdering(t *testing.T) {
	bad := ConnectionThresholds{AutoSimilar: 0.5, AutoRelated: 0.6, LLMRequired: 0.1}
	assert.Error(t, bad.Validate(false), "expected ordering violation to fail validation")
	assert.NoError(t, bad.Validate(true), "test mode should relax validation")
}

func TestHybridWeightsNormalize(t *testing.T) {
	w := HybridWeights{Vector: 2, Text: 2, Temporal: 0, Procedural: 0}.Normalize()
	assert.Equal(t, 0.5, w.Vector)
	assert.Equal(t, 0.5, w.Text)
	zero := HybridWeights{}.Normalize()
	assert.Equal(t, 0.25, zero.Vector, "expected even split default")
}
