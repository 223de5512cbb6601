package connections

import (
	"os"
	"strings"
	"time"

	"github.com/driftlane/memoryengine/internal/model"
)

// fallbackClassify produces a deterministic connection type and strength
// when the LLM classification call errors or its response cannot be
// parsed, so discovery never drops a candidate purely on provider flake.
// It buckets by wall-clock proximity: memories formed minutes apart are
// likely part of the same train of thought (related, moderate strength);
// memories days apart fall back to a weak related edge.
func fallbackClassify(a, b *model.Memory) (model.ConnectionType, float64, string) {
	delta := a.CreatedAt - b.CreatedAt
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 5*int64(time.Minute/time.Millisecond):
		return model.ConnRelated, 0.5, "formed within the same short window"
	case delta <= 24*int64(time.Hour/time.Millisecond):
		return model.ConnRelated, 0.35, "formed within the same day"
	default:
		return model.ConnRelated, 0.2, "fallback classification after LLM error"
	}
}

// resolveAPIKey implements the CONNECTION_API_KEY -> {PROVIDER}_API_KEY
// cascade (SPEC_FULL.md §4.7.2 step 6). configured, if non-empty, takes
// precedence over both env lookups.
func resolveAPIKey(configured, providerName string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("CONNECTION_API_KEY"); v != "" {
		return v
	}
	envVar := strings.ToUpper(providerName) + "_API_KEY"
	return os.Getenv(envVar)
}

// resolveProvider implements the CONNECTION_PROVIDER -> PRIME_PROVIDER ->
// config -> openai cascade (SPEC_FULL.md §4.7.2 step 6).
func resolveProvider(configured string) string {
	if v := os.Getenv("CONNECTION_PROVIDER"); v != "" {
		return v
	}
	if v := os.Getenv("PRIME_PROVIDER"); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return "openai"
}
