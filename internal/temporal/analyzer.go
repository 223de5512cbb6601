// Package temporal implements C8 (SPEC_FULL.md §4.8): statistical detection
// of hourly, weekly, and burst activity patterns over a memory timeline,
// plus 1-hour activity-cluster detection, with optional budget-gated LLM
// augmentation feeding back into §4.7's temporal-pattern free shortcut and
// §4.9's temporal recall boost.
package temporal

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/llm/providers"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// llmAugmentThreshold is the fixed memory-count gate above which
// analyzePatterns attempts LLM augmentation (spec §4.8: "count >= 20").
const llmAugmentThreshold = 20

// burstWindow and burstMinSize implement the sliding-window burst detector.
const (
	burstWindow  = 30 * time.Minute
	burstMinSize = 5
)

// ProviderBuilder matches connections.ProviderBuilder's shape so both
// packages can share the same concrete constructor without importing each
// other.
type ProviderBuilder func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error)

// Analyzer implements C8's statistical and LLM-augmented temporal analysis.
type Analyzer struct {
	store   storage.Memory
	cost    *cost.Tracker
	cfg     config.TemporalConfig
	costCfg config.CostControlConfig
	connCfg config.ConnectionConfig

	buildProvider ProviderBuilder

	mu    sync.RWMutex
	cache map[string][]model.TemporalPattern // agentID -> last analyzed patterns, for SharesPattern lookups
}

func New(store storage.Memory, tracker *cost.Tracker, cfg config.TemporalConfig, costCfg config.CostControlConfig, connCfg config.ConnectionConfig) *Analyzer {
	return &Analyzer{
		store:         store,
		cost:          tracker,
		cfg:           cfg,
		costCfg:       costCfg,
		connCfg:       connCfg,
		buildProvider: defaultProviderBuilder,
		cache:         map[string][]model.TemporalPattern{},
	}
}

// WithProviderBuilder overrides provider construction, for tests.
func (a *Analyzer) WithProviderBuilder(b ProviderBuilder) *Analyzer {
	a.buildProvider = b
	return a
}

// AnalyzePatterns runs the statistical pass (hourly/weekly/burst) over
// memories in range, optionally augments with an LLM pass when the corpus
// is large enough and budget allows, then dedupes by (type, frequency) and
// sorts by confidence descending (spec §4.8).
func (a *Analyzer) AnalyzePatterns(ctx context.Context, userID, agentID string, rangeStart, rangeEnd int64, hasRange bool) ([]model.TemporalPattern, error) {
	if !a.cfg.Enabled {
		return nil, nil
	}
	memories, err := a.store.Recall(ctx, userID, agentID, "", model.RecallOptions{
		Limit: 10000, TimeRangeStart: rangeStart, TimeRangeEnd: rangeEnd, HasTimeRange: hasRange,
	})
	if err != nil {
		return nil, model.NewError(model.KindStorage, "temporal.AnalyzePatterns", err)
	}
	minRequired := a.cfg.MinMemoriesForAnalysis
	if minRequired <= 0 {
		minRequired = 5
	}
	if len(memories) < minRequired {
		return nil, nil
	}

	var patterns []model.TemporalPattern
	if p := detectHourly(memories); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectWeekly(memories); p != nil {
		patterns = append(patterns, *p)
	}
	patterns = append(patterns, detectBursts(memories)...)

	if a.cfg.EnableLLMEnhancement && len(memories) >= llmAugmentThreshold {
		if augmented, err := a.augmentWithLLM(ctx, agentID, memories); err != nil {
			log.Warn().Err(err).Msg("temporal: LLM augmentation failed, keeping statistical patterns only")
		} else {
			patterns = append(patterns, augmented...)
		}
	}

	patterns = dedupeByTypeAndFrequency(patterns)
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Confidence > patterns[j].Confidence })

	a.mu.Lock()
	a.cache[agentID] = patterns
	a.mu.Unlock()

	return patterns, nil
}

// DetectActivityClusters groups memories in range into 1-hour windows of at
// least 3 memories each (spec §4.8).
func (a *Analyzer) DetectActivityClusters(ctx context.Context, userID, agentID string, rangeStart, rangeEnd int64, hasRange bool) ([]model.ActivityCluster, error) {
	if !a.cfg.Enabled {
		return nil, nil
	}
	memories, err := a.store.Recall(ctx, userID, agentID, "", model.RecallOptions{
		Limit: 10000, TimeRangeStart: rangeStart, TimeRangeEnd: rangeEnd, HasTimeRange: hasRange,
	})
	if err != nil {
		return nil, model.NewError(model.KindStorage, "temporal.DetectActivityClusters", err)
	}
	return detectActivityClusters(memories), nil
}

// SharesPattern implements connections.TemporalHint: two memories share a
// burst pattern when the most recently analyzed burst for their agent
// contains both IDs and they were created within 30 minutes of each other
// (spec §4.7.2 step 2 temporal-pattern free shortcut).
func (a *Analyzer) SharesPattern(x, y *model.Memory) bool {
	if x == nil || y == nil {
		return false
	}
	delta := x.CreatedAt - y.CreatedAt
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(burstWindow/time.Millisecond) {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, patterns := range a.cache {
		for _, p := range patterns {
			if p.Type != model.PatternBurst {
				continue
			}
			if containsID(p.Memories, x.ID) && containsID(p.Memories, y.ID) {
				return true
			}
		}
	}
	return false
}

// CachedPatterns returns the most recently analyzed patterns for agentID,
// used by recall's temporal-boost step (spec §4.9.9). Returns nil if no
// analysis has run yet for this agent.
func (a *Analyzer) CachedPatterns(agentID string) []model.TemporalPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cache[agentID]
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupeByTypeAndFrequency(patterns []model.TemporalPattern) []model.TemporalPattern {
	seen := map[string]bool{}
	out := patterns[:0]
	for _, p := range patterns {
		key := fmt.Sprintf("%s|%g", p.Type, p.Frequency)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func defaultProviderBuilder(ctx context.Context, providerName, apiKey, baseURL, modelName string) (llm.Provider, error) {
	return providers.Build(ctx, providerName, apiKey, baseURL, modelName)
}

func resolveAPIKey(providerName string) string {
	if v := os.Getenv("CONNECTION_API_KEY"); v != "" {
		return v
	}
	return os.Getenv(strings.ToUpper(providerName) + "_API_KEY")
}

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
