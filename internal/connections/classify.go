package connections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/model"
)

// classificationResult is the shape the classification prompt asks the
// model to return as its single JSON object.
type classificationResult struct {
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
	Reason   string  `json:"reason"`
}

// selectModel picks the standard or enhanced model for a classification
// call per SPEC_FULL.md §4.7.2 step 4: two-tier selection driven by
// candidate importance and combined content length, or forced to the
// enhanced tier when the config says to always use it, or when quality is
// preferred and NODE_ENV is production.
func selectModel(cfg config.ConnectionConfig, importance float64, combinedLen int) string {
	wantsAdvanced := cfg.EnhancedAlways || (cfg.PreferQuality && config.IsProduction()) || importance > 0.8 || combinedLen > 500
	if wantsAdvanced && cfg.EnhancedModel != "" {
		return cfg.EnhancedModel
	}
	if cfg.StandardModel != "" {
		return cfg.StandardModel
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return "gpt-4o-mini"
}

// classifyPair asks provider to classify the relationship between source
// and candidate, returning the edge type/strength/reason it proposes. The
// caller is responsible for falling back deterministically on error.
func classifyPair(ctx context.Context, provider llm.Provider, modelName string, cfg config.ConnectionConfig, source, candidate *model.Memory) (model.ConnectionType, float64, string, error) {
	prompt := buildClassificationPrompt(source, candidate)
	req := llm.ObjectRequest{
		Model: modelName,
		Messages: []llm.Message{
			{Role: "system", Content: classificationSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	resp, err := provider.GenerateObject(ctx, req)
	if err != nil {
		return "", 0, "", fmt.Errorf("classify pair: %w", err)
	}
	var parsed classificationResult
	if err := json.Unmarshal([]byte(resp.JSON), &parsed); err != nil {
		return "", 0, "", fmt.Errorf("classify pair: parse response: %w", err)
	}
	ct := model.ConnectionType(parsed.Type)
	if !model.ValidConnectionType(ct) {
		return "", 0, "", fmt.Errorf("classify pair: invalid connection type %q", parsed.Type)
	}
	strength := parsed.Strength
	if strength <= 0 {
		strength = 0.5
	}
	if strength > 1 {
		strength = 1
	}
	return ct, strength, parsed.Reason, nil
}

const classificationSystemPrompt = `You classify the relationship between two memories stored by an AI agent.
Respond with a single JSON object: {"type": one of "similar", "related", "causes", "part_of", "opposite", "strength": number 0..1, "reason": short phrase}.
"causes" means the first memory describes an event or fact that led to the second.
"part_of" means the second memory is a component or subtopic of the first.
"opposite" means the memories contradict or conflict with each other.
"similar" means they restate or closely overlap in meaning.
"related" is the default when memories share context but fit none of the above precisely.`

func buildClassificationPrompt(source, candidate *model.Memory) string {
	return fmt.Sprintf("Memory A (%s): %s\n\nMemory B (%s): %s", source.Type, source.Content, candidate.Type, candidate.Content)
}
