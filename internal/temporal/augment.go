package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/model"
)

const augmentSystemPrompt = `You analyze timestamps and content of an AI agent's memories to find recurring temporal patterns missed by simple hourly/weekly/burst bucketing.
Respond with a single JSON object: {"patterns": [{"type": one of "daily","weekly","monthly","periodic","burst", "frequency": number, "confidence": number 0..1, "description": short phrase}]}.
Only report patterns you are reasonably confident about; an empty patterns array is a valid answer.`

// augmentWithLLM asks the configured provider for temporal patterns the
// statistical pass may have missed, gated by the cost tracker's advisory
// monthly budget check (spec §4.8). Returns (nil, nil) when the budget is
// exhausted, which is not an error: augmentation is optional enrichment.
func (a *Analyzer) augmentWithLLM(ctx context.Context, agentID string, memories []*model.Memory) ([]model.TemporalPattern, error) {
	monthlyBudget := 0.0
	if a.costCfg.HasMonthlyBudget {
		monthlyBudget = a.costCfg.MonthlyBudget
	}
	if !a.cost.CheckBudget(agentID, monthlyBudget) {
		return nil, nil
	}

	providerName := resolveProvider(a.connCfg.Provider)
	apiKey := resolveAPIKey(providerName)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", providerName)
	}
	provider, err := a.buildProvider(ctx, providerName, apiKey, "", a.connCfg.Model)
	if err != nil {
		return nil, err
	}
	modelName := a.connCfg.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	resp, err := provider.GenerateObject(ctx, llm.ObjectRequest{
		Model: modelName,
		Messages: []llm.Message{
			{Role: "system", Content: augmentSystemPrompt},
			{Role: "user", Content: buildAugmentPrompt(memories)},
		},
		Temperature: a.connCfg.Temperature,
		MaxTokens:   a.connCfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal augmentation: %w", err)
	}
	a.cost.TrackExtraction(ctx, cost.Extraction{
		AgentID:          agentID,
		Operation:        "temporal-llm",
		Model:            modelName,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	})

	var parsed struct {
		Patterns []struct {
			Type        string  `json:"type"`
			Frequency   float64 `json:"frequency"`
			Confidence  float64 `json:"confidence"`
			Description string  `json:"description"`
		} `json:"patterns"`
	}
	if err := json.Unmarshal([]byte(resp.JSON), &parsed); err != nil {
		return nil, fmt.Errorf("temporal augmentation: parse response: %w", err)
	}

	out := make([]model.TemporalPattern, 0, len(parsed.Patterns))
	for _, p := range parsed.Patterns {
		pt := model.PatternType(p.Type)
		switch pt {
		case model.PatternDaily, model.PatternWeekly, model.PatternMonthly, model.PatternPeriodic, model.PatternBurst:
		default:
			continue
		}
		conf := p.Confidence
		if conf <= 0 {
			conf = 0.5
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, model.TemporalPattern{
			Type:       pt,
			Frequency:  p.Frequency,
			Confidence: conf,
			Metadata:   map[string]any{"description": p.Description, "llmGenerated": true},
		})
	}
	return out, nil
}

// buildAugmentPrompt summarizes up to 40 memories (timestamp + a content
// snippet) to keep the prompt bounded regardless of corpus size.
func buildAugmentPrompt(memories []*model.Memory) string {
	const maxSample = 40
	var b strings.Builder
	b.WriteString("Memory timeline (createdAt epoch ms, content snippet):\n")
	n := len(memories)
	if n > maxSample {
		n = maxSample
	}
	for i := 0; i < n; i++ {
		m := memories[i]
		snippet := m.Content
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		fmt.Fprintf(&b, "%d: %s\n", m.CreatedAt, snippet)
	}
	return b.String()
}
