// Package cost implements C3 (SPEC_FULL.md §4.3): per-agent token and
// dollar-cost accounting, plus an advisory monthly budget check consulted
// before the connection engine and temporal analyzer make LLM calls.
package cost

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Extraction records one priced LLM or embedding call.
type Extraction struct {
	AgentID          string
	Operation        string // "embedding" | "connection-classify" | "temporal-llm"
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Timestamp        time.Time
}

type agentTotals struct {
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	MonthKey         string
}

// Tracker accumulates per-agent totals in process memory, mirroring the
// teacher's modelTotals/modelBuckets shape in internal/llm/observability.go
// but keyed by agent instead of model, and additionally exposing a budget
// gate.
type Tracker struct {
	mu     sync.RWMutex
	totals map[string]*agentTotals

	once             sync.Once
	promptCounter    otelmetric.Int64Counter
	completionCounter otelmetric.Int64Counter
	costCounter      otelmetric.Float64Counter

	now func() time.Time
}

func New() *Tracker {
	return &Tracker{totals: map[string]*agentTotals{}, now: time.Now}
}

func (t *Tracker) ensureInstruments() {
	t.once.Do(func() {
		m := otel.Meter("internal/cost")
		t.promptCounter, _ = m.Int64Counter("cost.prompt_tokens")
		t.completionCounter, _ = m.Int64Counter("cost.completion_tokens")
		t.costCounter, _ = m.Float64Counter("cost.usd")
	})
}

// TrackExtraction records usage and cost for one call. Monthly totals reset
// implicitly when the wall-clock month rolls over, matching the "monthly
// budget" semantics of CheckBudget.
func (t *Tracker) TrackExtraction(ctx context.Context, e Extraction) {
	t.ensureInstruments()
	ts := e.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	monthKey := ts.UTC().Format("2006-01")

	t.mu.Lock()
	cur := t.totals[e.AgentID]
	if cur == nil || cur.MonthKey != monthKey {
		cur = &agentTotals{MonthKey: monthKey}
		t.totals[e.AgentID] = cur
	}
	cur.PromptTokens += int64(e.PromptTokens)
	cur.CompletionTokens += int64(e.CompletionTokens)
	cur.CostUSD += e.CostUSD
	t.mu.Unlock()

	attrs := otelmetric.WithAttributes(
		attribute.String("agent.id", e.AgentID),
		attribute.String("llm.operation", e.Operation),
		attribute.String("llm.model", e.Model),
	)
	if t.promptCounter != nil && e.PromptTokens > 0 {
		t.promptCounter.Add(ctx, int64(e.PromptTokens), attrs)
	}
	if t.completionCounter != nil && e.CompletionTokens > 0 {
		t.completionCounter.Add(ctx, int64(e.CompletionTokens), attrs)
	}
	if t.costCounter != nil && e.CostUSD > 0 {
		t.costCounter.Add(ctx, e.CostUSD, attrs)
	}
}

// MonthlySpend returns the agent's accumulated cost for the current month.
func (t *Tracker) MonthlySpend(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := t.totals[agentID]
	if cur == nil || cur.MonthKey != t.now().UTC().Format("2006-01") {
		return 0
	}
	return cur.CostUSD
}

// CheckBudget is advisory only: it never blocks a call, it reports whether
// the agent is still within its configured monthly budget so callers (the
// connection engine's LLM classification step, the temporal analyzer's LLM
// augmentation step) can choose to skip optional LLM enrichment.
func (t *Tracker) CheckBudget(agentID string, monthlyBudget float64) bool {
	if monthlyBudget <= 0 {
		return true
	}
	return t.MonthlySpend(agentID) < monthlyBudget
}
