package cost

import (
	"context"
	"testing"
	"time"
)

func TestCheckBudgetWithNoBudgetAlwaysAllows(t *testing.T) {
	tr := New()
	if !tr.CheckBudget("agent-1", 0) {
		t.Fatalf("expected no configured budget to always allow")
	}
}

func TestTrackExtractionAccumulatesAndGatesBudget(t *testing.T) {
	tr := New()
	ctx := context.Background()
	tr.TrackExtraction(ctx, Extraction{AgentID: "agent-1", Operation: "connection-classify", Model: "gpt", PromptTokens: 100, CompletionTokens: 20, CostUSD: 4})
	if !tr.CheckBudget("agent-1", 5) {
		t.Fatalf("expected spend below budget to still allow")
	}
	tr.TrackExtraction(ctx, Extraction{AgentID: "agent-1", Operation: "connection-classify", Model: "gpt", CostUSD: 2})
	if tr.CheckBudget("agent-1", 5) {
		t.Fatalf("expected spend over budget to be denied")
	}
	if got := tr.MonthlySpend("agent-1"); got != 6 {
		t.Fatalf("expected accumulated spend 6, got %v", got)
	}
}

func TestTrackExtractionResetsOnMonthRollover(t *testing.T) {
	tr := New()
	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return jan }

	tr.TrackExtraction(context.Background(), Extraction{AgentID: "agent-1", CostUSD: 9, Timestamp: jan})
	if got := tr.MonthlySpend("agent-1"); got != 9 {
		t.Fatalf("expected january spend 9, got %v", got)
	}

	tr.now = func() time.Time { return feb }
	if got := tr.MonthlySpend("agent-1"); got != 0 {
		t.Fatalf("expected february spend to have reset, got %v", got)
	}
}

func TestMonthlySpendUnknownAgentIsZero(t *testing.T) {
	tr := New()
	if got := tr.MonthlySpend("nobody"); got != 0 {
		t.Fatalf("expected 0 for unknown agent, got %v", got)
	}
}
