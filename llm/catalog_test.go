package llm

import (
	"math"
	"testing"
)

func TestGetModel(t *testing.T) {
	m, ok := GetModel("anthropic", "claude-opus-4-6")
	if !ok {
		t.Fatal("expected to find claude-opus-4-6")
	}
	if m.API != APIAnthropicMessages {
		t.Errorf("expected api %q, got %q", APIAnthropicMessages, m.API)
	}
	if m.ContextWindow != 200000 {
		t.Errorf("expected context window 200000, got %d", m.ContextWindow)
	}

	// Empty provider matches any.
	if _, ok := GetModel("", "gpt-4.1"); !ok {
		t.Error("expected to find gpt-4.1 without provider")
	}

	if _, ok := GetModel("openai", "claude-opus-4-6"); ok {
		t.Error("expected provider mismatch to miss")
	}
	if _, ok := GetModel("", "nonexistent-model"); ok {
		t.Error("expected unknown model to miss")
	}
}

func TestListModels(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	anthropic := ListModels("anthropic")
	if len(anthropic) != 3 {
		t.Errorf("expected 3 Anthropic models, got %d", len(anthropic))
	}
	for _, m := range anthropic {
		if m.Provider != "anthropic" {
			t.Errorf("expected provider anthropic, got %q", m.Provider)
		}
	}
}

func TestCalculateCost(t *testing.T) {
	m := Model{Cost: ModelCost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75}}
	u := Usage{Input: 1_000_000, Output: 100_000, CacheRead: 1_000_000}
	cost := CalculateCost(m, &u)

	approx := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
	if !approx(cost.Input, 3) {
		t.Errorf("expected input cost 3, got %f", cost.Input)
	}
	if !approx(cost.Output, 1.5) {
		t.Errorf("expected output cost 1.5, got %f", cost.Output)
	}
	if !approx(cost.Total, 4.8) {
		t.Errorf("expected total 4.8, got %f", cost.Total)
	}
	if u.Cost != cost {
		t.Error("expected usage cost to be filled in")
	}
}

func TestSupportsImages(t *testing.T) {
	m, _ := GetModel("deepseek", "deepseek-reasoner")
	if m.SupportsImages() {
		t.Error("expected deepseek-reasoner to be text only")
	}
	m, _ = GetModel("anthropic", "claude-haiku-4-5")
	if !m.SupportsImages() {
		t.Error("expected claude-haiku-4-5 to accept images")
	}
}
