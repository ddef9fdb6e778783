package llmgateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
)

func TestBudgetedClientDebitsLedgerAndRate(t *testing.T) {
	led := ledger.New()
	led.Open("agent1")
	led.GrantLLMBudget("agent1", 100)
	rates := ratetracker.New(ratetracker.Window{Duration: time.Minute, Capacity: 100})

	b := &BudgetedClient{Underlying: &FakeClient{CostMicros: 10, OutputTokens: 5}, Ledger: led, Rates: rates, GlobalCapMicros: 1000}

	resp, err := b.Generate(context.Background(), "agent1", "prompt", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.CostMicros != 10 {
		t.Fatalf("CostMicros = %d, want 10", resp.CostMicros)
	}

	entry, err := led.Get("agent1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.LLMBudgetMicros != 90 {
		t.Fatalf("LLMBudgetMicros = %d, want 90", entry.LLMBudgetMicros)
	}
}

func TestBudgetedClientGlobalCapReturnsBudgetExhausted(t *testing.T) {
	led := ledger.New()
	led.Open("agent1")
	led.GrantLLMBudget("agent1", 1000)
	rates := ratetracker.New(ratetracker.Window{Duration: time.Minute, Capacity: 100})

	b := &BudgetedClient{Underlying: &FakeClient{CostMicros: 10}, Ledger: led, Rates: rates, GlobalCapMicros: 10, spentMicros: 10}

	_, err := b.Generate(context.Background(), "agent1", "prompt", "")
	if !errors.Is(err, kernelerr.ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
}

func TestBudgetedClientPerAgentExhaustionReturnsBudgetExhausted(t *testing.T) {
	led := ledger.New()
	led.Open("agent1")
	led.GrantLLMBudget("agent1", 1)
	rates := ratetracker.New(ratetracker.Window{Duration: time.Minute, Capacity: 100})

	b := &BudgetedClient{Underlying: &FakeClient{CostMicros: 10}, Ledger: led, Rates: rates}

	_, err := b.Generate(context.Background(), "agent1", "prompt", "")
	if !errors.Is(err, kernelerr.ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
}
