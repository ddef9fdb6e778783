package llmgateway

import (
	"context"
	"fmt"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
)

const resourceLLM = "llm_rate"

// BudgetedClient wraps an underlying Client with the kernel's own
// accounting obligations: debit cost from the agent's LLM
// budget before returning, and debit output tokens against the llm_rate
// rolling window, applying backpressure there rather than in the
// provider itself.
type BudgetedClient struct {
	Underlying Client
	Ledger     *ledger.Ledger
	Rates      *ratetracker.Tracker
	GlobalCapMicros int64
	spentMicros     int64
}

// Generate implements Client.
func (b *BudgetedClient) Generate(ctx context.Context, agentID, prompt, model string) (*Response, error) {
	if b.GlobalCapMicros > 0 && b.spentMicros >= b.GlobalCapMicros {
		return nil, fmt.Errorf("global api budget exhausted: %w", kernelerr.ErrBudgetExhausted)
	}

	resp, err := b.Underlying.Generate(ctx, agentID, prompt, model)
	if err != nil {
		return nil, err
	}

	if err := b.Ledger.DebitLLMBudget(agentID, resp.CostMicros); err != nil {
		return nil, err
	}
	b.spentMicros += resp.CostMicros

	if !b.Rates.Consume(agentID, resourceLLM, int64(resp.OutputTokens)) {
		// Refund the budget debit; backpressure is applied purely via the
		// rate tracker, not the ledger.
		b.Ledger.GrantLLMBudget(agentID, resp.CostMicros)
		b.spentMicros -= resp.CostMicros
		return nil, fmt.Errorf("llm_rate exceeded: %w", kernelerr.ErrRateLimited)
	}

	return resp, nil
}
