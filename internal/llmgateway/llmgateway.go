// Package llmgateway defines the kernel's one external collaborator
// interface: a blocking "think" call that returns text plus token/cost
// accounting. The kernel only ever sees this interface, kept as a thin
// client package separate from whatever does the real work; a real
// HTTP-backed implementation is out of scope here.
package llmgateway

import "context"

// Response is what Generate returns.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostMicros   int64
}

// Client is the capability boundary between the scheduler and an LLM
// provider.
type Client interface {
	Generate(ctx context.Context, agentID, prompt, model string) (*Response, error)
}
