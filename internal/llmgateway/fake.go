package llmgateway

import "context"

// FakeClient returns a deterministic canned response at a fixed cost,
// used by tests and local genesis runs where no real provider is wired.
type FakeClient struct {
	Text         string
	CostMicros   int64
	OutputTokens int
}

// Generate implements Client.
func (f *FakeClient) Generate(ctx context.Context, agentID, prompt, model string) (*Response, error) {
	text := f.Text
	if text == "" {
		text = `{"verb":"noop"}`
	}
	cost := f.CostMicros
	if cost == 0 {
		cost = 1
	}
	tokens := f.OutputTokens
	if tokens == 0 {
		tokens = 1
	}
	return &Response{Text: text, InputTokens: len(prompt), OutputTokens: tokens, CostMicros: cost}, nil
}
