package mint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/llmgateway"
)

// LLMScorer scores a winning artifact by asking an LLM gateway to rate it
// and parsing a {"score": N} reply, clamped to [0, 100].
type LLMScorer struct {
	Store *artifact.Store
	LLM   llmgateway.Client
	Model string
}

type scoreReply struct {
	Score int `json:"score"`
}

// Score implements Scorer.
func (s *LLMScorer) Score(ctx context.Context, artifactID string) (int, error) {
	a, err := s.Store.Get(artifactID)
	if err != nil {
		return 0, err
	}
	prompt := fmt.Sprintf(
		"Rate the following artifact's value to the ecosystem from 0 to 100. "+
			"Reply with JSON only, shaped {\"score\": N}.\n\n%s", string(a.Content))

	resp, err := s.LLM.Generate(ctx, "mint", prompt, s.Model)
	if err != nil {
		return 0, err
	}

	var reply scoreReply
	if err := json.Unmarshal([]byte(resp.Text), &reply); err != nil {
		return 0, fmt.Errorf("scorer returned unparseable reply: %w", err)
	}
	return clampScore(reply.Score), nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
