package scheduler

import (
	"encoding/json"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/executor"
)

// rawIntent is the JSON shape an LLM response is expected to produce: one
// action for the executor to submit. A malformed or empty response
// degrades to noop rather than failing the loop outright.
type rawIntent struct {
	Verb     string         `json:"verb"`
	TargetID string         `json:"target_id"`
	Content  string         `json:"content"`
	Method   string         `json:"method"`
	Args     map[string]any `json:"args"`
}

func parseIntent(text string) executor.Action {
	var raw rawIntent
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return executor.Action{Verb: executor.VerbNoop}
	}
	switch raw.Verb {
	case string(executor.VerbRead):
		return executor.Action{Verb: executor.VerbRead, TargetID: raw.TargetID}
	case string(executor.VerbWrite):
		return executor.Action{
			Verb:     executor.VerbWrite,
			TargetID: raw.TargetID,
			Body:     &artifact.Artifact{Content: json.RawMessage(rawContentOrString(raw.Content))},
		}
	case string(executor.VerbInvoke):
		return executor.Action{Verb: executor.VerbInvoke, TargetID: raw.TargetID, Method: raw.Method, Args: raw.Args}
	default:
		return executor.Action{Verb: executor.VerbNoop}
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// rawContentOrString lets an intent's content be either a raw JSON value
// ("42", `{"a":1}`) or a plain string, so a loop body doesn't have to
// think about JSON quoting when it wants to write text.
func rawContentOrString(content string) []byte {
	if content == "" {
		return []byte("null")
	}
	if json.Valid([]byte(content)) {
		return []byte(content)
	}
	quoted, err := json.Marshal(content)
	if err != nil {
		return []byte("null")
	}
	return quoted
}
