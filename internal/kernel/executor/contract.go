// Contract evaluation backs the executor's permission-check step. An
// access contract is itself an artifact: a "jsonrule" contract is a fixed
// declarative expression evaluated with PaesslerAG/gval against a context
// built from jsonpath-addressable fields, kept separate from the
// general-purpose scripted ("javascript") contract path so the common,
// security-relevant case stays auditable without a full VM trace.
package executor

import (
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

// PermissionContext is the evaluation context handed to an access
// contract: who is calling, what verb they want to perform, on what
// target, with what arguments, plus a read-only view of the caller's
// ledger entry for balance-gated rules (e.g. "allow only if caller has
// standing and balance >= price").
type PermissionContext struct {
	Caller  string         `json:"caller"`
	Action  string         `json:"action"`
	Target  string         `json:"target"`
	Args    map[string]any `json:"args"`
	Balance int64          `json:"balance"`
}

func (c PermissionContext) toMap() map[string]any {
	return map[string]any{
		"caller":  c.Caller,
		"action":  c.Action,
		"target":  c.Target,
		"args":    c.Args,
		"balance": c.Balance,
	}
}

var jsonRuleLanguage = gval.Full(jsonpath.Language())

// EvaluateJSONRule runs a gval expression (which may itself embed
// jsonpath selectors, e.g. "$.args.amount <= balance") against ctx,
// returning whether the action is permitted.
func EvaluateJSONRule(expression string, ctx PermissionContext) (bool, error) {
	result, err := jsonRuleLanguage.Evaluate(expression, ctx.toMap())
	if err != nil {
		return false, fmt.Errorf("evaluate contract rule: %w: %v", kernelerr.ErrInvalidArgument, err)
	}
	allowed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("contract rule did not evaluate to a boolean: %w", kernelerr.ErrInvalidArgument)
	}
	return allowed, nil
}

// AllowAllRule is the well-known permissive contract expression used by
// genesis-defined artifacts that grant unconditional access.
const AllowAllRule = "true"
