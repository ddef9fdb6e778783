package executor

import (
	"fmt"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

// permissionOutcome mirrors the {allowed, reason, cost_scrip} result a
// check_permission call returns.
type permissionOutcome struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	CostScrip int64 `json:"cost_scrip"`
}

// checkPermission resolves target's access contract and evaluates it.
// A "jsonrule" contract is a declarative gval expression evaluated
// in-process (no sandbox, no nested billing). A
// "javascript" contract is itself an executable artifact, so checking it
// is itself an invoke_artifact call: recursive, depth-counted, and billed
// to the same top-level caller as the action it is gating.
func (e *Executor) checkPermission(frame *Frame, caller string, action Action, target *artifact.Artifact) (allowed bool, reason string, costScrip int64, err error) {
	contract, err := e.Store.Get(target.AccessContractID)
	if err != nil {
		return false, "", 0, fmt.Errorf("access contract %s: %w", target.AccessContractID, err)
	}
	if contract.Code == nil {
		return false, "", 0, fmt.Errorf("access contract %s has no code: %w", contract.ID, kernelerr.ErrInvalidArgument)
	}

	balance := int64(0)
	if entry, gerr := e.Ledger.Get(caller); gerr == nil {
		balance = entry.ScripBalance
	}
	ctx := PermissionContext{
		Caller:  caller,
		Action:  string(action.Verb),
		Target:  target.ID,
		Args:    action.Args,
		Balance: balance,
	}

	switch contract.Code.Language {
	case "jsonrule":
		ok, err := EvaluateJSONRule(contract.Code.Source, ctx)
		if err != nil {
			return false, "", 0, err
		}
		if !ok {
			return false, "denied by contract rule", 0, nil
		}
		return true, "", 0, nil

	case "javascript":
		if frame.Depth+1 > e.MaxDepth {
			return false, "", 0, fmt.Errorf("%w", kernelerr.ErrInvocationTooDeep)
		}
		nested := frame.nested()
		result := e.Submit(nested, caller, Action{
			Verb:     VerbInvoke,
			TargetID: contract.ID,
			Method:   "check_permission",
			Args: map[string]any{
				"caller":  caller,
				"action":  string(action.Verb),
				"target":  target.ID,
				"context": action.Args,
				"balance": balance,
			},
		})
		if !result.Success {
			return false, result.ErrorMessage, 0, nil
		}
		out, ok := result.Value.(map[string]any)
		if !ok {
			return false, "contract returned a malformed result", 0, nil
		}
		outcome := parsePermissionOutcome(out)
		return outcome.Allowed, outcome.Reason, outcome.CostScrip, nil

	default:
		return false, "", 0, fmt.Errorf("access contract %s has unknown language %q: %w", contract.ID, contract.Code.Language, kernelerr.ErrInvalidArgument)
	}
}

func parsePermissionOutcome(m map[string]any) permissionOutcome {
	out := permissionOutcome{}
	if v, ok := m["allowed"].(bool); ok {
		out.Allowed = v
	}
	if v, ok := m["reason"].(string); ok {
		out.Reason = v
	}
	switch v := m["cost_scrip"].(type) {
	case int64:
		out.CostScrip = v
	case float64:
		out.CostScrip = int64(v)
	}
	return out
}
