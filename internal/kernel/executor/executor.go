// Package executor is the kernel's single choke-point for state
// mutation. Every agent action — read, write, or invoke — passes through
// Submit, which runs the six-step protocol from the design: resolve,
// permission-check, rate-gate, charge, execute, commit-and-log. A failure
// in the execute step refunds the charged price and contract cost; the
// cpu_rate unit taken by the rate gate is not returned, and kernel_actions
// already applied by a sandboxed run are not rolled back.
package executor

import (
	"fmt"
	"time"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
	"github.com/r3e-network/agent-kernel/pkg/metrics"
)

// Verb names an action the executor dispatches: read, write, delete,
// invoke, or noop.
type Verb string

const (
	VerbRead   Verb = "read_artifact"
	VerbWrite  Verb = "write_artifact"
	VerbDelete Verb = "delete_artifact"
	VerbInvoke Verb = "invoke_artifact"
	VerbNoop   Verb = "noop"
)

const (
	resourceCPU = "cpu_rate"
	resourceLLM = "llm_rate"
)

// Action describes one request submitted to the executor.
type Action struct {
	Verb     Verb
	TargetID string          // read/write/invoke target
	Body     *artifact.Artifact // write: the artifact to create/replace (ID is set from TargetID)
	Method   string          // invoke: entry point name, defaults to "run"
	Args     map[string]any  // invoke: arguments
}

// Result is the structured outcome of one Submit call. Success is never
// conveyed via a Go error escaping to the caller; the scheduler persists
// this value directly into the agent's state artifact.
type Result struct {
	Success bool
	State   string // final state-machine state: "committed" or "aborted:<kind>"
	Value   any
	ErrorKind    kernelerr.Kind
	ErrorMessage string
}

// Frame threads invocation depth and billing identity through a nested
// call chain. It is never a package-global: each top-level Submit call
// constructs one and passes it down explicitly.
type Frame struct {
	Depth          int
	TopLevelCaller string
	CausalID       string
	// FromLoop is true only for the outermost call made directly by a
	// scheduler loop; it controls whether the rate-limit gate blocks
	// (loop context) or rejects immediately (nested sandbox context).
	FromLoop bool
}

// NewRootFrame constructs the frame for a top-level action submitted by a
// scheduler loop or an external operator call.
func NewRootFrame(causalID, caller string) *Frame {
	return &Frame{Depth: 0, TopLevelCaller: caller, CausalID: causalID, FromLoop: true}
}

func (f *Frame) nested() *Frame {
	return &Frame{Depth: f.Depth + 1, TopLevelCaller: f.TopLevelCaller, CausalID: f.CausalID, FromLoop: false}
}

// Executor dispatches every Verb through the six-step protocol.
type Executor struct {
	Store    *artifact.Store
	Ledger   *ledger.Ledger
	Rates    *ratetracker.Tracker
	Events   *eventlog.Log
	Sandbox  *Sandbox
	MaxDepth int
	Timeout  time.Duration
}

func abort(kind kernelerr.Kind, err error) *Result {
	return &Result{Success: false, State: "aborted:" + string(kind), ErrorKind: kind, ErrorMessage: err.Error()}
}

// Submit runs the six-step protocol for one action on behalf of caller.
func (e *Executor) Submit(frame *Frame, caller string, action Action) *Result {
	start := time.Now()
	res := e.submit(frame, caller, action)
	metrics.RecordExecutorAction(string(action.Verb), outcomeLabel(res), time.Since(start))
	return res
}

func outcomeLabel(r *Result) string {
	if r.Success {
		return "committed"
	}
	return r.State
}

func (e *Executor) submit(frame *Frame, caller string, action Action) *Result {
	e.Events.Append(eventlog.CategoryActionSubmitted, caller, action.TargetID, frame.CausalID, map[string]any{"verb": action.Verb})

	if frame.Depth > e.MaxDepth {
		r := abort(kernelerr.KindInvocationTooDeep, fmt.Errorf("depth %d exceeds limit %d: %w", frame.Depth, e.MaxDepth, kernelerr.ErrInvocationTooDeep))
		e.logFailure(frame, caller, action, r)
		return r
	}

	// Step 1: resolve.
	target, err := e.Store.Get(action.TargetID)
	if err != nil {
		r := abort(kernelerr.KindNotFound, err)
		e.logFailure(frame, caller, action, r)
		return r
	}
	e.Events.Append("resolved", caller, action.TargetID, frame.CausalID, nil)

	// Step 2: permission check.
	allowed, reason, contractCost, err := e.checkPermission(frame, caller, action, target)
	if err != nil {
		r := abort(kernelerr.KindOf(err), err)
		e.logFailure(frame, caller, action, r)
		return r
	}
	if !allowed {
		r := abort(kernelerr.KindPermissionDenied, fmt.Errorf("%s: %w", reason, kernelerr.ErrPermissionDenied))
		e.logFailure(frame, caller, action, r)
		return r
	}
	e.Events.Append("permitted", caller, action.TargetID, frame.CausalID, map[string]any{"contract_cost": contractCost})

	// Step 3: rate-limit gate. Nested invocations bill the chain's
	// top-level caller, not the immediate one, so nested invocations don't
	// let an inner artifact offload its cost onto whoever it called.
	billTo := frame.TopLevelCaller
	if !e.Rates.Consume(billTo, resourceCPU, 1) {
		if frame.FromLoop {
			done := make(chan struct{})
			if !e.Rates.WaitForCapacity(billTo, resourceCPU, 1, done) {
				r := abort(kernelerr.KindRateLimited, fmt.Errorf("%w", kernelerr.ErrRateLimited))
				e.logFailure(frame, caller, action, r)
				return r
			}
		} else {
			r := abort(kernelerr.KindRateLimited, fmt.Errorf("nested call over cpu_rate: %w", kernelerr.ErrRateLimited))
			e.logFailure(frame, caller, action, r)
			return r
		}
	}

	// Step 4: charge costs.
	totalCost := target.Price + contractCost
	if totalCost > 0 {
		if err := e.Ledger.Transfer(billTo, target.CreatedBy, totalCost); err != nil {
			r := abort(kernelerr.KindOf(err), err)
			e.logFailure(frame, caller, action, r)
			return r
		}
	}
	e.Events.Append("charged", caller, action.TargetID, frame.CausalID, map[string]any{"amount": totalCost})

	// Step 5: execute body.
	value, execErr := e.execute(frame, caller, action, target)
	if execErr != nil {
		// Refund the price/contract cost; the cpu_rate tick is non-refundable.
		if totalCost > 0 {
			_ = e.Ledger.Transfer(target.CreatedBy, billTo, totalCost)
		}
		r := abort(kernelerr.KindOf(execErr), execErr)
		e.logFailure(frame, caller, action, r)
		return r
	}

	// Step 6: commit & log.
	e.Events.Append(eventlog.CategoryActionCommitted, caller, action.TargetID, frame.CausalID, map[string]any{"verb": action.Verb})
	e.emitVerbOutcome(frame, caller, action, true, kernelerr.KindNone, "")
	return &Result{Success: true, State: "committed", Value: value}
}

// emitVerbOutcome appends the verb-specific event category named in the
// taxonomy (artifact_written, artifact_deleted, invocation), alongside the
// generic action_committed/action_failed bookkeeping events every action
// already gets. transfer_scrip and transfer_quota are logged from
// applyKernelAction directly since they aren't a top-level verb.
func (e *Executor) emitVerbOutcome(frame *Frame, caller string, action Action, success bool, errKind kernelerr.Kind, errMsg string) {
	switch action.Verb {
	case VerbInvoke:
		data := map[string]any{"success": success}
		if !success {
			data["error_kind"] = errKind
			data["error"] = errMsg
		}
		e.Events.Append(eventlog.CategoryInvocation, caller, action.TargetID, frame.CausalID, data)
	case VerbWrite:
		if success {
			e.Events.Append(eventlog.CategoryArtifactWritten, caller, action.TargetID, frame.CausalID, nil)
		}
	case VerbDelete:
		if success {
			e.Events.Append(eventlog.CategoryArtifactDeleted, caller, action.TargetID, frame.CausalID, nil)
		}
	}
}

// asInt64 accepts the numeric shapes a goja-exported value can take:
// goja exports JS numbers as float64, but a Go caller building the same
// action map directly may already use int64.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (e *Executor) logFailure(frame *Frame, caller string, action Action, r *Result) {
	e.Events.Append(eventlog.CategoryActionFailed, caller, action.TargetID, frame.CausalID, map[string]any{
		"verb":       action.Verb,
		"error_kind": r.ErrorKind,
		"error":      r.ErrorMessage,
	})
	e.emitVerbOutcome(frame, caller, action, false, r.ErrorKind, r.ErrorMessage)
}

func (e *Executor) execute(frame *Frame, caller string, action Action, target *artifact.Artifact) (any, error) {
	switch action.Verb {
	case VerbRead:
		return target.Content, nil

	case VerbWrite:
		body := action.Body
		if body == nil {
			return nil, fmt.Errorf("write_artifact requires a body: %w", kernelerr.ErrInvalidArgument)
		}
		body.ID = action.TargetID
		body.CreatedBy = caller

		existing, err := e.Store.Get(action.TargetID)
		existed := err == nil

		if existed {
			if err := e.Ledger.ReleaseDisk(existing.CreatedBy, existing.SizeBytes); err != nil {
				return nil, err
			}
		}
		size := int64(len(body.Content))
		if body.Code != nil {
			size += int64(len(body.Code.Source))
		}
		if err := e.Ledger.ReserveDisk(caller, size); err != nil {
			if existed {
				_ = e.Ledger.ReserveDisk(existing.CreatedBy, existing.SizeBytes)
			}
			return nil, err
		}

		var written *artifact.Artifact
		if existed {
			written, err = e.Store.Update(action.TargetID, func(a *artifact.Artifact) {
				a.Content = body.Content
				a.Code = body.Code
				a.Type = body.Type
				a.AccessContractID = body.AccessContractID
				a.Price = body.Price
				a.HasStanding = body.HasStanding
				a.CanExecute = body.CanExecute
				a.HasLoop = body.HasLoop
				a.Capabilities = body.Capabilities
			})
		} else {
			written, err = e.Store.Create(body)
		}
		if err != nil {
			_ = e.Ledger.ReleaseDisk(caller, size)
			if existed {
				_ = e.Ledger.ReserveDisk(existing.CreatedBy, existing.SizeBytes)
			}
			return nil, err
		}
		return written, nil

	case VerbDelete:
		if err := e.Store.Delete(action.TargetID); err != nil {
			return nil, err
		}
		if err := e.Ledger.ReleaseDisk(target.CreatedBy, target.SizeBytes); err != nil {
			return nil, err
		}
		return nil, nil

	case VerbInvoke:
		if !target.CanExecute || target.Code == nil {
			return nil, fmt.Errorf("target %s is not executable: %w", target.ID, kernelerr.ErrInvalidArgument)
		}
		return e.runSandbox(frame, caller, target, action.Method, action.Args)

	case VerbNoop:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown verb %q: %w", action.Verb, kernelerr.ErrInvalidArgument)
	}
}

// runSandbox executes target.Code, wiring the four kernel bindings
// kernel_state for reads, kernel_actions for
// verified mutation, invoke for recursive re-entry, and caller_id.
func (e *Executor) runSandbox(frame *Frame, caller string, target *artifact.Artifact, method string, args map[string]any) (any, error) {
	nested := frame.nested()

	invokeFn := func(targetID string, invokeArgs map[string]any) (map[string]any, error) {
		result := e.Submit(nested, target.ID, Action{Verb: VerbInvoke, TargetID: targetID, Method: "run", Args: invokeArgs})
		if !result.Success {
			return nil, fmt.Errorf("%s: %w", result.ErrorMessage, kernelerr.ErrOf(result.ErrorKind))
		}
		if m, ok := result.Value.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"value": result.Value}, nil
	}

	kernelState := map[string]any{
		"read_artifact": func(id string, callerID string) map[string]any {
			a, err := e.Store.Get(id)
			if err != nil {
				return map[string]any{"error": err.Error()}
			}
			return map[string]any{"id": a.ID, "content": string(a.Content)}
		},
		"query": func(typ string, params map[string]any, callerID string) []map[string]any {
			q := artifact.Query{Type: typ}
			if v, ok := params["created_by"].(string); ok {
				q.CreatedBy = v
			}
			if v, ok := params["id_prefix"].(string); ok {
				q.IDPrefix = v
			}
			if v, ok := params["capability"].(string); ok {
				q.Capability = v
			}
			matches := e.Store.List(q)
			out := make([]map[string]any, 0, len(matches))
			for _, a := range matches {
				out = append(out, map[string]any{"id": a.ID, "type": a.Type, "created_by": a.CreatedBy})
			}
			return out
		},
		"balance": func(principal string) int64 {
			entry, err := e.Ledger.Get(principal)
			if err != nil {
				return 0
			}
			return entry.ScripBalance
		},
	}

	entry := method
	if entry == "" {
		entry = "run"
	}

	result, err := e.Sandbox.Execute(SandboxRequest{
		ArtifactID:  target.ID,
		Source:      target.Code.Source,
		EntryPoint:  entry,
		KernelState: kernelState,
		Invoke:      invokeFn,
		CallerID:    target.ID,
		Args:        args,
		Timeout:     e.Timeout,
	})
	if err != nil {
		return nil, err
	}
	for _, action := range result.Actions {
		if err := e.applyKernelAction(nested, target.ID, action); err != nil {
			return nil, err
		}
	}
	return result.Value, nil
}

// applyKernelAction executes one kernel_actions call emitted during a
// sandboxed run (write_artifact, transfer_scrip, transfer_quota), each
// re-verifying caller_id against the frame that produced it.
func (e *Executor) applyKernelAction(frame *Frame, callerID string, action map[string]any) error {
	verb, _ := action["verb"].(string)
	switch verb {
	case "transfer_scrip":
		to, _ := action["to"].(string)
		amount := asInt64(action["amount"])
		if err := e.Ledger.Transfer(callerID, to, amount); err != nil {
			return err
		}
		e.Events.Append(eventlog.CategoryTransfer, callerID, "", frame.CausalID, map[string]any{"from": callerID, "to": to, "amount": amount})
		return nil
	case "transfer_quota":
		to, _ := action["to"].(string)
		resource, _ := action["resource"].(string)
		amount := asInt64(action["amount"])
		if err := e.Ledger.TransferQuota(callerID, to, resource, amount); err != nil {
			return err
		}
		e.Events.Append(eventlog.CategoryTransfer, callerID, "", frame.CausalID, map[string]any{"from": callerID, "to": to, "resource": resource, "amount": amount})
		return nil
	case "write_artifact":
		id, _ := action["id"].(string)
		content, _ := action["content"].(string)
		result := e.Submit(frame, callerID, Action{
			Verb:     VerbWrite,
			TargetID: id,
			Body:     &artifact.Artifact{Content: []byte(content)},
		})
		if !result.Success {
			return fmt.Errorf("%s: %w", result.ErrorMessage, kernelerr.ErrOf(result.ErrorKind))
		}
		return nil
	default:
		return fmt.Errorf("unknown kernel_actions verb %q: %w", verb, kernelerr.ErrInvalidArgument)
	}
}
