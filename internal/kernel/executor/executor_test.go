package executor

import (
	"strings"
	"testing"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
	"time"
)

func newTestExecutor(t *testing.T) (*Executor, *artifact.Store, *ledger.Ledger) {
	t.Helper()
	store := artifact.New()
	led := ledger.New()
	rates := ratetracker.New(ratetracker.Window{Duration: time.Second, Capacity: 1000})
	events := eventlog.New()
	sandbox := NewSandbox(16)

	allowAll, err := store.Create(&artifact.Artifact{
		ID:        "contract-allow-all",
		Type:      "system",
		CreatedBy: "genesis",
		Code:      &artifact.Code{Language: "jsonrule", Source: AllowAllRule},
	})
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}
	allowAll.AccessContractID = allowAll.ID
	store.Update(allowAll.ID, func(a *artifact.Artifact) { a.AccessContractID = allowAll.ID })

	return &Executor{
		Store:    store,
		Ledger:   led,
		Rates:    rates,
		Events:   events,
		Sandbox:  sandbox,
		MaxDepth: 5,
		Timeout:  time.Second,
	}, store, led
}

func TestSubmitWriteThenRead(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "d1", Type: "data", CreatedBy: "agent1", AccessContractID: "contract-allow-all"})

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{
		Verb:     VerbWrite,
		TargetID: "d1",
		Body:     &artifact.Artifact{Content: []byte(`{"hello":"world"}`), AccessContractID: "contract-allow-all"},
	})
	if !res.Success {
		t.Fatalf("write failed: %s %s", res.ErrorKind, res.ErrorMessage)
	}

	readRes := ex.Submit(frame, "agent1", Action{Verb: VerbRead, TargetID: "d1"})
	if !readRes.Success {
		t.Fatalf("read failed: %s %s", readRes.ErrorKind, readRes.ErrorMessage)
	}
}

func TestSubmitReadNotFound(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbRead, TargetID: "missing"})
	if res.Success {
		t.Fatal("expected failure for missing artifact")
	}
	if res.ErrorKind != kernelerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %s", res.ErrorKind)
	}
}

func TestSubmitChargesPrice(t *testing.T) {
	ex, store, led := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "priced", Type: "data", CreatedBy: "owner1", AccessContractID: "contract-allow-all", Price: 30})
	led.Mint("agent1", 100)

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbRead, TargetID: "priced"})
	if !res.Success {
		t.Fatalf("read failed: %s", res.ErrorMessage)
	}

	agentEntry, _ := led.Get("agent1")
	if agentEntry.ScripBalance != 70 {
		t.Fatalf("expected agent1 balance 70, got %d", agentEntry.ScripBalance)
	}
	ownerEntry, _ := led.Get("owner1")
	if ownerEntry.ScripBalance != 30 {
		t.Fatalf("expected owner1 balance 30, got %d", ownerEntry.ScripBalance)
	}
}

func TestSubmitInsufficientFundsAborts(t *testing.T) {
	ex, store, led := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "priced", Type: "data", CreatedBy: "owner1", AccessContractID: "contract-allow-all", Price: 1000})
	led.Mint("agent1", 10)

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbRead, TargetID: "priced"})
	if res.Success {
		t.Fatal("expected failure on insufficient funds")
	}
	if res.ErrorKind != kernelerr.KindInsufficientFunds {
		t.Fatalf("expected KindInsufficientFunds, got %s", res.ErrorKind)
	}
}

func TestApplyKernelActionTransferQuota(t *testing.T) {
	ex, _, led := newTestExecutor(t)
	led.SetDiskQuota("agent1", 1000)
	frame := NewRootFrame("c1", "agent1")

	err := ex.applyKernelAction(frame, "agent1", map[string]any{
		"verb": "transfer_quota", "to": "agent2", "resource": "disk", "amount": int64(200),
	})
	if err != nil {
		t.Fatalf("transfer_quota: %v", err)
	}

	from, _ := led.Get("agent1")
	to, _ := led.Get("agent2")
	if from.DiskQuotaBytes != 800 {
		t.Fatalf("agent1 disk quota = %d, want 800", from.DiskQuotaBytes)
	}
	if to.DiskQuotaBytes != 200 {
		t.Fatalf("agent2 disk quota = %d, want 200", to.DiskQuotaBytes)
	}
}

func TestApplyKernelActionUnknownVerbRejected(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	frame := NewRootFrame("c1", "agent1")

	err := ex.applyKernelAction(frame, "agent1", map[string]any{"verb": "detonate"})
	if err == nil {
		t.Fatal("expected unknown verb to be rejected, not silently ignored")
	}
	if kernelerr.KindOf(err) != kernelerr.KindInvalidArgument {
		t.Fatalf("expected KindInvalidArgument, got %s", kernelerr.KindOf(err))
	}
}

func TestSubmitWriteEmitsArtifactWrittenEvent(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "d1", Type: "data", CreatedBy: "agent1", AccessContractID: "contract-allow-all"})

	frame := NewRootFrame("c1", "agent1")
	ex.Submit(frame, "agent1", Action{
		Verb: VerbWrite, TargetID: "d1",
		Body: &artifact.Artifact{Content: []byte(`{}`), AccessContractID: "contract-allow-all"},
	})

	found := false
	for _, ev := range ex.Events.Since(0) {
		if ev.EventType == eventlog.CategoryArtifactWritten {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an artifact_written event")
	}
}

func TestSubmitDeleteEmitsArtifactDeletedEvent(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "d1", Type: "data", CreatedBy: "agent1", AccessContractID: "contract-allow-all"})

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbDelete, TargetID: "d1"})
	if !res.Success {
		t.Fatalf("delete failed: %s %s", res.ErrorKind, res.ErrorMessage)
	}

	found := false
	for _, ev := range ex.Events.Since(0) {
		if ev.EventType == eventlog.CategoryArtifactDeleted {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an artifact_deleted event")
	}

	if _, err := store.Get("d1"); err == nil {
		t.Fatal("expected d1 to be gone after delete")
	}
}

func TestSubmitInvokeEmitsInvocationEventOnRuntimeError(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	store.Create(&artifact.Artifact{
		ID: "tool1", Type: "tool", CreatedBy: "genesis", AccessContractID: "contract-allow-all",
		CanExecute: true,
		Code:       &artifact.Code{Language: "js", Source: `function run() { return undefinedVariable.field; }`},
	})

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbInvoke, TargetID: "tool1", Method: "run"})
	if res.Success {
		t.Fatal("expected runtime error to fail the invocation")
	}

	var invocation *eventlog.Event
	for _, ev := range ex.Events.Since(0) {
		ev := ev
		if ev.EventType == eventlog.CategoryInvocation {
			invocation = &ev
		}
	}
	if invocation == nil {
		t.Fatal("expected an invocation event")
	}
	if !strings.Contains(string(invocation.Data), `"success":false`) {
		t.Fatalf("expected invocation event to report success:false, got %s", invocation.Data)
	}
	if !strings.Contains(string(invocation.Data), string(kernelerr.KindRuntime)) {
		t.Fatalf("expected invocation event to report error_kind=runtime_error, got %s", invocation.Data)
	}
}

func TestKernelStateQueryBindingListsArtifacts(t *testing.T) {
	ex, store, _ := newTestExecutor(t)
	store.Create(&artifact.Artifact{ID: "agent-1", Type: "agent", CreatedBy: "genesis", AccessContractID: "contract-allow-all"})
	store.Create(&artifact.Artifact{ID: "agent-2", Type: "agent", CreatedBy: "genesis", AccessContractID: "contract-allow-all"})
	store.Create(&artifact.Artifact{
		ID: "tool1", Type: "tool", CreatedBy: "genesis", AccessContractID: "contract-allow-all",
		CanExecute: true,
		Code: &artifact.Code{Language: "js", Source: `
			function run() {
				var matches = kernel_state.query("agent", {id_prefix: "agent-"}, caller_id);
				return {count: matches.length};
			}
		`},
	})

	frame := NewRootFrame("c1", "agent1")
	res := ex.Submit(frame, "agent1", Action{Verb: VerbInvoke, TargetID: "tool1", Method: "run"})
	if !res.Success {
		t.Fatalf("invoke failed: %s %s", res.ErrorKind, res.ErrorMessage)
	}
	value, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("expected map value, got %T", res.Value)
	}
	if value["count"] != int64(2) && value["count"] != float64(2) {
		t.Fatalf("expected count=2, got %v", value["count"])
	}
}

func TestInvocationDepthLimit(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	frame := &Frame{Depth: 6, TopLevelCaller: "agent1", CausalID: "c1", FromLoop: false}
	res := ex.Submit(frame, "agent1", Action{Verb: VerbRead, TargetID: "contract-allow-all"})
	if res.Success {
		t.Fatal("expected depth-limited call to fail")
	}
	if res.ErrorKind != kernelerr.KindInvocationTooDeep {
		t.Fatalf("expected KindInvocationTooDeep, got %s", res.ErrorKind)
	}
}
