package genesis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadDirOrdersInfraBeforeAgents(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b-agents.yaml", `
kind: agent
ledger:
  - principal_id: agent1
    scrip_balance: 10
artifacts:
  - id: agent1
    type: agent
    created_by: genesis
    access_contract_id: contract1
    has_standing: true
    can_execute: true
    has_loop: true
    code:
      language: javascript
      source: "function run(){return {}}"
`)
	writeManifest(t, dir, "a-infra.yaml", `
kind: infra
artifacts:
  - id: contract1
    type: system
    created_by: genesis
    code:
      language: jsonrule
      source: "true"
`)

	store := artifact.New()
	led := ledger.New()
	l := &Loader{Store: store, Ledger: led}

	if err := l.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	if _, err := store.Get("contract1"); err != nil {
		t.Fatalf("contract1 not installed: %v", err)
	}
	agent, err := store.Get("agent1")
	if err != nil {
		t.Fatalf("agent1 not installed: %v", err)
	}
	if agent.Category() != artifact.CategoryAgent {
		t.Fatalf("agent1 category = %s, want agent", agent.Category())
	}
	entry, err := led.Get("agent1")
	if err != nil {
		t.Fatalf("ledger entry: %v", err)
	}
	if entry.ScripBalance != 10 {
		t.Fatalf("agent1 balance = %d, want 10", entry.ScripBalance)
	}
}

func TestLoadDirAggregatesErrors(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "not: [valid: yaml")
	writeManifest(t, dir, "missing-kind.yaml", "artifacts: []")

	l := &Loader{Store: artifact.New(), Ledger: ledger.New()}
	err := l.LoadDir(dir)
	if err == nil {
		t.Fatal("expected aggregated error for malformed manifests")
	}
}
