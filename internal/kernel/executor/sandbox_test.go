package executor

import (
	"strings"
	"testing"
	"time"
)

func TestSandboxExecuteReturnsValue(t *testing.T) {
	sb := NewSandbox(4)
	res, err := sb.Execute(SandboxRequest{
		ArtifactID: "a1",
		Source:     `function run(args) { return {doubled: args.x * 2}; }`,
		EntryPoint: "run",
		Args:       map[string]any{"x": 21},
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Value["doubled"] != int64(42) && res.Value["doubled"] != float64(42) {
		t.Fatalf("expected doubled=42, got %v", res.Value["doubled"])
	}
}

func TestSandboxConsoleLogCaptured(t *testing.T) {
	sb := NewSandbox(4)
	res, err := sb.Execute(SandboxRequest{
		ArtifactID: "a1",
		Source:     `function run() { console.log("hi", 1); return {}; }`,
		EntryPoint: "run",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Logs) != 1 || !strings.Contains(res.Logs[0], "hi") {
		t.Fatalf("expected captured log, got %v", res.Logs)
	}
}

func TestSandboxTimeout(t *testing.T) {
	sb := NewSandbox(4)
	_, err := sb.Execute(SandboxRequest{
		ArtifactID: "a1",
		Source:     `function run() { while (true) {} }`,
		EntryPoint: "run",
		Timeout:    50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSandboxRuntimeError(t *testing.T) {
	sb := NewSandbox(4)
	_, err := sb.Execute(SandboxRequest{
		ArtifactID: "a1",
		Source:     `function run() { return undefinedVariable.field; }`,
		EntryPoint: "run",
		Timeout:    time.Second,
	})
	if err == nil {
		t.Fatal("expected runtime error")
	}
}

func TestValidateScriptRejectsSyntaxError(t *testing.T) {
	sb := NewSandbox(4)
	if err := sb.ValidateScript(`function run( { }`); err == nil {
		t.Fatal("expected syntax error to be rejected")
	}
}
