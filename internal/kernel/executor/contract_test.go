package executor

import "testing"

func TestEvaluateJSONRuleAllowAll(t *testing.T) {
	ok, err := EvaluateJSONRule(AllowAllRule, PermissionContext{Caller: "a", Action: "read_artifact"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatal("expected allow-all rule to permit")
	}
}

func TestEvaluateJSONRuleBalanceGate(t *testing.T) {
	rule := `balance >= 100`
	ok, err := EvaluateJSONRule(rule, PermissionContext{Caller: "a", Balance: 50})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatal("expected rule to deny when balance is below threshold")
	}

	ok, err = EvaluateJSONRule(rule, PermissionContext{Caller: "a", Balance: 150})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatal("expected rule to allow when balance exceeds threshold")
	}
}

func TestEvaluateJSONRuleCallerMatch(t *testing.T) {
	rule := `caller == "owner1"`
	ok, _ := EvaluateJSONRule(rule, PermissionContext{Caller: "owner1"})
	if !ok {
		t.Fatal("expected rule to allow the matching caller")
	}
	ok, _ = EvaluateJSONRule(rule, PermissionContext{Caller: "someone-else"})
	if ok {
		t.Fatal("expected rule to deny a non-matching caller")
	}
}
