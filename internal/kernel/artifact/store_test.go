package artifact

import (
	"errors"
	"testing"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

func TestStoreCreateAssignsID(t *testing.T) {
	s := New()
	a, err := s.Create(&Artifact{Type: "data", CreatedBy: "genesis"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected generated id")
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestStoreCreateDuplicateID(t *testing.T) {
	s := New()
	if _, err := s.Create(&Artifact{ID: "a1", Type: "data", CreatedBy: "genesis"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Create(&Artifact{ID: "a1", Type: "data", CreatedBy: "genesis"})
	if !errors.Is(err, kernelerr.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get("missing")
	if !errors.Is(err, kernelerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetReturnsClone(t *testing.T) {
	s := New()
	a, _ := s.Create(&Artifact{ID: "a1", Type: "data", CreatedBy: "genesis", Capabilities: []string{"x"}})
	a.Capabilities[0] = "mutated"

	fetched, err := s.Get("a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Capabilities[0] != "x" {
		t.Fatalf("store leaked mutation: got %q", fetched.Capabilities[0])
	}
}

func TestStoreUpdatePreservesIdentity(t *testing.T) {
	s := New()
	created, _ := s.Create(&Artifact{ID: "a1", Type: "data", CreatedBy: "genesis"})

	updated, err := s.Update("a1", func(a *Artifact) {
		a.Price = 42
		a.CreatedBy = "attacker"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.CreatedBy != "genesis" {
		t.Fatal("created_by must be immutable")
	}
	if updated.Price != 42 {
		t.Fatal("expected mutated field to apply")
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("created_at must be immutable")
	}
}

type fakeLoopChecker struct{ running map[string]bool }

func (f fakeLoopChecker) LoopRunning(id string) bool { return f.running[id] }

func TestStoreDeleteBlockedByActiveLoop(t *testing.T) {
	s := New()
	s.SetLoopOwnerChecker(fakeLoopChecker{running: map[string]bool{"a1": true}})
	s.Create(&Artifact{ID: "a1", Type: "agent", CreatedBy: "genesis"})

	err := s.Delete("a1")
	if !errors.Is(err, kernelerr.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
}

func TestCategoryDerivation(t *testing.T) {
	cases := []struct {
		name     string
		a        Artifact
		expected Category
	}{
		{"agent", Artifact{HasStanding: true, CanExecute: true, HasLoop: true}, CategoryAgent},
		{"tool", Artifact{CanExecute: true}, CategoryTool},
		{"account", Artifact{HasStanding: true}, CategoryAccount},
		{"data", Artifact{}, CategoryData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Category(); got != tc.expected {
				t.Fatalf("got %s, want %s", got, tc.expected)
			}
		})
	}
}

func TestQueryByIDPrefix(t *testing.T) {
	s := New()
	s.Create(&Artifact{ID: "agent-1", Type: "agent", CreatedBy: "g"})
	s.Create(&Artifact{ID: "agent-2", Type: "agent", CreatedBy: "g"})
	s.Create(&Artifact{ID: "tool-1", Type: "tool", CreatedBy: "g"})

	results := s.List(Query{IDPrefix: "agent-"})
	if len(results) != 2 {
		t.Fatalf("expected 2 agent- prefixed artifacts, got %d", len(results))
	}
}

func TestQueryByContent(t *testing.T) {
	s := New()
	s.Create(&Artifact{ID: "a1", Type: "listing", CreatedBy: "g", Content: []byte(`{"status":"open"}`)})
	s.Create(&Artifact{ID: "a2", Type: "listing", CreatedBy: "g", Content: []byte(`{"status":"closed"}`)})

	results := s.List(Query{Type: "listing", ContentMatch: "status", ContentValue: "open"})
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("expected [a1], got %v", results)
	}
}
