package eventlog

import "testing"

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	l := New()
	e1 := l.Append(CategoryActionCommitted, "agent1", "a1", "c1", map[string]any{"x": 1})
	e2 := l.Append(CategoryActionCommitted, "agent1", "a2", "c1", map[string]any{"x": 2})

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", e1.Seq, e2.Seq)
	}
	if e2.PrevHash != e1.Hash {
		t.Fatal("expected chain linkage")
	}
}

func TestVerifyDetectsNoTamperOnFreshLog(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Append(CategoryActionCommitted, "agent1", "a1", "c1", map[string]any{"i": i})
	}
	ok, badSeq := l.Verify()
	if !ok {
		t.Fatalf("expected chain to verify, broke at seq %d", badSeq)
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	l := New()
	l.Append(CategoryActionCommitted, "agent1", "a1", "c1", nil)
	l.Append(CategoryActionCommitted, "agent1", "a1", "c1", nil)

	l.events[0].Data = []byte(`{"tampered":true}`)

	ok, badSeq := l.Verify()
	if ok {
		t.Fatal("expected tampered chain to fail verification")
	}
	if badSeq != 1 {
		t.Fatalf("expected break reported at seq 1, got %d", badSeq)
	}
}

func TestSinceReturnsOnlyNewer(t *testing.T) {
	l := New()
	l.Append(CategoryActionCommitted, "a", "a1", "c", nil)
	l.Append(CategoryActionCommitted, "a", "a2", "c", nil)
	l.Append(CategoryActionCommitted, "a", "a3", "c", nil)

	events := l.Since(1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 {
		t.Fatalf("expected first returned event to be seq 2, got %d", events[0].Seq)
	}
}
