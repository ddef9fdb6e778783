package ledger

import (
	"errors"
	"testing"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

func newTestLedger() *Ledger {
	return New()
}

func TestTransferConservesTotal(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 100)
	l.Mint("bob", 50)

	if err := l.Transfer("alice", "bob", 30); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	alice, _ := l.Get("alice")
	bob, _ := l.Get("bob")
	if alice.ScripBalance != 70 {
		t.Fatalf("alice balance = %d, want 70", alice.ScripBalance)
	}
	if bob.ScripBalance != 80 {
		t.Fatalf("bob balance = %d, want 80", bob.ScripBalance)
	}
	if total := l.TotalScrip(); total != 150 {
		t.Fatalf("total scrip = %d, want 150", total)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 10)
	err := l.Transfer("alice", "bob", 100)
	if !errors.Is(err, kernelerr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	alice, _ := l.Get("alice")
	if alice.ScripBalance != 10 {
		t.Fatal("balance must be unchanged on a failed transfer")
	}
}

func TestTransferNeverNegative(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 5)
	for i := 0; i < 10; i++ {
		l.Transfer("alice", "bob", 3)
	}
	alice, _ := l.Get("alice")
	if alice.ScripBalance < 0 {
		t.Fatalf("balance went negative: %d", alice.ScripBalance)
	}
}

func TestReserveReleaseDisk(t *testing.T) {
	l := newTestLedger()
	sh := l.shardFor("p1")
	sh.mu.Lock()
	sh.entries["p1"] = &Entry{PrincipalID: "p1", DiskQuotaBytes: 100}
	sh.mu.Unlock()

	if err := l.ReserveDisk("p1", 60); err != nil {
		t.Fatalf("ReserveDisk: %v", err)
	}
	if err := l.ReserveDisk("p1", 60); !errors.Is(err, kernelerr.ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got %v", err)
	}
	if err := l.ReleaseDisk("p1", 60); err != nil {
		t.Fatalf("ReleaseDisk: %v", err)
	}
	if err := l.ReserveDisk("p1", 60); err != nil {
		t.Fatalf("ReserveDisk after release: %v", err)
	}
}

func TestSetDiskQuotaEnforcedByReserveDisk(t *testing.T) {
	l := newTestLedger()
	l.Open("p1")
	l.SetDiskQuota("p1", 50)

	if err := l.ReserveDisk("p1", 50); err != nil {
		t.Fatalf("ReserveDisk within quota: %v", err)
	}
	if err := l.ReserveDisk("p1", 1); !errors.Is(err, kernelerr.ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got %v", err)
	}
}

func TestBurnInsufficientFunds(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 5)
	if err := l.Burn("alice", 10); !errors.Is(err, kernelerr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestHeldScripBlocksTransferButNotBalance(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 100)
	if err := l.SetHold("alice", 40); err != nil {
		t.Fatalf("SetHold: %v", err)
	}
	if err := l.Transfer("alice", "bob", 70); !errors.Is(err, kernelerr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for a transfer over spendable, got %v", err)
	}
	if err := l.Transfer("alice", "bob", 60); err != nil {
		t.Fatalf("Transfer within spendable: %v", err)
	}
	alice, _ := l.Get("alice")
	if alice.ScripBalance != 40 || alice.HeldScrip != 40 {
		t.Fatalf("alice = %+v, want balance 40 with hold 40 intact", alice)
	}
}

func TestSetHoldRejectsOverBalance(t *testing.T) {
	l := newTestLedger()
	l.Mint("alice", 10)
	if err := l.SetHold("alice", 20); !errors.Is(err, kernelerr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}
