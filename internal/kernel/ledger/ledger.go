// Package ledger tracks every principal's scrip balance, disk quota, and
// LLM budget, and is the only component permitted to move scrip between
// principals. All monetary fields are int64 (scrip units, or micro-USD
// fixed point for the LLM budget) — no floats, so conservation is exact.
package ledger

import (
	"fmt"
	"sync"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

const shardCount = 32

// Entry is one principal's ledger row.
type Entry struct {
	PrincipalID     string
	ScripBalance    int64
	HeldScrip       int64 // reserved by an open mint bid; not spendable elsewhere
	DiskQuotaBytes  int64
	DiskUsedBytes   int64
	LLMBudgetMicros int64
}

// Spendable is the balance available for a transfer, net of any active
// hold.
func (e Entry) Spendable() int64 { return e.ScripBalance - e.HeldScrip }

func (e Entry) clone() Entry { return e }

// Ledger is the kernel's scrip and resource-quota table.
type Ledger struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New constructs an empty ledger.
func New() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*Entry)
	}
	return l
}

func shardIndex(id string) int {
	h := fnv32(id)
	return int(h % shardCount)
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func (l *Ledger) shardFor(id string) *shard {
	return &l.shards[shardIndex(id)]
}

// Open creates a zeroed entry for a principal if it does not already
// exist; it is idempotent.
func (l *Ledger) Open(principalID string) *Entry {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[principalID]; ok {
		clone := e.clone()
		return &clone
	}
	e := &Entry{PrincipalID: principalID}
	sh.entries[principalID] = e
	clone := e.clone()
	return &clone
}

// Get returns a copy of a principal's entry, or ErrNotFound.
func (l *Ledger) Get(principalID string) (*Entry, error) {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[principalID]
	if !ok {
		return nil, fmt.Errorf("principal %s: %w", principalID, kernelerr.ErrNotFound)
	}
	clone := e.clone()
	return &clone, nil
}

func (l *Ledger) mustEntry(sh *shard, principalID string) *Entry {
	e, ok := sh.entries[principalID]
	if !ok {
		e = &Entry{PrincipalID: principalID}
		sh.entries[principalID] = e
	}
	return e
}

// Transfer atomically moves amount scrip from `from` to `to`. Both
// principals may live in different shards; to avoid deadlock, locks are
// always acquired in a fixed order derived from the principal ids.
func (l *Ledger) Transfer(from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount %d: %w", amount, kernelerr.ErrInvalidArgument)
	}
	if from == to {
		return nil
	}

	shFrom, shTo := l.shardFor(from), l.shardFor(to)
	first, second := shFrom, shTo
	if shardIndex(from) > shardIndex(to) {
		first, second = shTo, shFrom
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	fromEntry := l.mustEntry(shFrom, from)
	if fromEntry.Spendable() < amount {
		return fmt.Errorf("principal %s has %d spendable, needs %d: %w", from, fromEntry.Spendable(), amount, kernelerr.ErrInsufficientFunds)
	}
	toEntry := l.mustEntry(shTo, to)

	fromEntry.ScripBalance -= amount
	toEntry.ScripBalance += amount
	return nil
}

// TransferQuota moves disk-quota or LLM-budget capacity between two
// principals, the same ordered-locking shape as Transfer but operating on
// a resource quota field instead of the scrip balance.
func (l *Ledger) TransferQuota(from, to, resource string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer_quota amount %d: %w", amount, kernelerr.ErrInvalidArgument)
	}
	if from == to {
		return nil
	}

	shFrom, shTo := l.shardFor(from), l.shardFor(to)
	first, second := shFrom, shTo
	if shardIndex(from) > shardIndex(to) {
		first, second = shTo, shFrom
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	fromEntry := l.mustEntry(shFrom, from)
	toEntry := l.mustEntry(shTo, to)

	switch resource {
	case "disk":
		if fromEntry.DiskQuotaBytes < amount {
			return fmt.Errorf("principal %s disk quota %d, needs %d: %w", from, fromEntry.DiskQuotaBytes, amount, kernelerr.ErrInsufficientQuota)
		}
		fromEntry.DiskQuotaBytes -= amount
		toEntry.DiskQuotaBytes += amount
	case "llm_budget":
		if fromEntry.LLMBudgetMicros < amount {
			return fmt.Errorf("principal %s llm budget %d, needs %d: %w", from, fromEntry.LLMBudgetMicros, amount, kernelerr.ErrBudgetExhausted)
		}
		fromEntry.LLMBudgetMicros -= amount
		toEntry.LLMBudgetMicros += amount
	default:
		return fmt.Errorf("quota resource %q: %w", resource, kernelerr.ErrInvalidArgument)
	}
	return nil
}

// Mint creates new scrip out of thin air, crediting `to`. The caller must
// already have verified the `can_mint` capability (via capabilities); this
// method does not perform permission checks itself, per the executor's
// six-step protocol owning permission checks centrally.
func (l *Ledger) Mint(to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("mint amount %d: %w", amount, kernelerr.ErrInvalidArgument)
	}
	sh := l.shardFor(to)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, to)
	entry.ScripBalance += amount
	return nil
}

// Burn destroys scrip held by `from`.
func (l *Ledger) Burn(from string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("burn amount %d: %w", amount, kernelerr.ErrInvalidArgument)
	}
	sh := l.shardFor(from)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, from)
	if entry.ScripBalance < amount {
		return fmt.Errorf("principal %s has %d, needs %d: %w", from, entry.ScripBalance, amount, kernelerr.ErrInsufficientFunds)
	}
	entry.ScripBalance -= amount
	return nil
}

// SetHold replaces a principal's entire scrip hold with amount, used by
// the mint to implement "latest bid supersedes" without ever debiting a
// bidder's balance. Passing 0 clears the hold.
func (l *Ledger) SetHold(principalID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("hold amount %d: %w", amount, kernelerr.ErrInvalidArgument)
	}
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	if amount > entry.ScripBalance {
		return fmt.Errorf("principal %s has %d, cannot hold %d: %w", principalID, entry.ScripBalance, amount, kernelerr.ErrInsufficientFunds)
	}
	entry.HeldScrip = amount
	return nil
}

// SetDiskQuota sets a principal's disk quota ceiling, used by genesis
// loading. A quota of 0 means unlimited (ReserveDisk never rejects it).
func (l *Ledger) SetDiskQuota(principalID string, bytes int64) {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	entry.DiskQuotaBytes = bytes
}

// ReserveDisk accounts bytes against a principal's disk quota without
// requiring a matching artifact write to have happened yet; the executor
// reserves before writing and releases on failure, mirroring the
// gasbank ReserveFunds/ReleaseFunds pattern.
func (l *Ledger) ReserveDisk(principalID string, bytes int64) error {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	if entry.DiskQuotaBytes > 0 && entry.DiskUsedBytes+bytes > entry.DiskQuotaBytes {
		return fmt.Errorf("principal %s quota %d, used %d, requested %d: %w",
			principalID, entry.DiskQuotaBytes, entry.DiskUsedBytes, bytes, kernelerr.ErrInsufficientQuota)
	}
	entry.DiskUsedBytes += bytes
	return nil
}

// ReleaseDisk reverses a prior ReserveDisk call, e.g. after a failed write
// or an artifact deletion.
func (l *Ledger) ReleaseDisk(principalID string, bytes int64) error {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	entry.DiskUsedBytes -= bytes
	if entry.DiskUsedBytes < 0 {
		entry.DiskUsedBytes = 0
	}
	return nil
}

// DebitLLMBudget subtracts micros from a principal's LLM spend budget.
func (l *Ledger) DebitLLMBudget(principalID string, micros int64) error {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	if entry.LLMBudgetMicros < micros {
		return fmt.Errorf("principal %s budget %d, needs %d: %w",
			principalID, entry.LLMBudgetMicros, micros, kernelerr.ErrBudgetExhausted)
	}
	entry.LLMBudgetMicros -= micros
	return nil
}

// GrantLLMBudget tops up a principal's LLM spend budget, used by genesis
// loading and by BudgetedClient to refund a debit after a failed call.
func (l *Ledger) GrantLLMBudget(principalID string, micros int64) {
	sh := l.shardFor(principalID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry := l.mustEntry(sh, principalID)
	entry.LLMBudgetMicros += micros
}

// Snapshot returns a copy of every ledger entry, used by the checkpoint
// writer.
func (l *Ledger) Snapshot() []Entry {
	out := make([]Entry, 0)
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			out = append(out, e.clone())
		}
		sh.mu.Unlock()
	}
	return out
}

// Restore replaces the ledger's contents wholesale.
func (l *Ledger) Restore(entries []Entry) {
	for i := range l.shards {
		l.shards[i].mu.Lock()
		l.shards[i].entries = make(map[string]*Entry)
		l.shards[i].mu.Unlock()
	}
	for _, e := range entries {
		sh := l.shardFor(e.PrincipalID)
		sh.mu.Lock()
		copy := e
		sh.entries[e.PrincipalID] = &copy
		sh.mu.Unlock()
	}
}

// TotalScrip sums every principal's balance, used to verify conservation
// of scrip in tests.
func (l *Ledger) TotalScrip() int64 {
	var total int64
	for _, e := range l.Snapshot() {
		total += e.ScripBalance
	}
	return total
}
