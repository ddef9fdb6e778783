// Package checkpoint persists and restores the kernel's entire mutable
// state — artifact store, ledger, rate-tracker windows, mint auction
// state, and event-log watermark — as a single JSON file. Apply restores
// the store, ledger, rate windows and mint; the event-log watermark is
// recorded but not applied, so the event log keeps its own sequence
// numbers and hash chain after a restore.
//
// encoding/json is used directly rather than a third-party format: this
// is a single internal snapshot consumed by nothing but this kernel's own
// next boot, with no schema evolution or cross-language requirement to
// justify a library (see DESIGN.md).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/mint"
	"github.com/r3e-network/agent-kernel/internal/kernel/ratetracker"
)

// Checkpoint is the full on-disk snapshot shape.
type Checkpoint struct {
	EventWatermark int64                        `json:"event_watermark"`
	Artifacts      []*artifact.Artifact         `json:"artifacts"`
	Ledger         []ledger.Entry               `json:"ledger"`
	RateBuckets    []ratetracker.BucketSnapshot `json:"rate_buckets"`
	Mint           mint.Snapshot                `json:"mint"`
}

// Sources groups the live components a checkpoint is taken from or
// restored into.
type Sources struct {
	Store  *artifact.Store
	Ledger *ledger.Ledger
	Rates  *ratetracker.Tracker
	Events *eventlog.Log
	Mint   *mint.Mint
}

// Capture builds a Checkpoint from the current state of every component
// in src.
func Capture(src Sources) Checkpoint {
	return Checkpoint{
		EventWatermark: src.Events.LatestSeq(),
		Artifacts:      src.Store.Snapshot(),
		Ledger:         src.Ledger.Snapshot(),
		RateBuckets:    src.Rates.Snapshot(),
		Mint:           src.Mint.Snapshot(),
	}
}

// Apply installs a Checkpoint's contents into src's Store, Ledger, Rates
// and Mint, replacing whatever state those components held. It does not
// touch src.Events: cp.EventWatermark is not applied to the event log.
func Apply(cp Checkpoint, src Sources) {
	src.Store.Restore(cp.Artifacts)
	src.Ledger.Restore(cp.Ledger)
	src.Rates.Restore(cp.RateBuckets)
	src.Mint.Restore(cp.Mint)
}

// Write atomically writes cp to path: marshal to a temp file in the same
// directory, then rename over the target, so a crash mid-write never
// leaves a truncated checkpoint in place.
func Write(path string, cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Read loads a Checkpoint from path. A missing file is reported via the
// wrapped os error so callers can distinguish "no checkpoint yet" (fresh
// boot) from a real I/O failure.
func Read(path string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return cp, err
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}
