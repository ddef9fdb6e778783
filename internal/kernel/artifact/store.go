package artifact

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
)

// LoopOwnerChecker reports whether an artifact currently owns a running
// scheduler loop. The store takes this as an injected interface, rather
// than importing the scheduler package directly, to keep the component
// dependency order (store before scheduler) intact.
type LoopOwnerChecker interface {
	LoopRunning(artifactID string) bool
}

// Store is the kernel's canonical artifact table: a single mutex-guarded
// map, cloning on every read and write so no caller can alias internal
// state, the way internal/app/storage.Memory does for its own entity
// maps.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	loops     LoopOwnerChecker
}

// New constructs an empty store. loops may be nil until the scheduler is
// wired up (SetLoopOwnerChecker), e.g. during genesis loading when no
// loops have started yet.
func New() *Store {
	return &Store{artifacts: make(map[string]*Artifact)}
}

// SetLoopOwnerChecker wires the scheduler's loop registry after both
// components are constructed, breaking the natural import cycle.
func (s *Store) SetLoopOwnerChecker(loops LoopOwnerChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops = loops
}

// Create inserts a new artifact, assigning an id if the caller left one
// blank. Returns ErrAlreadyExists if the id is already taken.
func (s *Store) Create(a *Artifact) (*Artifact, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil artifact", kernelerr.ErrInvalidArgument)
	}
	clone := a.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[clone.ID]; exists {
		return nil, fmt.Errorf("artifact %s: %w", clone.ID, kernelerr.ErrAlreadyExists)
	}

	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	clone.computeSize()
	s.artifacts[clone.ID] = clone
	return clone.Clone(), nil
}

// Get returns a defensive copy of the artifact, or ErrNotFound.
func (s *Store) Get(id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, kernelerr.ErrNotFound)
	}
	return a.Clone(), nil
}

// Update replaces the stored artifact's mutable fields (content, code,
// price, flags, capabilities) and bumps UpdatedAt. The id, created_by,
// and created_at fields are immutable once set.
func (s *Store) Update(id string, mutate func(*Artifact)) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, kernelerr.ErrNotFound)
	}

	working := existing.Clone()
	mutate(working)
	working.ID = existing.ID
	working.CreatedBy = existing.CreatedBy
	working.CreatedAt = existing.CreatedAt
	working.UpdatedAt = time.Now()
	working.computeSize()

	s.artifacts[id] = working
	return working.Clone(), nil
}

// Delete removes an artifact. An artifact that owns an active scheduler
// loop cannot be deleted directly; the caller must stop the loop first.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	loops := s.loops
	_, ok := s.artifacts[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("artifact %s: %w", id, kernelerr.ErrNotFound)
	}
	if loops != nil && loops.LoopRunning(id) {
		return fmt.Errorf("artifact %s: %w", id, kernelerr.ErrInUse)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, id)
	return nil
}

// Query is a predicate over an artifact snapshot. It is evaluated outside
// the store's lock, so it may be arbitrarily expensive (including a gjson
// lookup into Content) without blocking other readers or writers.
type Query struct {
	Type         string
	CreatedBy    string
	IDPrefix     string
	Capability   string
	ContentMatch string // gjson path expression, matched against the predicate value
	ContentValue string
}

func (q Query) matches(a *Artifact) bool {
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.CreatedBy != "" && a.CreatedBy != q.CreatedBy {
		return false
	}
	if q.IDPrefix != "" && !strings.HasPrefix(a.ID, q.IDPrefix) {
		return false
	}
	if q.Capability != "" && !a.HasCapability(q.Capability) {
		return false
	}
	if q.ContentMatch != "" {
		result := gjson.GetBytes(a.Content, q.ContentMatch)
		if !result.Exists() || result.String() != q.ContentValue {
			return false
		}
	}
	return true
}

// List returns clones of every artifact matching q, in no particular
// order.
func (s *Store) List(q Query) []*Artifact {
	s.mu.RLock()
	snapshot := make([]*Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		snapshot = append(snapshot, a)
	}
	s.mu.RUnlock()

	out := make([]*Artifact, 0, len(snapshot))
	for _, a := range snapshot {
		if q.matches(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// ListByCapability is a convenience wrapper over List.
func (s *Store) ListByCapability(capability string) []*Artifact {
	return s.List(Query{Capability: capability})
}

// Count returns the total number of artifacts without requiring a full
// List allocation.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

// Snapshot returns clones of every artifact, used by the checkpoint
// writer.
func (s *Store) Snapshot() []*Artifact {
	return s.List(Query{})
}

// Restore replaces the store's contents wholesale, used by the checkpoint
// loader. It does not run Create's validation since a checkpoint is
// assumed internally consistent.
func (s *Store) Restore(artifacts []*Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = make(map[string]*Artifact, len(artifacts))
	for _, a := range artifacts {
		s.artifacts[a.ID] = a.Clone()
	}
}
