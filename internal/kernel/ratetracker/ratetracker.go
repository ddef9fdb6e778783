// Package ratetracker implements the kernel's rolling-window capacity
// accounting for renewable resources (LLM calls, disk writes, and any
// other resource the genesis config declares a window for). It is
// deliberately not a token bucket: callers need exact remaining capacity
// and an exact earliest-available-time, which a token bucket does not
// expose, and waiters must wake in FIFO arrival order.
package ratetracker

import (
	"container/list"
	"sync"
	"time"
)

// clock is overridable in tests; production code always uses time.Now.
type clock func() time.Time

// Window configures one resource's rolling capacity.
type Window struct {
	Duration time.Duration
	Capacity int64
}

type usage struct {
	at     time.Time
	amount int64
}

type bucket struct {
	mu      sync.Mutex
	window  Window
	events  *list.List // usage entries, oldest first
	waiters *list.List // chan struct{} in FIFO arrival order
}

func newBucket(w Window) *bucket {
	return &bucket{window: w, events: list.New(), waiters: list.New()}
}

func (b *bucket) gc(now time.Time) {
	cutoff := now.Add(-b.window.Duration)
	for b.events.Len() > 0 {
		front := b.events.Front()
		if front.Value.(usage).at.After(cutoff) {
			break
		}
		b.events.Remove(front)
	}
}

func (b *bucket) used(now time.Time) int64 {
	b.gc(now)
	var total int64
	for e := b.events.Front(); e != nil; e = e.Next() {
		total += e.Value.(usage).amount
	}
	return total
}

// Tracker tracks rolling-window capacity per (principal, resource) pair.
type Tracker struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	defaults Window
	now      clock
}

// New constructs a tracker. defaultWindow is used for any resource not
// explicitly configured via Configure.
func New(defaultWindow Window) *Tracker {
	return &Tracker{buckets: make(map[string]*bucket), defaults: defaultWindow, now: time.Now}
}

func key(principalID, resource string) string { return principalID + "\x00" + resource }

func (t *Tracker) bucketFor(principalID, resource string, override *Window) *bucket {
	k := key(principalID, resource)
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[k]
	if !ok {
		w := t.defaults
		if override != nil {
			w = *override
		}
		b = newBucket(w)
		t.buckets[k] = b
	}
	return b
}

// BucketSnapshot is one (principal, resource) bucket's state, serializable
// for a checkpoint.
type BucketSnapshot struct {
	PrincipalID string
	Resource    string
	Window      Window
	Usage       []UsageSnapshot
}

// UsageSnapshot is one recorded consumption within a bucket's window.
type UsageSnapshot struct {
	At     time.Time
	Amount int64
}

// Snapshot captures every bucket's window and still-live usage events, for
// checkpointing. Expired events are dropped as part of the snapshot so a
// restore doesn't resurrect stale consumption.
func (t *Tracker) Snapshot() []BucketSnapshot {
	t.mu.Lock()
	keys := make([]string, 0, len(t.buckets))
	buckets := make([]*bucket, 0, len(t.buckets))
	for k, b := range t.buckets {
		keys = append(keys, k)
		buckets = append(buckets, b)
	}
	t.mu.Unlock()

	now := t.now()
	out := make([]BucketSnapshot, 0, len(keys))
	for i, k := range keys {
		b := buckets[i]
		principalID, resource := splitKey(k)
		b.mu.Lock()
		b.gc(now)
		var usages []UsageSnapshot
		for e := b.events.Front(); e != nil; e = e.Next() {
			u := e.Value.(usage)
			usages = append(usages, UsageSnapshot{At: u.at, Amount: u.amount})
		}
		window := b.window
		b.mu.Unlock()
		out = append(out, BucketSnapshot{PrincipalID: principalID, Resource: resource, Window: window, Usage: usages})
	}
	return out
}

// Restore replaces the tracker's bucket state wholesale, used by the
// checkpoint loader on startup.
func (t *Tracker) Restore(snapshots []BucketSnapshot) {
	t.mu.Lock()
	t.buckets = make(map[string]*bucket)
	t.mu.Unlock()

	for _, snap := range snapshots {
		b := t.bucketFor(snap.PrincipalID, snap.Resource, &snap.Window)
		b.mu.Lock()
		for _, u := range snap.Usage {
			b.events.PushBack(usage{at: u.At, amount: u.Amount})
		}
		b.mu.Unlock()
	}
}

func splitKey(k string) (principalID, resource string) {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// Configure sets an explicit window for a (principal, resource) pair,
// used by genesis loading to give specific resources non-default limits.
func (t *Tracker) Configure(principalID, resource string, w Window) {
	t.bucketFor(principalID, resource, &w)
}

// HasCapacity reports whether amount more units could be consumed right
// now without exceeding the window's capacity.
func (t *Tracker) HasCapacity(principalID, resource string, amount int64) bool {
	b := t.bucketFor(principalID, resource, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used(t.now())+amount <= b.window.Capacity
}

// Remaining returns how many units could still be consumed right now.
func (t *Tracker) Remaining(principalID, resource string) int64 {
	b := t.bucketFor(principalID, resource, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.window.Capacity - b.used(t.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Consume records usage of amount units, failing if it would exceed
// capacity. It does not block; callers that want to wait should use
// WaitForCapacity first.
func (t *Tracker) Consume(principalID, resource string, amount int64) bool {
	b := t.bucketFor(principalID, resource, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := t.now()
	if b.used(now)+amount > b.window.Capacity {
		return false
	}
	b.events.PushBack(usage{at: now, amount: amount})
	return true
}

// EarliestAvailable returns the wall-clock time at which amount units
// would fit, assuming no further consumption happens in the meantime.
func (t *Tracker) EarliestAvailable(principalID, resource string, amount int64) time.Time {
	b := t.bucketFor(principalID, resource, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := t.now()
	if b.used(now)+amount <= b.window.Capacity {
		return now
	}
	// Find the earliest point at which enough old usage has expired.
	var freed int64
	for e := b.events.Front(); e != nil; e = e.Next() {
		u := e.Value.(usage)
		freed += u.amount
		if b.used(now)-freed+amount <= b.window.Capacity {
			return u.at.Add(b.window.Duration)
		}
	}
	return now.Add(b.window.Duration)
}

// WaitForCapacity blocks until amount units are available, then consumes
// them, waking waiters in FIFO arrival order. It returns false if ctx-like
// cancellation via the done channel fires first, leaving no usage
// recorded.
func (t *Tracker) WaitForCapacity(principalID, resource string, amount int64, done <-chan struct{}) bool {
	b := t.bucketFor(principalID, resource, nil)

	for {
		b.mu.Lock()
		now := t.now()
		if b.used(now)+amount <= b.window.Capacity && b.waiters.Len() == 0 {
			b.events.PushBack(usage{at: now, amount: amount})
			b.mu.Unlock()
			return true
		}
		ch := make(chan struct{})
		elem := b.waiters.PushBack(ch)
		b.mu.Unlock()

		wait := t.EarliestAvailable(principalID, resource, amount)
		timer := time.NewTimer(time.Until(wait))
		select {
		case <-done:
			timer.Stop()
			b.mu.Lock()
			b.waiters.Remove(elem)
			b.mu.Unlock()
			return false
		case <-timer.C:
		case <-ch:
			timer.Stop()
		}

		b.mu.Lock()
		// Only the head of the FIFO queue gets to retry; everyone else
		// re-parks behind it.
		if b.waiters.Len() > 0 && b.waiters.Front() == elem {
			b.waiters.Remove(elem)
			// Wake the next waiter so progress continues even if this
			// attempt fails capacity and re-parks.
			if next := b.waiters.Front(); next != nil {
				select {
				case next.Value.(chan struct{}) <- struct{}{}:
				default:
				}
			}
		} else {
			b.waiters.Remove(elem)
		}
		b.mu.Unlock()
	}
}
