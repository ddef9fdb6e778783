// Package eventlog is the kernel's append-only, gap-free audit stream.
// Every state-mutating action funnels through Append, which assigns the
// next sequence number under a single mutex, enforcing one appender at a
// time, and fans the event out to in-memory subscribers (the dashboard's
// websocket stream) while also handing it to a durable JSONL sink.
package eventlog

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Event is one record in the log.
type Event struct {
	Seq        int64           `json:"seq"`
	Timestamp  time.Time       `json:"ts"`
	EventType  string          `json:"event_type"`
	AgentID    string          `json:"agent_id,omitempty"`
	ArtifactID string          `json:"artifact_id,omitempty"`
	CausalID   string          `json:"causal_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

// Category constants, per the event-type taxonomy: action, transfer,
// artifact_written, artifact_deleted, invocation, auction_*, loop_started,
// loop_crashed, loop_died, budget_exhausted. The action_* and auction_*
// families below are the named categories split by stage, for consumers
// that want finer-grained lifecycle visibility than the single "action" or
// "auction_*" tag implies.
const (
	CategoryActionSubmitted = "action_submitted"
	CategoryActionResolved  = "action_resolved"
	CategoryActionCommitted = "action_committed"
	CategoryActionFailed    = "action_failed"
	CategoryTransfer        = "transfer"
	CategoryArtifactWritten = "artifact_written"
	CategoryArtifactDeleted = "artifact_deleted"
	CategoryInvocation      = "invocation"
	CategoryLoopStarted     = "loop_started"
	CategoryLoopCrashed     = "loop_crashed"
	CategoryLoopDied        = "loop_died"
	CategoryAuctionOpened   = "auction_opened"
	CategoryBidPlaced       = "bid_placed"
	CategoryAuctionClosed   = "auction_closed"
	CategoryAuctionResolved = "auction_resolved"
	CategoryBudgetExhausted = "budget_exhausted"
)

// Sink receives every appended event, in sequence order, for durable
// persistence (the JSONL file) or streaming (the dashboard).
type Sink interface {
	Write(Event)
}

// Log is the in-memory event log: a growable slice behind one mutex, the
// simplest structure that can guarantee gap-free sequencing with a single
// writer lock, keeping one appender at a time.
type Log struct {
	mu       sync.Mutex
	events   []Event
	seq      int64
	prevHash string
	sinks    []Sink
}

// New constructs an empty log.
func New(sinks ...Sink) *Log {
	return &Log{sinks: sinks, prevHash: "0000000000000000000000000000000000000000000000000000000000000000"}
}

// AddSink registers an additional durable or streaming sink.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// RemoveSink detaches a sink added via AddSink, used by the dashboard to
// stop forwarding events to a closed websocket connection.
func (l *Log) RemoveSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sink := range l.sinks {
		if sink == s {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			return
		}
	}
}

// Append assigns the next sequence number and hash-chains the record to
// the previous one (blake2b, grounded on the same tamper-evident pattern
// as a sha256 hash chain, substituting the faster/wider blake2b already
// pulled in via golang.org/x/crypto). It returns the finished event.
func (l *Log) Append(eventType, agentID, artifactID, causalID string, data any) Event {
	payload, _ := json.Marshal(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev := Event{
		Seq:        l.seq,
		Timestamp:  time.Now(),
		EventType:  eventType,
		AgentID:    agentID,
		ArtifactID: artifactID,
		CausalID:   causalID,
		Data:       payload,
		PrevHash:   l.prevHash,
	}
	ev.Hash = computeHash(ev)
	l.prevHash = ev.Hash
	l.events = append(l.events, ev)

	for _, sink := range l.sinks {
		sink.Write(ev)
	}
	return ev
}

func computeHash(ev Event) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(ev.PrevHash))
	h.Write([]byte(ev.EventType))
	h.Write([]byte(ev.AgentID))
	h.Write([]byte(ev.ArtifactID))
	h.Write(ev.Data)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// Since returns every event with Seq > afterSeq, used by the dashboard's
// paginated snapshot endpoint and checkpoint/resume catch-up.
func (l *Log) Since(afterSeq int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0)
	for _, ev := range l.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out
}

// LatestSeq returns the sequence number of the most recently appended
// event, or 0 if the log is empty.
func (l *Log) LatestSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Verify walks the whole chain re-computing hashes, confirming no record
// has been tampered with or reordered.
func (l *Log) Verify() (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := "0000000000000000000000000000000000000000000000000000000000000000"
	for _, ev := range l.events {
		if ev.PrevHash != prev {
			return false, ev.Seq
		}
		if computeHash(ev) != ev.Hash {
			return false, ev.Seq
		}
		prev = ev.Hash
	}
	return true, 0
}
