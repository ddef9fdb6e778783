// Package dashboard exposes the kernel's state as a read-only HTTP API:
// paginated snapshots of artifacts, ledger balances, and auction state, plus
// a websocket stream of the event log. Nothing here can mutate kernel
// state; every write path runs through the executor instead.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/mint"
	"github.com/r3e-network/agent-kernel/pkg/logger"
	"github.com/r3e-network/agent-kernel/pkg/metrics"
)

// Dependencies groups the kernel components the dashboard reads from.
type Dependencies struct {
	Store  *artifact.Store
	Ledger *ledger.Ledger
	Events *eventlog.Log
	Mint   *mint.Mint
	Log    *logger.Logger

	// RequestsPerSecond and Burst size the per-IP inbound limiter; both
	// default to 20 and 40 when left zero.
	RequestsPerSecond int
	Burst             int
}

// Server is the dashboard's HTTP+websocket surface.
type Server struct {
	deps     Dependencies
	upgrader websocket.Upgrader
	limiter  *perIPLimiter
}

// New builds a mux-routed dashboard handler over deps.
func New(deps Dependencies) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("dashboard")
	}
	rps := deps.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := deps.Burst
	if burst <= 0 {
		burst = 40
	}
	s := &Server{
		deps:     deps,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		limiter:  newPerIPLimiter(rate.Limit(rps), burst),
	}

	r := mux.NewRouter()
	r.Use(s.limiter.middleware)
	r.HandleFunc("/artifacts", s.handleArtifacts).Methods("GET")
	r.HandleFunc("/artifacts/{id}", s.handleArtifact).Methods("GET")
	r.HandleFunc("/ledger", s.handleLedger).Methods("GET")
	r.HandleFunc("/ledger/{principalID}", s.handleLedgerEntry).Methods("GET")
	r.HandleFunc("/mint", s.handleMint).Methods("GET")
	r.HandleFunc("/events", s.handleEventsSince).Methods("GET")
	r.HandleFunc("/events/stream", s.handleEventStream).Methods("GET")
	r.HandleFunc("/metrics", metrics.Handler().ServeHTTP).Methods("GET")

	return metrics.InstrumentHandler(r)
}

// page applies limit/offset query params to a slice, clamping both to safe
// bounds; callers pass the full collection and get back one page of it.
func page[T any](items []T, r *http.Request) []T {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	q := artifact.Query{
		Type:       r.URL.Query().Get("type"),
		CreatedBy:  r.URL.Query().Get("created_by"),
		IDPrefix:   r.URL.Query().Get("id_prefix"),
		Capability: r.URL.Query().Get("capability"),
	}
	all := s.deps.Store.List(q)
	writeJSON(w, map[string]any{"total": len(all), "artifacts": page(all, r)})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Ledger.Snapshot()
	writeJSON(w, map[string]any{"total": len(entries), "entries": page(entries, r)})
}

func (s *Server) handleLedgerEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["principalID"]
	entry, err := s.deps.Ledger.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Mint.Snapshot())
}

func (s *Server) handleEventsSince(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			after = n
		}
	}
	events := s.deps.Events.Since(after)
	writeJSON(w, map[string]any{"total": len(events), "events": page(events, r)})
}

// eventSink forwards events to a websocket connection's dedicated writer
// goroutine, never blocking the event log's single appender lock.
type eventSink struct {
	out chan eventlog.Event
}

func (e *eventSink) Write(ev eventlog.Event) {
	select {
	case e.out <- ev:
	default:
		// Slow consumer: drop rather than block the log's append path.
	}
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warnf("dashboard: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sink := &eventSink{out: make(chan eventlog.Event, 256)}
	s.deps.Events.AddSink(sink)
	defer s.deps.Events.RemoveSink(sink)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.drainClientReads(ctx, conn, cancel)

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink.out:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainClientReads keeps the connection's read side serviced so the
// gorilla/websocket control-frame handlers (pong, close) fire, and
// cancels the stream once the client disconnects.
func (s *Server) drainClientReads(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
