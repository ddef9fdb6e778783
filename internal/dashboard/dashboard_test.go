package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/internal/kernel/mint"
	"github.com/r3e-network/agent-kernel/pkg/logger"
)

type noopScorer struct{}

func (noopScorer) Score(ctx context.Context, artifactID string) (int, error) { return 0, nil }

func newTestServer(t *testing.T) (*httptest.Server, Dependencies) {
	t.Helper()
	store := artifact.New()
	led := ledger.New()
	events := eventlog.New()
	m := mint.New(store, led, events, noopScorer{}, mint.Config{
		AuctionPeriod: time.Hour, BiddingWindow: time.Minute, MinBid: 1, MintRatio: 10,
	}, logger.NewDefault("dashboard-test"))
	deps := Dependencies{Store: store, Ledger: led, Events: events, Mint: m}
	return httptest.NewServer(New(deps)), deps
}

func TestArtifactsEndpointPaginates(t *testing.T) {
	srv, deps := newTestServer(t)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		deps.Store.Create(&artifact.Artifact{ID: string(rune('a' + i)), Type: "data"})
	}

	resp, err := http.Get(srv.URL + "/artifacts?limit=2")
	if err != nil {
		t.Fatalf("GET /artifacts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Total     int `json:"total"`
		Artifacts []struct {
			ID string `json:"id"`
		} `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 {
		t.Fatalf("total = %d, want 3", body.Total)
	}
	if len(body.Artifacts) != 2 {
		t.Fatalf("page length = %d, want 2", len(body.Artifacts))
	}
}

func TestArtifactNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventStreamForwardsAppendedEvents(t *testing.T) {
	srv, deps := newTestServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to register its sink before we append.
	time.Sleep(20 * time.Millisecond)
	deps.Events.Append(eventlog.CategoryActionCommitted, "agent1", "a1", "c1", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev eventlog.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.EventType != eventlog.CategoryActionCommitted {
		t.Fatalf("event type = %q, want %q", ev.EventType, eventlog.CategoryActionCommitted)
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	var tooMany bool
	for i := 0; i < 200; i++ {
		resp, err := http.Get(srv.URL + "/mint")
		if err != nil {
			t.Fatalf("GET /mint: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			tooMany = true
			break
		}
	}
	if !tooMany {
		t.Fatal("expected at least one request to be rate limited under burst")
	}
}
