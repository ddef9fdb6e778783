// Package mint runs the kernel's sole currency-creation mechanism: a
// recurring sealed-bid (Vickrey) auction over executable artifacts, scored
// by an external collaborator and settled as newly created scrip plus a
// UBI redistribution among every standing principal.
package mint

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/r3e-network/agent-kernel/internal/kernel/artifact"
	"github.com/r3e-network/agent-kernel/internal/kernel/eventlog"
	"github.com/r3e-network/agent-kernel/internal/kernel/kernelerr"
	"github.com/r3e-network/agent-kernel/internal/kernel/ledger"
	"github.com/r3e-network/agent-kernel/pkg/logger"
	"github.com/r3e-network/agent-kernel/pkg/metrics"
)

// State is one stage of the auction cycle.
type State string

const (
	StateWaiting State = "waiting"
	StateBidding State = "bidding"
	StateClosed  State = "closed"
	StateScoring State = "scoring"
)

// Config parameterizes one auction cycle. Start anchors FirstAuctionTick
// to an absolute time (normally kernel boot).
type Config struct {
	Start            time.Time
	AuctionPeriod    time.Duration
	BiddingWindow    time.Duration
	FirstAuctionTick time.Duration
	MinBid           int64
	MintRatio        int64
	// UBISinkPrincipal receives the integer-division remainder left over
	// after dividing the winner's payment across standing principals. See
	// DESIGN.md for why the remainder accrues here instead of carrying
	// forward to the next auction.
	UBISinkPrincipal string
}

// Bid is one principal's held offer for the current BIDDING window.
type Bid struct {
	PrincipalID string
	ArtifactID  string
	Amount      int64
	PlacedAt    time.Time
}

// Scorer evaluates a winning artifact and returns a score in [0, 100].
type Scorer interface {
	Score(ctx context.Context, artifactID string) (int, error)
}

// Mint owns the auction state machine and is the only caller of
// Ledger.Mint. The can_mint capability is not checked by this package, by
// the ledger, or by genesis loading.
type Mint struct {
	store  *artifact.Store
	ledger *ledger.Ledger
	events *eventlog.Log
	scorer Scorer
	cfg    Config
	log    *logger.Logger
	rng    *rand.Rand

	mu              sync.Mutex
	state           State
	bids            map[string]*Bid // principalID -> latest bid
	biddingDeadline time.Time
	nextOpen        time.Time
}

// New constructs a Mint in the WAITING state.
func New(store *artifact.Store, led *ledger.Ledger, events *eventlog.Log, scorer Scorer, cfg Config, log *logger.Logger) *Mint {
	return &Mint{
		store: store, ledger: led, events: events, scorer: scorer, cfg: cfg, log: log,
		rng:      rand.New(rand.NewSource(1)),
		state:    StateWaiting,
		bids:     make(map[string]*Bid),
		nextOpen: cfg.Start.Add(cfg.FirstAuctionTick),
	}
}

// State returns the current auction stage.
func (m *Mint) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Bid submits or supersedes principalID's bid for artifactID. It is only
// accepted while the auction is BIDDING.
func (m *Mint) Bid(principalID, artifactID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateBidding {
		return fmt.Errorf("mint is %s, not accepting bids: %w", m.state, kernelerr.ErrAuctionNotBidding)
	}
	if amount < m.cfg.MinBid {
		return fmt.Errorf("bid %d below min_bid %d: %w", amount, m.cfg.MinBid, kernelerr.ErrInvalidArgument)
	}

	target, err := m.store.Get(artifactID)
	if err != nil {
		return err
	}
	if !target.CanExecute {
		return fmt.Errorf("artifact %s is not executable: %w", artifactID, kernelerr.ErrInvalidArgument)
	}
	if target.CreatedBy != principalID {
		return fmt.Errorf("principal %s does not own artifact %s: %w", principalID, artifactID, kernelerr.ErrPermissionDenied)
	}

	if err := m.ledger.SetHold(principalID, amount); err != nil {
		return err
	}

	m.bids[principalID] = &Bid{PrincipalID: principalID, ArtifactID: artifactID, Amount: amount, PlacedAt: time.Now()}
	m.events.Append(eventlog.CategoryBidPlaced, principalID, artifactID, "mint", map[string]any{"bid": amount})
	return nil
}

// Tick advances the state machine against the wall clock. It is driven by
// a cron schedule (see clock.go) and is cheap to call more often than the
// state actually changes.
func (m *Mint) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()

	switch m.state {
	case StateWaiting:
		if !now.Before(m.nextOpen) {
			m.openBidding(now)
		}
		m.mu.Unlock()

	case StateBidding:
		if !now.Before(m.biddingDeadline) {
			m.state = StateClosed
			bids := m.bids
			m.mu.Unlock()
			m.events.Append(eventlog.CategoryAuctionClosed, "mint", "", "mint", map[string]any{"bids": len(bids)})
			m.resolveAndScore(ctx, bids, now)
		} else {
			m.mu.Unlock()
		}

	case StateClosed, StateScoring:
		m.mu.Unlock()

	default:
		m.mu.Unlock()
	}
}

func (m *Mint) openBidding(now time.Time) {
	m.state = StateBidding
	m.bids = make(map[string]*Bid)
	m.biddingDeadline = now.Add(m.cfg.BiddingWindow)
	m.events.Append(eventlog.CategoryAuctionOpened, "mint", "", "mint", map[string]any{"deadline": m.biddingDeadline})
}

// resolveAndScore runs the Vickrey resolution and, for a non-empty
// auction, blocks on the scorer before crediting the winner and
// redistributing UBI. It must be called without m.mu held.
func (m *Mint) resolveAndScore(ctx context.Context, bids map[string]*Bid, now time.Time) {
	m.mu.Lock()
	m.state = StateScoring
	m.mu.Unlock()

	winner, price := resolve(bids, m.rng, m.cfg.MinBid)
	m.releaseNonWinnerHolds(bids, winner)

	if winner == nil {
		m.events.Append(eventlog.CategoryAuctionResolved, "mint", "", "mint", map[string]any{"outcome": "empty"})
		m.advance(now)
		return
	}

	score, err := m.scorer.Score(ctx, winner.ArtifactID)
	if err != nil {
		m.ledger.SetHold(winner.PrincipalID, 0)
		m.events.Append(eventlog.CategoryAuctionResolved, winner.PrincipalID, winner.ArtifactID, "mint", map[string]any{
			"outcome": "scorer_failed", "error": err.Error(),
		})
		m.advance(now)
		return
	}

	m.settle(winner, price, score)
	metrics.RecordAuctionResolved("settled")
	m.advance(now)
}

// settle charges the winner the second price, mints score/mint_ratio new
// scrip to the winner, and redistributes the payment as UBI.
func (m *Mint) settle(winner *Bid, price int64, score int) {
	m.ledger.SetHold(winner.PrincipalID, 0)
	if err := m.ledger.Transfer(winner.PrincipalID, "mint:reserve", price); err != nil {
		m.log.WithField("principal", winner.PrincipalID).WithError(err).Warn("mint settle: charge failed")
		return
	}

	minted := int64(score) / m.cfg.MintRatio
	if minted > 0 {
		m.ledger.Mint(winner.PrincipalID, minted)
	}

	standing := m.standingPrincipals()
	m.redistributeUBI(price, standing)

	m.events.Append(eventlog.CategoryAuctionResolved, winner.PrincipalID, winner.ArtifactID, "mint", map[string]any{
		"outcome": "won", "price": price, "score": score, "minted": minted, "ubi_recipients": len(standing),
	})
}

// redistributeUBI divides pool equally among standing, paying each share
// out of mint:reserve (the winner's payment parked there by settle). This
// is a pure transfer, not a mint: the auction's only newly created money
// is the score-driven credit settle already applied. Any integer-division
// remainder goes to cfg.UBISinkPrincipal if configured, or otherwise stays
// in mint:reserve, per the open redistribution question resolved in
// DESIGN.md.
func (m *Mint) redistributeUBI(pool int64, standing []string) {
	if len(standing) == 0 {
		return
	}
	share := pool / int64(len(standing))
	if share > 0 {
		for _, p := range standing {
			if err := m.ledger.Transfer("mint:reserve", p, share); err != nil {
				m.log.WithField("principal", p).WithError(err).Warn("ubi share transfer failed")
			}
		}
	}
	remainder := pool - share*int64(len(standing))
	if remainder > 0 && m.cfg.UBISinkPrincipal != "" {
		if err := m.ledger.Transfer("mint:reserve", m.cfg.UBISinkPrincipal, remainder); err != nil {
			m.log.WithError(err).Warn("ubi remainder transfer failed")
		}
	}
}

// standingPrincipals returns the id of every artifact that currently
// carries has_standing — an artifact with standing is itself the
// principal that owns a ledger entry, per the Account/Agent categories.
func (m *Mint) standingPrincipals() []string {
	var out []string
	for _, a := range m.store.List(artifact.Query{}) {
		if a.HasStanding {
			out = append(out, a.ID)
		}
	}
	return out
}

func (m *Mint) releaseNonWinnerHolds(bids map[string]*Bid, winner *Bid) {
	for principalID := range bids {
		if winner != nil && principalID == winner.PrincipalID {
			continue
		}
		m.ledger.SetHold(principalID, 0)
	}
}

func (m *Mint) advance(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateWaiting
	m.nextOpen = now.Add(m.cfg.AuctionPeriod)
}

// Snapshot captures the auction's in-flight state for checkpointing. A
// mint caught mid-SCORING is restored into WAITING for the next period
// rather than re-entering a scorer call against state that has moved on.
func (m *Mint) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := make([]Bid, 0, len(m.bids))
	for _, b := range m.bids {
		bids = append(bids, *b)
	}
	return Snapshot{
		State:           m.state,
		Bids:            bids,
		BiddingDeadline: m.biddingDeadline,
		NextOpen:        m.nextOpen,
	}
}

// Snapshot is Mint's checkpointed state.
type Snapshot struct {
	State           State
	Bids            []Bid
	BiddingDeadline time.Time
	NextOpen        time.Time
}

// Restore installs a prior Snapshot. SCORING and CLOSED are not
// resumable mid-flight (the scorer call they depend on did not survive
// the restart), so both fall back to WAITING at the next period.
func (m *Mint) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch snap.State {
	case StateBidding:
		m.state = StateBidding
		m.biddingDeadline = snap.BiddingDeadline
		m.bids = make(map[string]*Bid, len(snap.Bids))
		for i := range snap.Bids {
			b := snap.Bids[i]
			m.bids[b.PrincipalID] = &b
		}
	default:
		m.state = StateWaiting
		m.nextOpen = snap.NextOpen
		if snap.State == StateClosed || snap.State == StateScoring {
			m.nextOpen = snap.BiddingDeadline.Add(m.cfg.AuctionPeriod)
		}
		m.bids = make(map[string]*Bid)
	}
}

// resolve implements second-price sealed-bid resolution: the highest
// bidder wins and pays the second-highest amount, or min_bid if only one
// bid was placed. Ties on the top amount are broken at random.
func resolve(bids map[string]*Bid, rng *rand.Rand, minBid int64) (winner *Bid, price int64) {
	if len(bids) == 0 {
		return nil, 0
	}
	ordered := make([]*Bid, 0, len(bids))
	for _, b := range bids {
		ordered = append(ordered, b)
	}
	if len(ordered) == 1 {
		return ordered[0], minBid
	}

	var top, second *Bid
	var topTies []*Bid
	for _, b := range ordered {
		switch {
		case top == nil || b.Amount > top.Amount:
			second = top
			top = b
			topTies = []*Bid{b}
		case b.Amount == top.Amount:
			topTies = append(topTies, b)
		case second == nil || b.Amount > second.Amount:
			second = b
		}
	}

	if len(topTies) > 1 {
		top = topTies[rng.Intn(len(topTies))]
		// With more than one bidder at the top amount, the second price is
		// that same amount.
		return top, top.Amount
	}
	if second == nil {
		return top, top.Amount
	}
	return top, second.Amount
}
