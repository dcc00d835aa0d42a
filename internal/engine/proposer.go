package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looprlabs/loopr/internal/metrics"
)

// Proposer scans the waiting pool for compatible pairs and promotes the best
// one into a pending match. It has two entry points sharing one core: an
// on-demand scan for a single freshly queued user, and a periodic cycle that
// sweeps the whole pool for users the on-demand path missed.
type Proposer struct {
	pool     *Pool
	registry *Registry
	coord    *Coordinator

	maxPerCycle   int
	maxCandidates int
	retryAfter    time.Duration

	// cycleRunning keeps periodic sweeps from overlapping when one takes
	// longer than the cycle interval.
	cycleRunning atomic.Bool

	// commitMu serializes the claim-and-create commit against pool
	// admissions. A user must never re-enter the pool while a scan is
	// promoting them to a pending match.
	commitMu sync.Mutex

	// ctx gates retry timers after engine shutdown.
	ctx context.Context
}

func newProposer(ctx context.Context, cfg Config, pool *Pool, registry *Registry, coord *Coordinator) *Proposer {
	return &Proposer{
		pool:          pool,
		registry:      registry,
		coord:         coord,
		maxPerCycle:   cfg.MaxMatchesPerCycle,
		maxCandidates: cfg.MaxCandidatesPerAnchor,
		retryAfter:    cfg.RetryAfter,
		ctx:           ctx,
	}
}

// ProposeFor runs an immediate scan anchored on userID, typically right
// after they joined the pool. If no partner is available a single retry is
// scheduled; beyond that the periodic cycle takes over. Returns true when a
// match was proposed.
func (p *Proposer) ProposeFor(userID string) bool {
	if p.attempt(userID) {
		return true
	}
	time.AfterFunc(p.retryAfter, func() {
		if p.ctx.Err() != nil {
			return
		}
		p.attempt(userID)
	})
	return false
}

// admit places an entry in the pool unless its user already holds a pending
// match. The check and the insert run under commitMu, so an admission cannot
// interleave with a scan that is promoting the same user.
func (p *Proposer) admit(e WaitingEntry) bool {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if p.coord.HasUser(e.UserID) {
		return false
	}
	p.pool.Add(e)
	return true
}

// RunCycle sweeps the pool oldest-first and proposes up to maxPerCycle
// matches. Returns the number proposed; 0 immediately if a cycle is already
// in flight.
func (p *Proposer) RunCycle() int {
	if !p.cycleRunning.CompareAndSwap(false, true) {
		return 0
	}
	defer p.cycleRunning.Store(false)

	start := time.Now()
	matched := 0
	for _, e := range p.pool.Snapshot() {
		if matched >= p.maxPerCycle {
			break
		}
		// Entries claimed or cancelled since the snapshot fail the attempt
		// cheaply, so no re-check is needed here.
		if p.attempt(e.UserID) {
			matched++
		}
	}
	metrics.MatchCycleDuration.Observe(time.Since(start).Seconds())
	if matched > 0 {
		log.Printf("[engine] Match cycle proposed %d match(es) in %v", matched, time.Since(start))
	}
	return matched
}

// attempt anchors one scan on userID: flag the entry as processing, rank the
// rest of the pool against it, and claim the best candidate that is still
// available. Returns true when a pending match was created.
func (p *Proposer) attempt(userID string) bool {
	if !p.registry.IsLive(userID) {
		return false
	}
	if !p.pool.MarkProcessing(userID) {
		return false
	}
	defer p.pool.ClearProcessing(userID)

	anchor, ok := p.pool.Get(userID)
	if !ok {
		return false
	}

	candidates := make([]WaitingEntry, 0, p.pool.Len())
	for _, e := range p.pool.Snapshot() {
		if e.UserID == anchor.UserID || e.processing {
			continue
		}
		if !p.registry.IsLive(e.UserID) {
			continue
		}
		candidates = append(candidates, e)
		if len(candidates) >= p.maxCandidates {
			break
		}
	}

	for _, cand := range Rank(anchor, candidates) {
		if !p.registry.IsLive(cand.Entry.UserID) {
			continue
		}
		p.commitMu.Lock()
		a, b, ok := p.pool.Claim(anchor.UserID, cand.Entry.UserID)
		if !ok {
			p.commitMu.Unlock()
			if !p.pool.Has(anchor.UserID) {
				// The anchor was matched or cancelled mid-scan; stop.
				return false
			}
			continue
		}
		matchID, created := p.coord.Create(a, b, cand.Result)
		if !created {
			p.pool.Add(a)
			p.pool.Add(b)
			p.commitMu.Unlock()
			continue
		}
		p.commitMu.Unlock()
		now := time.Now()
		metrics.TimeToPropose.Observe(now.Sub(a.JoinedAt).Seconds())
		metrics.TimeToPropose.Observe(now.Sub(b.JoinedAt).Seconds())
		log.Printf("[engine] Proposed match %s: %s + %s (score %.1f, shared %v)",
			matchID, a.UserID, b.UserID, cand.Result.Score, cand.Result.Shared)
		return true
	}
	return false
}
