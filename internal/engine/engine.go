// Package engine implements the matchmaking core: a waiting pool of users,
// an interest-overlap scorer, a proposer that pairs compatible users, and a
// coordinator that drives each proposed match to confirmation or
// dissolution. The engine is the single authority for pool and match state;
// collaborators for persistence, transport and identity are injected.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/looprlabs/loopr/internal/metrics"
)

// Config carries the engine's timing knobs and scan limits.
type Config struct {
	// CycleInterval is how often the periodic match cycle sweeps the pool.
	CycleInterval time.Duration
	// CleanupInterval is how often entries without a live connection are
	// swept out of the pool.
	CleanupInterval time.Duration
	// AcceptDeadline is how long both users have to accept a proposal.
	AcceptDeadline time.Duration
	// RequeueCooldown delays re-entry into the pool after a dissolve.
	RequeueCooldown time.Duration
	// RetryAfter is the delay before the single on-demand scan retry.
	RetryAfter time.Duration
	// MaxMatchesPerCycle caps proposals per periodic sweep.
	MaxMatchesPerCycle int
	// MaxCandidatesPerAnchor caps how many pool entries are scored per scan.
	MaxCandidatesPerAnchor int
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:          5 * time.Second,
		CleanupInterval:        30 * time.Second,
		AcceptDeadline:         30 * time.Second,
		RequeueCooldown:        1 * time.Second,
		RetryAfter:             10 * time.Second,
		MaxMatchesPerCycle:     64,
		MaxCandidatesPerAnchor: 128,
	}
}

// Engine bundles the matchmaking components behind the operations the
// outside world is allowed to call. One Engine instance owns all state.
type Engine struct {
	cfg      Config
	pool     *Pool
	registry *Registry
	coord    *Coordinator
	proposer *Proposer
	requeuer *Requeuer
	identity Identity

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, identity Identity, transport Transport, persistence Persistence) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	pool := NewPool()
	registry := NewRegistry()
	coord := NewCoordinator(cfg.AcceptDeadline, transport, persistence)
	proposer := newProposer(ctx, cfg, pool, registry, coord)
	requeuer := newRequeuer(ctx, cfg, registry, coord, identity, proposer)
	coord.requeue = requeuer.Schedule

	return &Engine{
		cfg:      cfg,
		pool:     pool,
		registry: registry,
		coord:    coord,
		proposer: proposer,
		requeuer: requeuer,
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the periodic match and cleanup loops.
func (e *Engine) Start() {
	log.Printf("[engine] Starting (cycle %v, accept deadline %v)", e.cfg.CycleInterval, e.cfg.AcceptDeadline)
	go e.cycleLoop()
	go e.cleanupLoop()
}

// Stop halts the loops and outstanding deadline timers. In-flight notify
// and persistence calls are not waited for.
func (e *Engine) Stop() {
	e.cancel()
	e.coord.StopTimers()
	log.Printf("[engine] Stopped")
}

// RequestPairing binds the user's connection, loads their profile, and puts
// them in the waiting pool. Re-requesting replaces the existing entry. An
// immediate scan runs before returning, so the caller may already find the
// user proposed rather than waiting.
func (e *Engine) RequestPairing(userID, connID string, criteria Criteria) error {
	if connID == "" {
		return ErrNotLive
	}
	if e.coord.HasUser(userID) {
		return ErrPendingMatch
	}
	e.registry.Bind(userID, connID)

	ctx, cancel := context.WithTimeout(e.ctx, profileTimeout)
	profile, err := e.identity.CurrentProfile(ctx, userID)
	cancel()
	if err != nil {
		return fmt.Errorf("engine: load profile for %s: %w", userID, err)
	}
	if profile == nil || len(normalizeInterests(profile.Interests)) == 0 {
		return ErrNoInterests
	}

	entry := WaitingEntry{
		UserID:   userID,
		ConnID:   connID,
		Profile:  *profile,
		Criteria: criteria,
		JoinedAt: time.Now(),
	}
	// A scan may have claimed this user while the profile read was in flight.
	if !e.proposer.admit(entry) {
		return ErrPendingMatch
	}
	metrics.PairingRequests.Inc()
	metrics.WaitingUsers.Set(float64(e.pool.Len()))
	log.Printf("[engine] %s joined the pool (%d waiting)", userID, e.pool.Len())

	e.proposer.ProposeFor(userID)
	return nil
}

// CancelPairing removes the user from the waiting pool. Once a proposal has
// been made cancellation no longer applies and ErrNotInPool is returned.
func (e *Engine) CancelPairing(userID string) error {
	if !e.pool.Remove(userID) {
		return ErrNotInPool
	}
	metrics.WaitingUsers.Set(float64(e.pool.Len()))
	log.Printf("[engine] %s left the pool", userID)
	return nil
}

// Accept records userID's acceptance of the match.
func (e *Engine) Accept(matchID, userID string) error {
	return e.coord.Accept(matchID, userID)
}

// Reject dissolves the match on userID's behalf.
func (e *Engine) Reject(matchID, userID string) error {
	return e.coord.Reject(matchID, userID)
}

// OnConnect binds userID to a live connection.
func (e *Engine) OnConnect(userID, connID string) {
	e.registry.Bind(userID, connID)
}

// OnDisconnect tears down a user's presence: their pool entry is dropped and
// any pending match is dissolved in the partner's favor. A stale disconnect
// for a connection that has already been replaced is ignored.
func (e *Engine) OnDisconnect(userID, connID string) {
	if !e.registry.Unbind(userID, connID) {
		return
	}
	if e.pool.Remove(userID) {
		metrics.WaitingUsers.Set(float64(e.pool.Len()))
	}
	e.coord.DropUser(userID)
}

// Waiting returns the current waiting pool size.
func (e *Engine) Waiting() int {
	return e.pool.Len()
}

// PendingMatches returns the number of unresolved proposals.
func (e *Engine) PendingMatches() int {
	return e.coord.Len()
}

func (e *Engine) cycleLoop() {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.proposer.RunCycle()
			metrics.WaitingUsers.Set(float64(e.pool.Len()))
		}
	}
}

func (e *Engine) cleanupLoop() {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if removed := e.pool.CleanupStale(e.registry.IsLive); removed > 0 {
				metrics.WaitingUsers.Set(float64(e.pool.Len()))
				log.Printf("[engine] Cleaned %d stale pool entr(ies)", removed)
			}
		}
	}
}
