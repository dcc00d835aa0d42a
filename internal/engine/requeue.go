package engine

import (
	"context"
	"log"
	"time"
)

const profileTimeout = 3 * time.Second

// Requeuer returns users to the waiting pool after their pending match
// dissolved. Every re-entry goes through a short cooldown and a fresh
// profile read so stale interests never linger across matches.
type Requeuer struct {
	registry *Registry
	coord    *Coordinator
	identity Identity
	proposer *Proposer

	cooldown time.Duration
	ctx      context.Context
}

func newRequeuer(ctx context.Context, cfg Config, registry *Registry, coord *Coordinator, identity Identity, proposer *Proposer) *Requeuer {
	return &Requeuer{
		registry: registry,
		coord:    coord,
		identity: identity,
		proposer: proposer,
		cooldown: cfg.RequeueCooldown,
		ctx:      ctx,
	}
}

// Schedule requeues userID after the cooldown. Safe to call from any
// dissolve path; the deferred work re-checks everything before acting.
func (r *Requeuer) Schedule(userID string, criteria Criteria, reason string) {
	time.AfterFunc(r.cooldown, func() {
		r.Requeue(userID, criteria, reason)
	})
}

// Requeue puts userID back in the waiting pool with a freshly loaded
// profile. It is a no-op when the engine is stopping, the user has no live
// connection, or the user has meanwhile landed in another pending match.
func (r *Requeuer) Requeue(userID string, criteria Criteria, reason string) {
	if r.ctx.Err() != nil {
		return
	}
	connID, ok := r.registry.Resolve(userID)
	if !ok {
		return
	}
	if r.coord.HasUser(userID) {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, profileTimeout)
	profile, err := r.identity.CurrentProfile(ctx, userID)
	cancel()
	if err != nil {
		log.Printf("[engine] Error refreshing profile for %s: %v", userID, err)
		return
	}
	if profile == nil || len(normalizeInterests(profile.Interests)) == 0 {
		log.Printf("[engine] Not requeuing %s: no interests on profile", userID)
		return
	}

	entry := WaitingEntry{
		UserID:   userID,
		ConnID:   connID,
		Profile:  *profile,
		Criteria: criteria,
		JoinedAt: time.Now(),
	}
	// The user may have re-entered a match while the refresh was in flight.
	if !r.proposer.admit(entry) {
		return
	}
	log.Printf("[engine] Requeued %s after %s", userID, reason)
	r.proposer.ProposeFor(userID)
}
