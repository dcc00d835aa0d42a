package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/looprlabs/loopr/internal/metrics"
)

const persistTimeout = 5 * time.Second

// PendingMatch is a proposed pairing awaiting acceptance from both sides.
// It lives only inside the Coordinator; once confirmed or dissolved it is
// gone and its ID is never reused.
type PendingMatch struct {
	ID              string
	UserA           string
	UserB           string
	Acceptances     map[string]bool
	SharedInterests []string
	Score           float64
	ProfileA        Profile
	ProfileB        Profile
	CriteriaA       Criteria
	CriteriaB       Criteria
	CreatedAt       time.Time
	Deadline        time.Time

	timer *time.Timer
}

// Has reports whether userID is one of the two participants.
func (m *PendingMatch) Has(userID string) bool {
	return m.UserA == userID || m.UserB == userID
}

// Partner returns the other participant's user ID.
func (m *PendingMatch) Partner(userID string) (string, bool) {
	switch userID {
	case m.UserA:
		return m.UserB, true
	case m.UserB:
		return m.UserA, true
	}
	return "", false
}

// FinalizedMatch is the durable record of a confirmed match, handed to the
// Persistence collaborator once per match ID.
type FinalizedMatch struct {
	MatchID         string
	UserA           string
	UserB           string
	SharedInterests []string
	Score           float64
	ProposedAt      time.Time
	AcceptedAt      time.Time
}

// Coordinator owns every pending match and drives each one to exactly one
// terminal outcome: confirmed, rejected, timed out, or dissolved by a
// disconnect. Each pending match carries a deadline timer that is stopped on
// whichever transition resolves it first.
type Coordinator struct {
	mu      sync.Mutex
	matches map[string]*PendingMatch
	byUser  map[string]string // userID -> match ID

	deadline    time.Duration
	transport   Transport
	persistence Persistence

	// requeue is invoked after a dissolve for each participant who should
	// return to the waiting pool. Wired by the engine; nil in isolation.
	requeue func(userID string, criteria Criteria, reason string)
}

func NewCoordinator(deadline time.Duration, transport Transport, persistence Persistence) *Coordinator {
	return &Coordinator{
		matches:     make(map[string]*PendingMatch),
		byUser:      make(map[string]string),
		deadline:    deadline,
		transport:   transport,
		persistence: persistence,
	}
}

// Len returns the number of unresolved pending matches.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	n := len(c.matches)
	c.mu.Unlock()
	return n
}

// HasUser reports whether userID is a participant in any pending match.
func (c *Coordinator) HasUser(userID string) bool {
	c.mu.Lock()
	_, ok := c.byUser[userID]
	c.mu.Unlock()
	return ok
}

// Create registers a pending match between two claimed pool entries, arms
// its deadline timer and proposes it to both users. It returns false if
// either user is somehow already part of another pending match; the caller
// still owns the entries in that case and should return them to the pool.
func (c *Coordinator) Create(anchor, candidate WaitingEntry, res Result) (string, bool) {
	now := time.Now()
	m := &PendingMatch{
		ID:    uuid.New().String(),
		UserA: anchor.UserID,
		UserB: candidate.UserID,
		Acceptances: map[string]bool{
			anchor.UserID:    false,
			candidate.UserID: false,
		},
		SharedInterests: res.Shared,
		Score:           res.Score,
		ProfileA:        anchor.Profile,
		ProfileB:        candidate.Profile,
		CriteriaA:       anchor.Criteria,
		CriteriaB:       candidate.Criteria,
		CreatedAt:       now,
		Deadline:        now.Add(c.deadline),
	}

	c.mu.Lock()
	if _, busy := c.byUser[m.UserA]; busy {
		c.mu.Unlock()
		log.Printf("[engine] Refusing match for %s: already in a pending match", m.UserA)
		return "", false
	}
	if _, busy := c.byUser[m.UserB]; busy {
		c.mu.Unlock()
		log.Printf("[engine] Refusing match for %s: already in a pending match", m.UserB)
		return "", false
	}
	c.matches[m.ID] = m
	c.byUser[m.UserA] = m.ID
	c.byUser[m.UserB] = m.ID
	m.timer = time.AfterFunc(c.deadline, func() { c.expire(m.ID) })
	metrics.PendingMatches.Set(float64(len(c.matches)))
	c.mu.Unlock()

	metrics.MatchesProposed.Inc()
	deadlineSecs := int(c.deadline / time.Second)
	c.transport.Notify(m.UserA, EventMatchProposed, ProposalNotice{
		MatchID:           m.ID,
		PartnerID:         m.UserB,
		PartnerInterests:  m.ProfileB.Interests,
		PartnerPreference: m.ProfileB.Preference,
		SharedInterests:   m.SharedInterests,
		Score:             m.Score,
		DeadlineSeconds:   deadlineSecs,
	})
	c.transport.Notify(m.UserB, EventMatchProposed, ProposalNotice{
		MatchID:           m.ID,
		PartnerID:         m.UserA,
		PartnerInterests:  m.ProfileA.Interests,
		PartnerPreference: m.ProfileA.Preference,
		SharedInterests:   m.SharedInterests,
		Score:             m.Score,
		DeadlineSeconds:   deadlineSecs,
	})
	return m.ID, true
}

// Accept records userID's acceptance. Accepting twice is a no-op; once both
// sides accept the match is confirmed, persisted, and both users are joined
// to the shared channel. Returns ErrMatchResolved when the match is unknown,
// already resolved, or does not involve userID.
func (c *Coordinator) Accept(matchID, userID string) error {
	c.mu.Lock()
	m, ok := c.matches[matchID]
	if !ok || !m.Has(userID) {
		c.mu.Unlock()
		return ErrMatchResolved
	}
	if m.Acceptances[userID] {
		c.mu.Unlock()
		return nil
	}
	m.Acceptances[userID] = true
	partner, _ := m.Partner(userID)
	if !m.Acceptances[partner] {
		c.mu.Unlock()
		c.transport.Notify(partner, EventMatchAccepted, AcceptanceNotice{
			MatchID:   matchID,
			PartnerID: userID,
		})
		return nil
	}
	// Both accepted: resolve under the lock so nothing else can race the
	// confirmation, then do the slow work outside it.
	c.remove(m)
	c.mu.Unlock()

	c.confirm(m)
	return nil
}

// Reject dissolves the match. The rejecting user walks away; only the other
// participant is notified and requeued.
func (c *Coordinator) Reject(matchID, userID string) error {
	c.mu.Lock()
	m, ok := c.matches[matchID]
	if !ok || !m.Has(userID) {
		c.mu.Unlock()
		return ErrMatchResolved
	}
	c.remove(m)
	c.mu.Unlock()

	partner, _ := m.Partner(userID)
	log.Printf("[engine] Match %s rejected by %s", matchID, userID)
	metrics.MatchesDissolved.WithLabelValues(ReasonRejected).Inc()
	c.transport.Notify(partner, EventMatchRejected, DissolveNotice{
		MatchID: matchID,
		Reason:  ReasonRejected,
	})
	c.requeueUser(partner, m, ReasonRejected)
	return nil
}

// DropUser dissolves the pending match userID is part of, if any, after the
// user's connection went away. The remaining participant is notified and
// requeued.
func (c *Coordinator) DropUser(userID string) {
	c.mu.Lock()
	matchID, ok := c.byUser[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	m := c.matches[matchID]
	c.remove(m)
	c.mu.Unlock()

	partner, _ := m.Partner(userID)
	log.Printf("[engine] Match %s dissolved: %s disconnected", matchID, userID)
	metrics.MatchesDissolved.WithLabelValues(ReasonDisconnected).Inc()
	c.transport.Notify(partner, EventMatchDisconnected, DissolveNotice{
		MatchID: matchID,
		Reason:  ReasonDisconnected,
	})
	c.requeueUser(partner, m, ReasonDisconnected)
}

// expire fires when a match's deadline timer goes off. A match resolved in
// the window between the timer firing and the lock being taken is left
// alone.
func (c *Coordinator) expire(matchID string) {
	c.mu.Lock()
	m, ok := c.matches[matchID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.remove(m)
	c.mu.Unlock()

	log.Printf("[engine] Match %s timed out", matchID)
	metrics.MatchesDissolved.WithLabelValues(ReasonTimeout).Inc()
	notice := DissolveNotice{MatchID: matchID, Reason: ReasonTimeout}
	c.transport.Notify(m.UserA, EventMatchTimeout, notice)
	c.transport.Notify(m.UserB, EventMatchTimeout, notice)
	c.requeueUser(m.UserA, m, ReasonTimeout)
	c.requeueUser(m.UserB, m, ReasonTimeout)
}

// confirm runs after a match has been removed as accepted by both sides.
// Persistence is fire-and-forget: a write failure is logged and never rolls
// the confirmation back.
func (c *Coordinator) confirm(m *PendingMatch) {
	log.Printf("[engine] Match %s confirmed (%s, %s)", m.ID, m.UserA, m.UserB)
	metrics.MatchesConfirmed.Inc()

	final := FinalizedMatch{
		MatchID:         m.ID,
		UserA:           m.UserA,
		UserB:           m.UserB,
		SharedInterests: m.SharedInterests,
		Score:           m.Score,
		ProposedAt:      m.CreatedAt,
		AcceptedAt:      time.Now(),
	}
	go c.persist(final)

	notice := func(partner string) ConfirmNotice {
		return ConfirmNotice{
			MatchID:         m.ID,
			ChannelID:       m.ID,
			PartnerID:       partner,
			SharedInterests: m.SharedInterests,
		}
	}
	c.transport.Notify(m.UserA, EventMatchConfirmed, notice(m.UserB))
	c.transport.Notify(m.UserB, EventMatchConfirmed, notice(m.UserA))
	c.transport.JoinSharedChannel(m.UserA, m.ID)
	c.transport.JoinSharedChannel(m.UserB, m.ID)
}

func (c *Coordinator) persist(final FinalizedMatch) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.persistence.SaveFinalizedMatch(ctx, final); err != nil {
		metrics.PersistFailures.Inc()
		log.Printf("[engine] Error persisting match %s: %v", final.MatchID, err)
	}
}

// remove deletes the match from both indexes and stops its deadline timer.
// Callers must hold c.mu.
func (c *Coordinator) remove(m *PendingMatch) {
	delete(c.matches, m.ID)
	delete(c.byUser, m.UserA)
	delete(c.byUser, m.UserB)
	if m.timer != nil {
		m.timer.Stop()
	}
	metrics.PendingMatches.Set(float64(len(c.matches)))
}

func (c *Coordinator) requeueUser(userID string, m *PendingMatch, reason string) {
	if c.requeue == nil {
		return
	}
	criteria := m.CriteriaA
	if userID == m.UserB {
		criteria = m.CriteriaB
	}
	c.requeue(userID, criteria, reason)
}

// StopTimers stops every outstanding deadline timer. Used during shutdown;
// the matches themselves are left in place.
func (c *Coordinator) StopTimers() {
	c.mu.Lock()
	for _, m := range c.matches {
		if m.timer != nil {
			m.timer.Stop()
		}
	}
	c.mu.Unlock()
}
