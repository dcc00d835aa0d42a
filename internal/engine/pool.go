package engine

import (
	"sort"
	"sync"
	"time"
)

// WaitingEntry is a user's record while they wait to be paired. Entries are
// owned by the Pool; the processing flag marks an entry currently serving as
// a pairing anchor so concurrent scans leave it alone.
type WaitingEntry struct {
	UserID   string
	ConnID   string
	Profile  Profile
	Criteria Criteria
	JoinedAt time.Time

	processing bool
}

// Pool is the in-memory set of users waiting to be paired, keyed by user ID.
// All access goes through the pool's own lock.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*WaitingEntry
}

func NewPool() *Pool {
	return &Pool{entries: make(map[string]*WaitingEntry)}
}

// Add inserts or replaces the entry for e.UserID. Replacing resets the
// processing flag, so a re-request while a scan holds the old entry is safe:
// the scan's claim will still go through this map.
func (p *Pool) Add(e WaitingEntry) {
	e.processing = false
	p.mu.Lock()
	p.entries[e.UserID] = &e
	p.mu.Unlock()
}

// Remove deletes the entry for userID and reports whether one existed.
func (p *Pool) Remove(userID string) bool {
	p.mu.Lock()
	_, ok := p.entries[userID]
	delete(p.entries, userID)
	p.mu.Unlock()
	return ok
}

// Has reports whether userID currently waits in the pool.
func (p *Pool) Has(userID string) bool {
	p.mu.RLock()
	_, ok := p.entries[userID]
	p.mu.RUnlock()
	return ok
}

// Get returns a copy of the entry for userID.
func (p *Pool) Get(userID string) (WaitingEntry, bool) {
	p.mu.RLock()
	e, ok := p.entries[userID]
	if !ok {
		p.mu.RUnlock()
		return WaitingEntry{}, false
	}
	out := *e
	p.mu.RUnlock()
	return out, true
}

// Len returns the number of waiting users.
func (p *Pool) Len() int {
	p.mu.RLock()
	n := len(p.entries)
	p.mu.RUnlock()
	return n
}

// MarkProcessing flags userID as the anchor of an in-flight scan. It returns
// false when the user is absent or already flagged, in which case the caller
// must not scan for them.
func (p *Pool) MarkProcessing(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[userID]
	if !ok || e.processing {
		return false
	}
	e.processing = true
	return true
}

// ClearProcessing removes the processing flag from userID, if present.
func (p *Pool) ClearProcessing(userID string) {
	p.mu.Lock()
	if e, ok := p.entries[userID]; ok {
		e.processing = false
	}
	p.mu.Unlock()
}

// Snapshot returns copies of all entries ordered by join time, oldest first,
// with user ID as tiebreak. Copies go stale the moment the lock is released;
// callers must re-validate through Claim before acting on one.
func (p *Pool) Snapshot() []WaitingEntry {
	p.mu.RLock()
	out := make([]WaitingEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	p.mu.RUnlock()

	sortEntries(out)
	return out
}

// Claim atomically removes the anchor and candidate entries so a pending
// match can be created from them. It fails without removing anything when
// either user is gone or the candidate is mid-scan elsewhere, which is how
// two concurrent scans are kept from pairing the same user twice.
func (p *Pool) Claim(anchorID, candidateID string) (anchor, candidate WaitingEntry, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, okA := p.entries[anchorID]
	c, okC := p.entries[candidateID]
	if !okA || !okC || c.processing {
		return WaitingEntry{}, WaitingEntry{}, false
	}
	delete(p.entries, anchorID)
	delete(p.entries, candidateID)
	return *a, *c, true
}

// CleanupStale removes every entry whose user fails the isLive check and
// returns how many were dropped.
func (p *Pool) CleanupStale(isLive func(userID string) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id := range p.entries {
		if !isLive(id) {
			delete(p.entries, id)
			removed++
		}
	}
	return removed
}

func sortEntries(entries []WaitingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
}
