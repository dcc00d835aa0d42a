package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestProposer(t *testing.T, cfg Config) (*Proposer, *Pool, *Registry, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	pool := NewPool()
	reg := NewRegistry()
	coord := NewCoordinator(time.Minute, tr, &fakePersistence{})
	t.Cleanup(coord.StopTimers)
	p := newProposer(context.Background(), cfg, pool, reg, coord)
	return p, pool, reg, tr
}

// addLive puts an entry in the pool with a live connection binding.
func addLive(pool *Pool, reg *Registry, e WaitingEntry) {
	reg.Bind(e.UserID, e.ConnID)
	pool.Add(e)
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryAfter = time.Hour // keep the on-demand retry out of the way
	return cfg
}

// ---------- ProposeFor tests ----------

func TestProposeFor_PairsBestCandidate(t *testing.T) {
	p, pool, reg, tr := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "hiking", "jazz"))
	addLive(pool, reg, testEntry("bob", "jazz", "cooking"))
	addLive(pool, reg, testEntry("carol", "hiking", "jazz"))

	if !p.ProposeFor("alice") {
		t.Fatal("expected a proposal")
	}
	// Carol matches both interests and outranks bob.
	if pool.Has("alice") || pool.Has("carol") {
		t.Error("expected matched users removed from pool")
	}
	if !pool.Has("bob") {
		t.Error("expected bob left waiting")
	}
	notice, ok := tr.lastProposal("alice")
	if !ok {
		t.Fatal("expected proposal notice for alice")
	}
	if notice.PartnerID != "carol" {
		t.Errorf("expected carol as alice's partner, got %s", notice.PartnerID)
	}
	if notice.Score != 100 {
		t.Errorf("expected score 100, got %v", notice.Score)
	}
}

func TestProposeFor_NoCandidatesLeavesUserWaiting(t *testing.T) {
	p, pool, reg, tr := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "jazz"))

	if p.ProposeFor("alice") {
		t.Fatal("expected no proposal for a lone user")
	}
	if !pool.Has("alice") {
		t.Error("expected alice still waiting")
	}
	if got := tr.countEvent(EventMatchProposed); got != 0 {
		t.Errorf("expected no proposal notices, got %d", got)
	}
}

func TestProposeFor_IncompatiblePoolLeavesUserWaiting(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "jazz"))
	addLive(pool, reg, testEntry("bob", "cooking"))

	if p.ProposeFor("alice") {
		t.Fatal("expected no proposal without interest overlap")
	}
	if pool.Len() != 2 {
		t.Errorf("expected both users still waiting, got %d", pool.Len())
	}
}

func TestProposeFor_SkipsCandidateWithoutConnection(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "jazz"))
	pool.Add(testEntry("bob", "jazz")) // never bound

	if p.ProposeFor("alice") {
		t.Fatal("expected no proposal with only a dead candidate")
	}
	if !pool.Has("alice") || !pool.Has("bob") {
		t.Error("expected pool untouched")
	}
}

func TestProposeFor_AnchorWithoutConnection(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	pool.Add(testEntry("alice", "jazz")) // never bound
	addLive(pool, reg, testEntry("bob", "jazz"))

	if p.ProposeFor("alice") {
		t.Fatal("expected no proposal for a dead anchor")
	}
}

func TestProposeFor_UnknownUser(t *testing.T) {
	p, _, reg, _ := newTestProposer(t, quietConfig())
	reg.Bind("ghost", "conn-ghost")

	if p.ProposeFor("ghost") {
		t.Fatal("expected no proposal for a user outside the pool")
	}
}

func TestProposeFor_SkipsCandidateMidScan(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "jazz"))
	addLive(pool, reg, testEntry("bob", "jazz"))
	pool.MarkProcessing("bob")

	if p.ProposeFor("alice") {
		t.Fatal("expected no proposal while the only candidate is mid-scan")
	}
	if pool.Len() != 2 {
		t.Errorf("expected both users still waiting, got %d", pool.Len())
	}
}

func TestProposeFor_PrefersLongestWaitingOnTie(t *testing.T) {
	p, pool, reg, tr := newTestProposer(t, quietConfig())
	base := time.Now()
	addLive(pool, reg, entryAt("alice", base, "jazz"))
	addLive(pool, reg, entryAt("newer", base.Add(-time.Second), "jazz"))
	addLive(pool, reg, entryAt("older", base.Add(-time.Minute), "jazz"))

	if !p.ProposeFor("alice") {
		t.Fatal("expected a proposal")
	}
	notice, _ := tr.lastProposal("alice")
	if notice.PartnerID != "older" {
		t.Errorf("expected the longest-waiting candidate on a tie, got %s", notice.PartnerID)
	}
}

func TestProposeFor_SchedulesSingleRetry(t *testing.T) {
	cfg := quietConfig()
	cfg.RetryAfter = 30 * time.Millisecond
	p, pool, reg, tr := newTestProposer(t, cfg)
	addLive(pool, reg, testEntry("alice", "jazz"))

	if p.ProposeFor("alice") {
		t.Fatal("expected first scan to find nobody")
	}

	// A partner shows up before the retry fires.
	addLive(pool, reg, testEntry("bob", "jazz"))
	waitFor(t, 2*time.Second, "retry proposal", func() bool {
		return tr.countEvent(EventMatchProposed) == 2
	})
	if pool.Len() != 0 {
		t.Errorf("expected pool drained by the retry, got %d", pool.Len())
	}
}

// ---------- RunCycle tests ----------

func TestRunCycle_PairsWholePool(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("a1", "jazz"))
	addLive(pool, reg, testEntry("a2", "jazz"))
	addLive(pool, reg, testEntry("b1", "chess"))
	addLive(pool, reg, testEntry("b2", "chess"))

	if got := p.RunCycle(); got != 2 {
		t.Errorf("expected 2 proposals, got %d", got)
	}
	if pool.Len() != 0 {
		t.Errorf("expected empty pool, got %d", pool.Len())
	}
}

func TestRunCycle_RespectsPerCycleCap(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxMatchesPerCycle = 1
	p, pool, reg, _ := newTestProposer(t, cfg)
	addLive(pool, reg, testEntry("a1", "jazz"))
	addLive(pool, reg, testEntry("a2", "jazz"))
	addLive(pool, reg, testEntry("b1", "chess"))
	addLive(pool, reg, testEntry("b2", "chess"))

	if got := p.RunCycle(); got != 1 {
		t.Errorf("expected the cap to hold at 1 proposal, got %d", got)
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 users left for the next cycle, got %d", pool.Len())
	}
	// The next cycle picks up the rest.
	if got := p.RunCycle(); got != 1 {
		t.Errorf("expected the second cycle to propose the rest, got %d", got)
	}
}

func TestRunCycle_SkipsRunWhileOneIsInFlight(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("a1", "jazz"))
	addLive(pool, reg, testEntry("a2", "jazz"))

	p.cycleRunning.Store(true)
	if got := p.RunCycle(); got != 0 {
		t.Errorf("expected guarded cycle to bail out, got %d proposals", got)
	}
	if pool.Len() != 2 {
		t.Error("expected pool untouched by the guarded cycle")
	}

	p.cycleRunning.Store(false)
	if got := p.RunCycle(); got != 1 {
		t.Errorf("expected cycle to run once the guard clears, got %d", got)
	}
}

func TestRunCycle_EmptyPool(t *testing.T) {
	p, _, _, _ := newTestProposer(t, quietConfig())
	if got := p.RunCycle(); got != 0 {
		t.Errorf("expected no proposals from an empty pool, got %d", got)
	}
}

func TestRunCycle_LeavesUnpairableUsers(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	addLive(pool, reg, testEntry("alice", "jazz"))
	addLive(pool, reg, testEntry("bob", "cooking"))
	addLive(pool, reg, testEntry("carol", "jazz"))

	if got := p.RunCycle(); got != 1 {
		t.Errorf("expected 1 proposal, got %d", got)
	}
	if !pool.Has("bob") {
		t.Error("expected bob to stay queued with nobody compatible")
	}
}

func TestRunCycle_ManyUsersAllPaired(t *testing.T) {
	p, pool, reg, _ := newTestProposer(t, quietConfig())
	for i := 0; i < 10; i++ {
		addLive(pool, reg, testEntry(fmt.Sprintf("user-%d", i), "jazz"))
	}

	if got := p.RunCycle(); got != 5 {
		t.Errorf("expected 5 proposals from 10 users, got %d", got)
	}
	if pool.Len() != 0 {
		t.Errorf("expected everyone paired, got %d left", pool.Len())
	}
}
