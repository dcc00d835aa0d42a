package engine

import (
	"sort"
	"strings"
)

// normalizeInterests lowercases, trims, and deduplicates an interest list.
// The result is sorted so comparisons and reported overlaps are stable.
func normalizeInterests(interests []string) []string {
	seen := make(map[string]struct{}, len(interests))
	out := make([]string, 0, len(interests))
	for _, tag := range interests {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	shared := make([]string, 0, len(b))
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			shared = append(shared, tag)
		}
	}
	sort.Strings(shared)
	return shared
}

// Result describes how compatible a candidate pairing is.
type Result struct {
	Score  float64  // 0-100, higher is better
	Shared []string // sorted lower-case shared interests
}

// Score rates the compatibility of two waiting users. The boolean is false
// when the pair is incompatible: either side has no usable interests, a
// required preference is unmet on either side, or the interest sets do not
// overlap. Matching is case-insensitive and Score(a, b) == Score(b, a).
//
// The score is the mean of the overlap ratios of both sides, scaled to 100,
// so a pair sharing everything scores 100 and a pair where each side shares
// half of its interests scores 50.
func Score(a, b *WaitingEntry) (Result, bool) {
	ai := normalizeInterests(a.Profile.Interests)
	bi := normalizeInterests(b.Profile.Interests)
	if len(ai) == 0 || len(bi) == 0 {
		return Result{}, false
	}
	if !a.Criteria.Accepts(b.Profile.Preference) || !b.Criteria.Accepts(a.Profile.Preference) {
		return Result{}, false
	}

	shared := intersect(ai, bi)
	if len(shared) == 0 {
		return Result{}, false
	}

	ratioA := float64(len(shared)) / float64(len(ai))
	ratioB := float64(len(shared)) / float64(len(bi))
	return Result{
		Score:  (ratioA + ratioB) / 2 * 100,
		Shared: shared,
	}, true
}

// Candidate is a waiting entry scored against an anchor.
type Candidate struct {
	Entry  WaitingEntry
	Result Result
}

// Rank scores every candidate against the anchor and orders the compatible
// ones best-first: score descending, then earliest join time, then user ID
// as a final deterministic tiebreak.
func Rank(anchor WaitingEntry, candidates []WaitingEntry) []Candidate {
	ranked := make([]Candidate, 0, len(candidates))
	for i := range candidates {
		res, ok := Score(&anchor, &candidates[i])
		if !ok {
			continue
		}
		ranked = append(ranked, Candidate{Entry: candidates[i], Result: res})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Result.Score != ranked[j].Result.Score {
			return ranked[i].Result.Score > ranked[j].Result.Score
		}
		if !ranked[i].Entry.JoinedAt.Equal(ranked[j].Entry.JoinedAt) {
			return ranked[i].Entry.JoinedAt.Before(ranked[j].Entry.JoinedAt)
		}
		return ranked[i].Entry.UserID < ranked[j].Entry.UserID
	})
	return ranked
}
