package mosaic

import(
	"sort"
)

// PrimarySelectionSize is how many candidates the initial composite
// list carries. Gap-filling appends past this later.
const PrimarySelectionSize = 5

// rankCandidates orders a pool for selection: score descending, ties
// broken by finer resolution, then source priority, then ID, so the
// same pool always comes out the same way.
func rankCandidates(pool []*ImageCandidate, priorityOf map[string]int) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		if a.Resolution != b.Resolution {
			return a.Resolution < b.Resolution
		}
		if priorityOf[a.Source] != priorityOf[b.Source] {
			return priorityOf[a.Source] < priorityOf[b.Source]
		}
		return a.ID < b.ID
	})
}

// SelectCandidates runs phase B of selection over the closed
// per-source scans: pool the excellent candidates, rank them, take
// the top PrimarySelectionSize; top up from accepted-but-non-excellent,
// then from fallbacks, until the list is full or nothing is left.
// The returned order is composite priority.
func SelectCandidates(scans []*ThresholdScan) []Selection {
	priorityOf := map[string]int{}
	for _, ts := range scans {
		priorityOf[ts.Source.Name] = ts.Source.Priority
	}

	taken := map[string]bool{}
	selected := []Selection{}

	take := func(pool []*ImageCandidate, reasonFor func(*ImageCandidate) SelectionReason) {
		rankCandidates(pool, priorityOf)
		for _, c := range pool {
			if len(selected) >= PrimarySelectionSize {
				return
			}
			if taken[c.ID] {
				continue
			}
			taken[c.ID] = true
			selected = append(selected, Selection{Candidate: c, Reason: reasonFor(c)})
		}
	}

	excellent := []*ImageCandidate{}
	for _, ts := range scans {
		excellent = append(excellent, ts.Excellent()...)
	}
	take(excellent, func(*ImageCandidate) SelectionReason { return ReasonExcellent })

	if len(selected) < PrimarySelectionSize {
		accepted := []*ImageCandidate{}
		for _, ts := range scans {
			for _, c := range ts.Accepted() {
				if c.Score() < excellentScore {
					accepted = append(accepted, c)
				}
			}
		}
		take(accepted, func(*ImageCandidate) SelectionReason { return ReasonAccepted })
	}

	if len(selected) < PrimarySelectionSize {
		fallbacks := []*ImageCandidate{}
		reasons := map[string]SelectionReason{}
		for _, ts := range scans {
			if fb, reason := ts.Fallback(); fb != nil {
				fallbacks = append(fallbacks, fb)
				reasons[fb.ID] = reason
			}
		}
		take(fallbacks, func(c *ImageCandidate) SelectionReason { return reasons[c.ID] })
	}

	return selected
}
