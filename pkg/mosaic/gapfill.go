package mosaic

import(
	"context"
	"log"
)

// Gap-fill tuning. The candidate filter threshold decays from start
// to floor over the iterations, then freezes; one last attempt at the
// forced threshold runs before the loop gives up on a gap.
const(
	DefaultTargetCoverage    = 0.999
	DefaultMaxGapIterations  = 20

	gapThresholdStart = 0.50
	gapThresholdStep  = 0.05
	gapThresholdFloor = 0.20
	gapForcedRetry    = 0.10

	noProgressEpsilon = 0.001 // 0.1% coverage
	noProgressLimit   = 3

	// Last-resort sources only become eligible this deep into the
	// loop, so coarse sensors don't smear into mosaics that finer
	// sources could still complete. The forced retry waives the gate;
	// it is the final attempt before giving up on the gap.
	lastResortFromIteration = 15
)

func gapThreshold(iter int) float64 {
	t := gapThresholdStart - gapThresholdStep*float64(iter)
	if t < gapThresholdFloor {
		return gapThresholdFloor
	}
	return t
}

// A GapFiller drives a tile's coverage toward the target by pulling
// more scenes out of the remaining candidate pool, finest-usable
// first.
type GapFiller struct {
	Catalog       Catalog
	Sources       map[string]SourceConfig
	Resample      ResampleFunc
	Target        float64
	MaxIterations int
	Verbosity     int
}

// Fill loops until the mosaic covers the target, the iteration budget
// runs out, or progress stalls. Cancellation is honored between
// iterations only, never mid-composite. A shortfall is recorded on
// the state, not returned as an error.
func (gf GapFiller)Fill(ctx context.Context, state *TileMosaicState, raster *Raster, pool []*ImageCandidate) error {
	coverage := raster.Coverage()
	state.Coverage = coverage
	state.LastCoverage = coverage

	forcedRetryDone := false

	for iter:=0; iter<gf.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if coverage >= gf.Target {
			break
		}
		if len(pool) == 0 {
			break
		}
		state.Iterations = iter + 1

		threshold := gapThreshold(iter)
		winner := gf.findWinner(state, pool, threshold, iter, false)
		if winner == nil && threshold <= gapThresholdFloor && !forcedRetryDone {
			forcedRetryDone = true
			winner = gf.findWinner(state, pool, gapForcedRetry, iter, true)
		}
		if winner == nil {
			if threshold <= gapThresholdFloor && forcedRetryDone {
				break
			}
			continue
		}

		pool = removeCandidate(pool, winner)
		scene, err := gf.Catalog.FetchBands(ctx, winner, CanonicalBands, raster.Bounds)
		if err != nil {
			log.Printf("tile %s: gap-fill fetch %s failed, dropping: %v", state.Tile.ID, winner.ID, err)
			continue
		}
		contrib, err := Reproject(raster, scene, gf.Resample)
		if err != nil {
			log.Printf("tile %s: gap-fill reproject %s failed, dropping: %v", state.Tile.ID, winner.ID, err)
			continue
		}
		CompositeInto(raster, contrib)
		state.Selected = append(state.Selected, Selection{Candidate: winner, Reason: ReasonGapFill})
		state.countFetch(winner.Source)

		coverage = raster.Coverage()
		if gf.Verbosity > 0 {
			log.Printf("tile %s: gap-fill iter %d added %s, coverage %.3f%% -> %.3f%%",
				state.Tile.ID, iter, winner, state.LastCoverage*100.0, coverage*100.0)
		}

		if coverage-state.LastCoverage < noProgressEpsilon {
			state.NoProgress++
		} else {
			state.NoProgress = 0
		}
		state.LastCoverage = coverage
		state.Coverage = coverage
		if state.NoProgress >= noProgressLimit {
			break
		}
	}

	if coverage < gf.Target {
		state.Shortfall = &CoverageShortfallError{
			TileID:     state.Tile.ID,
			Coverage:   coverage,
			Target:     gf.Target,
			Iterations: state.Iterations,
		}
		log.Printf("tile %s: %v", state.Tile.ID, state.Shortfall)
	}
	return nil
}

// findWinner filters the pool by the iteration's quality threshold
// and runs the survivors through a pairwise tournament under the
// resolution-first rule. Deterministic: the fold starts from the
// ranked pool, so the same pool always crowns the same winner.
// desperate lifts the last-resort iteration gate.
func (gf GapFiller)findWinner(state *TileMosaicState, pool []*ImageCandidate, threshold float64, iter int, desperate bool) *ImageCandidate {
	priorityOf := map[string]int{}
	for name, sc := range gf.Sources {
		priorityOf[name] = sc.Priority
	}

	eligible := []*ImageCandidate{}
	for _, c := range pool {
		if c.Score() < threshold {
			continue
		}
		src, known := gf.Sources[c.Source]
		if known && src.LastResort && iter < lastResortFromIteration && !desperate {
			continue
		}
		if known && state.fetchCount(c.Source) >= src.MaxPerTile {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	rankCandidates(eligible, priorityOf)
	winner := eligible[0]
	for _, c := range eligible[1:] {
		if beatsForGap(c, winner) {
			winner = c
		}
	}
	return winner
}

// beatsForGap is the resolution-first comparison: a finer challenger
// may win with a somewhat lower score, a similar-resolution one needs
// a strictly higher score, and a coarser one must beat the incumbent
// by half again as much.
func beatsForGap(challenger, incumbent *ImageCandidate) bool {
	resDelta := incumbent.Resolution - challenger.Resolution // >0: challenger is finer

	switch {
	case resDelta > 50:
		return challenger.Score() >= 0.90*incumbent.Score()
	case resDelta >= 20:
		return challenger.Score() >= 0.95*incumbent.Score()
	case resDelta > -20:
		return challenger.Score() > incumbent.Score()
	default:
		return challenger.Score() >= 1.15*incumbent.Score()
	}
}

func removeCandidate(pool []*ImageCandidate, c *ImageCandidate) []*ImageCandidate {
	out := pool[:0]
	for _, p := range pool {
		if p != c {
			out = append(out, p)
		}
	}
	return out
}
