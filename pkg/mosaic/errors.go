package mosaic

import(
	"fmt"
	"strings"
)

// NoCandidatesError: a source has no scenes overlapping the tile's
// window. The source is skipped; never fatal.
type NoCandidatesError struct {
	Source string
}

func (e NoCandidatesError)Error() string {
	return fmt.Sprintf("source %s: no candidates in window", e.Source)
}

// MissingBandsError: a candidate lacks mandatory RGB-equivalent
// bands. The candidate is discarded; the tile carries on.
type MissingBandsError struct {
	CandidateID string
	Missing     []string
}

func (e MissingBandsError)Error() string {
	return fmt.Sprintf("candidate %s: missing required bands %s",
		e.CandidateID, strings.Join(e.Missing, ","))
}

// CoverageShortfallError: the gap-fill loop ran out of budget below
// the coverage target. The tile still completes; the shortfall is
// recorded in provenance, never hidden.
type CoverageShortfallError struct {
	TileID     string
	Coverage   float64
	Target     float64
	Iterations int
}

func (e CoverageShortfallError)Error() string {
	return fmt.Sprintf("tile %s: coverage %.3f%% below target %.3f%% after %d iterations",
		e.TileID, e.Coverage*100.0, e.Target*100.0, e.Iterations)
}

// ZeroSelectedError: every source exhausted with no acceptance and no
// fallback. The tile is marked failed; other tiles are unaffected.
type ZeroSelectedError struct {
	TileID string
}

func (e ZeroSelectedError)Error() string {
	return fmt.Sprintf("tile %s: no candidates selected from any source", e.TileID)
}
