package mosaic

import(
	"math"
	"time"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// Quality score component weights. Resolution dominates on purpose:
// the ranking prefers detail over cloud-free conditions whenever the
// resolution tier differs.
const(
	weightCloud      = 0.25
	weightSolar      = 0.15
	weightView       = 0.10
	weightValid      = 0.15
	weightRecency    = 0.05
	weightResolution = 0.30
	weightBands      = 0.10

	// The weighted sum is normalized by the total so the score stays
	// in [0,1] whatever the weights add up to.
	totalWeight = weightCloud + weightSolar + weightView + weightValid +
		weightRecency + weightResolution + weightBands
)

// A Scorer turns candidate metadata into the deterministic [0,1]
// quality score. Same metadata in, bit-identical score out, every
// time; selection order and provenance both depend on that.
type Scorer struct {
	Window  tiling.DateRange
	Sources map[string]SourceConfig
}

func NewScorer(window tiling.DateRange, sources []SourceConfig) Scorer {
	byName := make(map[string]SourceConfig, len(sources))
	for _, sc := range sources {
		byName[sc.Name] = sc
	}
	return Scorer{Window: window, Sources: byName}
}

// Score computes and caches the candidate's quality score. Absent
// RGB-equivalent bands are the only hard failure; everything else
// degrades to a low component score.
func (s Scorer)Score(c *ImageCandidate) (float64, error) {
	if c.scored {
		return c.score, nil
	}
	if missing := c.MissingRequiredBands(); len(missing) > 0 {
		return 0, MissingBandsError{CandidateID: c.ID, Missing: missing}
	}

	sum := weightCloud*cloudScore(c.CloudFraction) +
		weightSolar*solarZenithScore(c.SolarZenith) +
		weightView*viewZenithScore(c.ViewZenith) +
		weightValid*validFractionScore(c.ValidFraction) +
		weightRecency*recencyScore(c.AcquiredAt, s.Window) +
		weightResolution*resolutionScore(c.Resolution) +
		weightBands*bandCompletenessScore(c)

	score := sum / totalWeight
	if src, ok := s.Sources[c.Source]; ok {
		score *= src.PenaltyAt(c.AcquiredAt)
	}
	if score < 0 { score = 0 }
	if score > 1 { score = 1 }

	c.score = score
	c.scored = true
	return score, nil
}

func cloudScore(cf float64) float64 {
	return math.Max(0, 1.0-cf*1.5)
}

func solarZenithScore(deg float64) float64 {
	switch {
	case deg < 30:
		return 1.0
	case deg > 60:
		return 0.1
	default:
		// linear decay from 1.0 at 30 degrees to the 0.1 floor at 60
		return 1.0 - (deg-30.0)/30.0*0.9
	}
}

func viewZenithScore(deg float64) float64 {
	switch {
	case deg < 10:
		return 1.0
	case deg > 50:
		return 0.1
	default:
		return 1.0 - (deg-10.0)/40.0*0.9
	}
}

func validFractionScore(v float64) float64 {
	if v < 0.30 {
		return 0.05
	}
	return v
}

func recencyScore(acquired time.Time, window tiling.DateRange) float64 {
	maxDays := window.Days()
	if maxDays <= 0 {
		return 1.0
	}
	days := acquired.Sub(window.Start).Hours() / 24.0
	if days < 0 { days = 0 }
	if days > maxDays { days = maxDays }
	return egrid.Lerp(1.0, 0.5, days/maxDays)
}

func resolutionScore(res float64) float64 {
	switch {
	case res <= 4:   return 1.0
	case res <= 15:  return 0.95
	case res <= 30:  return 0.85
	case res <= 60:  return 0.60
	case res <= 250: return 0.40
	case res <= 400: return 0.25
	default:         return 0.15
	}
}

func bandCompletenessScore(c *ImageCandidate) float64 {
	rgb := 0.0
	if len(c.MissingRequiredBands()) == 0 {
		rgb = 1.0
	}
	irFrac := float64(c.countOf(InfraredBands)) / float64(len(InfraredBands))
	idxFrac := float64(c.countOf(IndexBands)) / float64(len(IndexBands))
	return 0.2*rgb + 0.6*irFrac + 0.2*idxFrac
}
