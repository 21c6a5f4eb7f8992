package mosaic

// The per-(tile,source) scan state machine. Candidates arrive in
// ascending-cloud order; the scan accepts what clears the current
// thresholds, relaxes the thresholds after enough consecutive
// rejections, and keeps the least-bad rejects around as fallbacks so
// a source with any scene at all never comes back empty.

type ScanState int

const(
	StateScanning ScanState = iota
	StateRelaxing
	StateFallback
	StateClosed
)

func (s ScanState)String() string {
	switch s {
	case StateScanning: return "scanning"
	case StateRelaxing: return "relaxing"
	case StateFallback: return "fallback"
	case StateClosed:   return "closed"
	}
	return "unknown"
}

const(
	excellentScore = 0.9
	excellentCap   = 3
)

// MinTestsBeforeLowering adapts to how much data the tile has at all:
// with a handful of candidates across every source, waiting three
// rejections per relaxation step would burn the whole pool before the
// thresholds ever moved.
func MinTestsBeforeLowering(preScanTotal int) int {
	switch {
	case preScanTotal <= 3:  return 1
	case preScanTotal <= 10: return 2
	default:                 return 3
	}
}

type ThresholdScan struct {
	Source SourceConfig

	state      ScanState
	cloudIdx   int
	qualityIdx int
	minTests   int
	rejectRun  int // consecutive rejections since the last acceptance or relaxation

	accepted  []*ImageCandidate
	excellent []*ImageCandidate

	bestCloudReject   *ImageCandidate // lowest cloud among cloud-rejected
	bestQualityReject *ImageCandidate // highest score among quality-rejected

	fallback       *ImageCandidate
	fallbackReason SelectionReason
}

func NewThresholdScan(src SourceConfig, preScanTotal int) *ThresholdScan {
	return &ThresholdScan{
		Source:   src,
		state:    StateScanning,
		minTests: MinTestsBeforeLowering(preScanTotal),
	}
}

func (ts *ThresholdScan)State() ScanState { return ts.state }

func (ts *ThresholdScan)CloudThreshold() float64 {
	return ts.Source.CloudSchedule[ts.cloudIdx]
}

func (ts *ThresholdScan)QualityThreshold() float64 {
	return ts.Source.QualitySchedule[ts.qualityIdx]
}

// Done reports whether scanning can stop early: the excellent list is
// full, or the source's per-tile cap is reached.
func (ts *ThresholdScan)Done() bool {
	if ts.state == StateFallback || ts.state == StateClosed {
		return true
	}
	return len(ts.excellent) >= excellentCap || len(ts.accepted) >= ts.Source.MaxPerTile
}

// Evaluate runs one candidate through the machine and reports whether
// it was accepted. Call in ascending-cloud order; the relaxation and
// fallback logic depend on it.
func (ts *ThresholdScan)Evaluate(c *ImageCandidate) bool {
	if ts.state == StateFallback || ts.state == StateClosed || ts.Done() {
		return false
	}

	if c.CloudFraction <= ts.CloudThreshold() && c.Score() >= ts.QualityThreshold() {
		ts.accepted = append(ts.accepted, c)
		if c.Score() >= excellentScore && len(ts.excellent) < excellentCap {
			ts.excellent = append(ts.excellent, c)
		}
		ts.rejectRun = 0
		return true
	}

	// Rejected: remember the least-bad reject on whichever axis
	// killed it.
	if c.CloudFraction > ts.CloudThreshold() {
		if ts.bestCloudReject == nil || c.CloudFraction < ts.bestCloudReject.CloudFraction {
			ts.bestCloudReject = c
		}
	} else {
		if ts.bestQualityReject == nil || c.Score() > ts.bestQualityReject.Score() {
			ts.bestQualityReject = c
		}
	}

	ts.rejectRun++
	if ts.rejectRun >= ts.minTests && len(ts.accepted) == 0 {
		ts.relax()
	}
	return false
}

// relax advances both ladders one step. Once either ladder is at its
// last rung it stays there.
func (ts *ThresholdScan)relax() {
	moved := false
	if ts.cloudIdx < len(ts.Source.CloudSchedule)-1 {
		ts.cloudIdx++
		moved = true
	}
	if ts.qualityIdx < len(ts.Source.QualitySchedule)-1 {
		ts.qualityIdx++
		moved = true
	}
	if moved {
		ts.state = StateRelaxing
		ts.rejectRun = 0
	}
}

// Close finalizes the scan. With zero acceptances it drops into
// fallback: a cloudy scene beats a data hole, and a low-quality scene
// beats no data at all.
func (ts *ThresholdScan)Close() {
	if ts.state == StateFallback || ts.state == StateClosed {
		return
	}
	if len(ts.accepted) == 0 {
		if ts.bestCloudReject != nil {
			ts.fallback = ts.bestCloudReject
			ts.fallbackReason = ReasonCloudFallback
			ts.state = StateFallback
			return
		}
		if ts.bestQualityReject != nil {
			ts.fallback = ts.bestQualityReject
			ts.fallbackReason = ReasonQualityFallback
			ts.state = StateFallback
			return
		}
	}
	ts.state = StateClosed
}

// Accepted returns the accepted list, in scan (ascending cloud) order.
func (ts *ThresholdScan)Accepted() []*ImageCandidate { return ts.accepted }

// Excellent returns the capped score>=0.9 sub-list.
func (ts *ThresholdScan)Excellent() []*ImageCandidate { return ts.excellent }

// Fallback returns the fallback candidate chosen at Close, if the
// scan accepted nothing, along with its reason.
func (ts *ThresholdScan)Fallback() (*ImageCandidate, SelectionReason) {
	return ts.fallback, ts.fallbackReason
}
