package mosaic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanSource() SourceConfig {
	return SourceConfig{
		Name:            "SENTINEL_2",
		Resolution:      10,
		MaxPerTile:      20,
		CloudSchedule:   append([]float64{}, DefaultCloudSchedule...),
		QualitySchedule: append([]float64{}, DefaultQualitySchedule...),
	}
}

// prescored builds a candidate whose quality score is already fixed, so
// scan tests can exercise the machine without a Scorer in the loop.
func prescored(id string, cloud, score float64) *ImageCandidate {
	return &ImageCandidate{
		ID:            id,
		Source:        "SENTINEL_2",
		CloudFraction: cloud,
		Bands:         fullBands(),
		score:         score,
		scored:        true,
	}
}

func TestScanAcceptsAtInitialThresholds(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 50)

	assert.Equal(t, 0.20, ts.CloudThreshold())
	assert.Equal(t, 0.9, ts.QualityThreshold())

	ok := ts.Evaluate(prescored("a", 0.10, 0.95))
	assert.True(t, ok)
	assert.Equal(t, StateScanning, ts.State())
	assert.Len(t, ts.Accepted(), 1)
	assert.Len(t, ts.Excellent(), 1)
}

func TestScanRelaxesAfterConsecutiveRejections(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 50) // minTests = 3

	for i := 0; i < 3; i++ {
		ok := ts.Evaluate(prescored(fmt.Sprintf("r%d", i), 0.35, 0.95))
		assert.False(t, ok)
	}
	assert.Equal(t, StateRelaxing, ts.State())
	assert.Equal(t, 0.30, ts.CloudThreshold())
	assert.Equal(t, 0.7, ts.QualityThreshold())

	// two more rejections are not enough for the next step
	ts.Evaluate(prescored("r3", 0.35, 0.95))
	ts.Evaluate(prescored("r4", 0.35, 0.95))
	assert.Equal(t, 0.30, ts.CloudThreshold())

	// the third lands it
	ts.Evaluate(prescored("r5", 0.35, 0.95))
	assert.Equal(t, 0.40, ts.CloudThreshold())
	assert.Equal(t, 0.5, ts.QualityThreshold())

	// 0.35 cloud now clears the 0.40 rung
	assert.True(t, ts.Evaluate(prescored("r6", 0.35, 0.95)))
}

func TestScanFreezesAfterFirstAcceptance(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 50)

	require.True(t, ts.Evaluate(prescored("good", 0.05, 0.95)))

	// any number of rejections after an acceptance leaves the
	// thresholds where they are
	for i := 0; i < 10; i++ {
		ts.Evaluate(prescored(fmt.Sprintf("bad%d", i), 0.99, 0.1))
	}
	assert.Equal(t, 0.20, ts.CloudThreshold())
	assert.Equal(t, 0.9, ts.QualityThreshold())
	assert.Equal(t, StateScanning, ts.State())
}

func TestScanAcceptedNeverShrinks(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 2) // minTests = 1, relaxes fast

	seq := []*ImageCandidate{
		prescored("a", 0.25, 0.95), // rejected at 0.20, relaxes
		prescored("b", 0.28, 0.80), // accepted at 0.30/0.7
		prescored("c", 0.29, 0.75),
		prescored("d", 0.95, 0.10), // rejected, must not evict anything
	}
	prev := 0
	for _, c := range seq {
		ts.Evaluate(c)
		assert.GreaterOrEqual(t, len(ts.Accepted()), prev)
		prev = len(ts.Accepted())
	}
	assert.Equal(t, 2, prev)
}

func TestScanMinTestsAdaptsToPoolSize(t *testing.T) {
	tests := []struct {
		preScanTotal int
		want         int
	}{
		{1, 1}, {3, 1}, {4, 2}, {10, 2}, {11, 3}, {100, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinTestsBeforeLowering(tt.preScanTotal), "pool %d", tt.preScanTotal)
	}
}

func TestScanLaddersStopAtLastRung(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 2) // minTests = 1

	for i := 0; i < 12; i++ {
		ts.Evaluate(prescored(fmt.Sprintf("x%d", i), 0.99, 0.95))
	}
	assert.Equal(t, 0.80, ts.CloudThreshold())
	assert.Equal(t, 0.0, ts.QualityThreshold())
}

func TestScanCloudFallback(t *testing.T) {
	// Three overcast scenes and a small pool: the ladder never reaches
	// a rung that admits them, and the least-cloudy one comes back as
	// the fallback.
	ts := NewThresholdScan(scanSource(), 3) // minTests = 1

	ts.Evaluate(prescored("a", 0.60, 0.95))
	ts.Evaluate(prescored("b", 0.75, 0.95))
	ts.Evaluate(prescored("c", 0.98, 0.95))
	ts.Close()

	assert.Empty(t, ts.Accepted())
	assert.Equal(t, StateFallback, ts.State())
	fb, reason := ts.Fallback()
	require.NotNil(t, fb)
	assert.Equal(t, "a", fb.ID)
	assert.Equal(t, ReasonCloudFallback, reason)
}

func TestScanQualityFallback(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 3)

	// clear skies, junk scores
	ts.Evaluate(prescored("a", 0.01, 0.20))
	ts.Evaluate(prescored("b", 0.02, 0.40))
	ts.Evaluate(prescored("c", 0.03, 0.10))
	ts.Close()

	assert.Empty(t, ts.Accepted())
	fb, reason := ts.Fallback()
	require.NotNil(t, fb)
	assert.Equal(t, "b", fb.ID, "highest-scored quality reject wins")
	assert.Equal(t, ReasonQualityFallback, reason)
}

func TestScanCloudFallbackPreferredOverQuality(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 50) // minTests 3, no relaxation reached

	ts.Evaluate(prescored("clearJunk", 0.01, 0.20)) // quality reject
	ts.Evaluate(prescored("cloudy", 0.55, 0.95))    // cloud reject
	ts.Close()

	fb, reason := ts.Fallback()
	require.NotNil(t, fb)
	assert.Equal(t, "cloudy", fb.ID)
	assert.Equal(t, ReasonCloudFallback, reason)
}

func TestScanFallbackGuarantee(t *testing.T) {
	// Any source with at least one scored candidate yields either an
	// acceptance or a fallback, never nothing.
	for i, c := range []*ImageCandidate{
		prescored("clean", 0.01, 0.99),
		prescored("overcast", 0.97, 0.99),
		prescored("junk", 0.01, 0.01),
		prescored("worst", 0.97, 0.01),
	} {
		t.Run(fmt.Sprintf("Candidate %d", i), func(t *testing.T) {
			ts := NewThresholdScan(scanSource(), 1)
			ts.Evaluate(c)
			ts.Close()

			fb, _ := ts.Fallback()
			assert.True(t, len(ts.Accepted()) > 0 || fb != nil)
		})
	}
}

func TestScanExcellentCapStopsEarly(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 50)

	for i := 0; i < 3; i++ {
		require.True(t, ts.Evaluate(prescored(fmt.Sprintf("e%d", i), 0.01, 0.95)))
	}
	assert.True(t, ts.Done())

	// a fourth excellent candidate is not even considered
	assert.False(t, ts.Evaluate(prescored("e3", 0.01, 0.99)))
	assert.Len(t, ts.Accepted(), 3)
	assert.Len(t, ts.Excellent(), 3)
}

func TestScanHonorsPerTileCap(t *testing.T) {
	src := scanSource()
	src.MaxPerTile = 2
	ts := NewThresholdScan(src, 50)

	require.True(t, ts.Evaluate(prescored("a", 0.01, 0.95)))
	require.True(t, ts.Evaluate(prescored("b", 0.02, 0.95)))
	assert.True(t, ts.Done())
	assert.False(t, ts.Evaluate(prescored("c", 0.03, 0.95)))
	assert.Len(t, ts.Accepted(), 2)
}

func TestScanCloseIsIdempotent(t *testing.T) {
	ts := NewThresholdScan(scanSource(), 3)
	ts.Evaluate(prescored("a", 0.60, 0.95))
	ts.Close()
	fb1, _ := ts.Fallback()
	ts.Close()
	fb2, _ := ts.Fallback()
	assert.Same(t, fb1, fb2)
}
