package mosaic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceByName(t *testing.T, name string) SourceConfig {
	t.Helper()
	for _, sc := range DefaultSources() {
		if sc.Name == name {
			return sc
		}
	}
	t.Fatalf("no source named %s", name)
	return SourceConfig{}
}

func TestSourceOperational(t *testing.T) {
	l5 := sourceByName(t, "LANDSAT_5")
	assert.True(t, l5.Operational().Contains(d(1990, time.June, 1)))
	assert.False(t, l5.Operational().Contains(d(2020, time.June, 1)))

	s2 := sourceByName(t, "SENTINEL_2")
	assert.True(t, s2.Operational().Contains(d(2023, time.June, 1)), "open-ended range")
	assert.False(t, s2.Operational().Contains(d(2010, time.June, 1)))
}

func TestPenaltyAt(t *testing.T) {
	l7 := sourceByName(t, "LANDSAT_7")
	assert.Equal(t, 1.0, l7.PenaltyAt(d(2002, time.January, 1)), "before the SLC failure")
	assert.Equal(t, 0.5, l7.PenaltyAt(d(2004, time.January, 1)))

	modis := sourceByName(t, "MODIS_TERRA")
	assert.Equal(t, 0.5, modis.PenaltyAt(d(2001, time.January, 1)))
	assert.Equal(t, 0.5, modis.PenaltyAt(d(2020, time.January, 1)))

	s2 := sourceByName(t, "SENTINEL_2")
	assert.Equal(t, 1.0, s2.PenaltyAt(d(2020, time.January, 1)))

	junk := SourceConfig{ScorePenalty: 1.5}
	assert.Equal(t, 1.0, junk.PenaltyAt(d(2020, time.January, 1)), "out-of-range penalty ignored")
}

func TestDefaultSourcesTable(t *testing.T) {
	srcs := DefaultSources()
	require.Len(t, srcs, 9)

	for i, sc := range srcs {
		assert.Equal(t, i, sc.Priority, "%s", sc.Name)
		assert.Greater(t, sc.MaxPerTile, 0, "%s", sc.Name)
		assert.Greater(t, sc.Resolution, 0.0, "%s", sc.Name)
		assert.NotEmpty(t, sc.CloudSchedule, "%s", sc.Name)
		assert.NotEmpty(t, sc.QualitySchedule, "%s", sc.Name)
		assert.False(t, sc.OperationalFrom.IsZero(), "%s", sc.Name)
	}

	// the coarse reserves are capped tighter than the primaries
	assert.Equal(t, 5, sourceByName(t, "MODIS_TERRA").MaxPerTile)
	assert.True(t, sourceByName(t, "VIIRS").LastResort)
	assert.False(t, sourceByName(t, "SENTINEL_2").LastResort)
}

func TestDefaultSourcesScheduleIsolation(t *testing.T) {
	// each source carries its own schedule copy; relaxing one source's
	// indices must never be visible through another's slice
	a := DefaultSources()
	a[0].CloudSchedule[0] = 0.99
	b := DefaultSources()
	assert.Equal(t, 0.20, b[0].CloudSchedule[0])
	assert.Equal(t, 0.20, a[1].CloudSchedule[0])
}

func TestHarmonization(t *testing.T) {
	gain, offset := Harmonization("LANDSAT_8")
	assert.Equal(t, 1.02, gain)
	assert.Equal(t, -0.01, offset)

	gain, offset = Harmonization("SENTINEL_2")
	assert.Equal(t, 1.0, gain)
	assert.Equal(t, 0.0, offset)
}
