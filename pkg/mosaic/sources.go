package mosaic

import(
	"strings"
	"time"

	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// A SourceConfig describes one satellite source: when it flew, what
// it resolves, how many scenes a tile may pull from it, and how its
// acceptance thresholds start out and relax. Loaded once per run;
// read-only after FinalizeConfiguration.
type SourceConfig struct {
	Name        string  `yaml:"name"`
	Resolution  float64 `yaml:"resolution_m"`
	MaxPerTile  int     `yaml:"max_per_tile"`
	Priority    int     `yaml:"priority"` // lower = consulted first

	// Flight dates and penalty cutovers are mission constants; they
	// come from the built-in table, not from YAML.
	OperationalFrom time.Time `yaml:"-"`
	OperationalTo   time.Time `yaml:"-"` // zero = still flying

	// ScorePenalty multiplies the quality score; 1.0 means none. When
	// PenaltyAfter is set the penalty only hits scenes acquired after
	// that date (Landsat 7's SLC failure).
	ScorePenalty float64   `yaml:"score_penalty"`
	PenaltyAfter time.Time `yaml:"-"`

	// LastResort sources are only consulted when everything else came
	// up empty, and only in the tail of the gap-fill loop.
	LastResort bool `yaml:"last_resort"`

	// Threshold ladders for the scan state machine. Index 0 is the
	// initial threshold; relaxation walks right.
	CloudSchedule   []float64 `yaml:"cloud_schedule"`
	QualitySchedule []float64 `yaml:"quality_schedule"`
}

func (sc SourceConfig)Operational() tiling.DateRange {
	return tiling.DateRange{Start: sc.OperationalFrom, End: sc.OperationalTo}
}

// PenaltyAt returns the score multiplier for a scene acquired at t.
func (sc SourceConfig)PenaltyAt(t time.Time) float64 {
	if sc.ScorePenalty <= 0 || sc.ScorePenalty >= 1 {
		return 1.0
	}
	if !sc.PenaltyAfter.IsZero() && t.Before(sc.PenaltyAfter) {
		return 1.0
	}
	return sc.ScorePenalty
}

var(
	// The standard relaxation ladders. Cloud thresholds are fractions.
	DefaultCloudSchedule   = []float64{0.20, 0.30, 0.40, 0.50, 0.60, 0.80}
	DefaultQualitySchedule = []float64{0.9, 0.7, 0.5, 0.3, 0.0}
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// DefaultSources is the built-in source table, in priority order.
// YAML config entries override by name.
func DefaultSources() []SourceConfig {
	srcs := []SourceConfig{
		{Name: "SENTINEL_2", Resolution: 10, OperationalFrom: d(2015, 6, 23)},
		{Name: "LANDSAT_9", Resolution: 30, OperationalFrom: d(2021, 9, 27)},
		{Name: "LANDSAT_8", Resolution: 30, OperationalFrom: d(2013, 2, 11)},
		{Name: "LANDSAT_7", Resolution: 30, OperationalFrom: d(1999, 4, 15),
			ScorePenalty: 0.5, PenaltyAfter: d(2003, 5, 31)},
		{Name: "LANDSAT_5", Resolution: 30, OperationalFrom: d(1984, 3, 1), OperationalTo: d(2013, 5, 30)},
		{Name: "ASTER", Resolution: 15, OperationalFrom: d(2000, 3, 1), OperationalTo: d(2008, 4, 1)},
		{Name: "MODIS_TERRA", Resolution: 250, OperationalFrom: d(2000, 2, 24),
			ScorePenalty: 0.5, LastResort: true, MaxPerTile: 5},
		{Name: "MODIS_AQUA", Resolution: 250, OperationalFrom: d(2002, 7, 4),
			ScorePenalty: 0.5, LastResort: true, MaxPerTile: 5},
		{Name: "VIIRS", Resolution: 375, OperationalFrom: d(2011, 10, 28),
			ScorePenalty: 0.5, LastResort: true, MaxPerTile: 5},
	}

	for i := range srcs {
		srcs[i].Priority = i
		if srcs[i].MaxPerTile == 0 {
			srcs[i].MaxPerTile = 20
		}
		if srcs[i].ScorePenalty == 0 {
			srcs[i].ScorePenalty = 1.0
		}
		srcs[i].CloudSchedule = append([]float64{}, DefaultCloudSchedule...)
		srcs[i].QualitySchedule = append([]float64{}, DefaultQualitySchedule...)
	}
	return srcs
}

// Harmonization returns the gain/offset mapping a source's
// reflectance onto the run's Sentinel-2 reference scaling. Applied at
// band fetch, before any compositing.
func Harmonization(sourceName string) (float64, float64) {
	if strings.HasPrefix(sourceName, "LANDSAT_") {
		return 1.02, -0.01
	}
	return 1.0, 0.0
}
