package mosaic

import(
	"fmt"
	"time"

	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// Canonical band names, Sentinel-2 numbering. Landsat surface
// reflectance bands map onto these at the catalog (SR_B4 -> B4 and so
// on), so the engine only ever sees one naming scheme.
const(
	BandRed   = "B4"
	BandGreen = "B3"
	BandBlue  = "B2"
	BandNIR   = "B8"
	BandSWIR1 = "B11"
	BandSWIR2 = "B12"
)

var(
	// RGB-equivalents are mandatory; a candidate without all three is
	// discarded with MissingBandsError.
	RequiredBands = []string{BandRed, BandGreen, BandBlue}

	InfraredBands = []string{BandNIR, BandSWIR1, BandSWIR2}

	// Derived per-pixel index bands; their availability feeds the band
	// completeness score but they are never mandatory.
	IndexBands = []string{"NDVI", "NDWI", "MNDWI", "EVI", "SAVI"}

	// CanonicalBands is the standardized band set every tile mosaic
	// carries, in output order.
	CanonicalBands = []string{BandRed, BandGreen, BandBlue, BandNIR, BandSWIR1, BandSWIR2}
)

// An ImageCandidate is one satellite scene under consideration for a
// tile. The catalog fills in the metadata; the scorer caches the
// quality score on it; after that it is immutable.
type ImageCandidate struct {
	ID            string
	Source        string
	AcquiredAt    time.Time
	Resolution    float64 // nominal ground resolution, meters per pixel
	CloudFraction float64 // 0..1
	SolarZenith   float64 // degrees
	ViewZenith    float64 // degrees
	ValidFraction float64 // 0..1
	Bands         []string
	Footprint     tiling.Bounds // projected, in the tile's CRS
	EPSG          int

	score  float64
	scored bool
}

func (c *ImageCandidate)HasBand(name string) bool {
	for _, b := range c.Bands {
		if b == name { return true }
	}
	return false
}

func (c *ImageCandidate)MissingRequiredBands() []string {
	missing := []string{}
	for _, b := range RequiredBands {
		if !c.HasBand(b) {
			missing = append(missing, b)
		}
	}
	return missing
}

func (c *ImageCandidate)countOf(names []string) int {
	n := 0
	for _, b := range names {
		if c.HasBand(b) { n++ }
	}
	return n
}

// Score returns the cached quality score. Zero until a Scorer has
// seen the candidate.
func (c *ImageCandidate)Score() float64 { return c.score }
func (c *ImageCandidate)Scored() bool   { return c.scored }

func (c *ImageCandidate)String() string {
	return fmt.Sprintf("%s/%s[%.0fm, %4.1f%% cloud, q=%.3f]",
		c.Source, c.ID, c.Resolution, c.CloudFraction*100.0, c.score)
}

// SelectionReason says why a candidate ended up in a tile's composite
// list; it lands in the provenance output.
type SelectionReason string

const(
	ReasonExcellent       SelectionReason = "excellent"
	ReasonAccepted        SelectionReason = "accepted"
	ReasonGapFill         SelectionReason = "gap-fill"
	ReasonCloudFallback   SelectionReason = "cloud-fallback"
	ReasonQualityFallback SelectionReason = "quality-fallback"
)

// A Selection pairs a chosen candidate with its reason. List order is
// composite priority: earlier entries win pixels.
type Selection struct {
	Candidate *ImageCandidate
	Reason    SelectionReason
}
