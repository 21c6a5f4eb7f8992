package mosaic

import(
	"context"

	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// Catalog is what the engine needs from an imagery catalog. Metadata
// comes back cheap and early; pixels only move for candidates that
// actually get selected.
type Catalog interface {
	// QueryCandidates returns scene metadata for one source over a
	// region and window, sorted ascending by cloud fraction.
	QueryCandidates(ctx context.Context, sourceID string, region tiling.Bounds, epsg int, window tiling.DateRange) ([]*ImageCandidate, error)

	// FetchBands loads the named bands of a candidate, clipped to the
	// region, masked pixels already no-data.
	FetchBands(ctx context.Context, c *ImageCandidate, bands []string, clipTo tiling.Bounds) (*Raster, error)
}
