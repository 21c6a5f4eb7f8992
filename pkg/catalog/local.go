// Package catalog implements the engine's Catalog interface over a
// local scene archive on disk.
//
// The archive is laid out one directory per scene:
//
//	<root>/<SOURCE>/<sceneID>/metadata.json
//	<root>/<SOURCE>/<sceneID>/B4.tif, B3.tif, ...
//	<root>/<SOURCE>/<sceneID>/preview.jpg        (optional)
//
// metadata.json carries the scene's acquisition metadata and band
// inventory; the band files are either the engine's own float32
// GeoTIFFs (reflectance, NaN no-data) or plain grayscale TIFFs of
// digital numbers, converted on read via dn_scale/dn_offset. All band
// files of one scene share a single pixel grid; archives whose bands
// come at mixed native resolutions are expected to have been
// regridded at ingest.
package catalog

import(
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/time/rate"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// Local serves candidates and pixels from a scene archive rooted at
// one directory. Queries and fetches go through a shared rate
// limiter; decoded band grids land in an LRU so neighboring tiles
// reuse a scene's pixels instead of re-reading them.
type Local struct {
	Root      string
	Harmonize bool
	Verbosity int

	limiter *rate.Limiter
	bands   *lru.Cache[string, *egrid.Grid]
}

func NewLocal(cfg mosaic.Config) (*Local, error) {
	if cfg.CatalogRoot == "" {
		return nil, fmt.Errorf("catalog: no catalog_root configured")
	}

	qps := rate.Inf
	if cfg.QueryRatePerSec > 0 {
		qps = rate.Limit(cfg.QueryRatePerSec)
	}
	burst := int(cfg.QueryRatePerSec)
	if burst < 1 { burst = 1 }

	cacheSize := cfg.BandCacheSize
	if cacheSize < 1 { cacheSize = 16 }

	cache, err := lru.New[string, *egrid.Grid](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: band cache: %v", err)
	}

	return &Local{
		Root:      cfg.CatalogRoot,
		Harmonize: cfg.Harmonize,
		Verbosity: cfg.Verbosity,
		limiter:   rate.NewLimiter(qps, burst),
		bands:     cache,
	}, nil
}

// sceneMeta is the on-disk metadata.json schema. The scene ID is the
// directory name, not a JSON field, so pixels can always be found
// from a candidate.
type sceneMeta struct {
	AcquiredAt    string     `json:"acquired_at"`
	ResolutionM   float64    `json:"resolution_m"`
	CloudFraction float64    `json:"cloud_fraction"`
	SolarZenith   float64    `json:"solar_zenith_deg"`
	ViewZenith    float64    `json:"view_zenith_deg"`
	ValidFraction float64    `json:"valid_fraction"`
	Bands         []string   `json:"bands"`
	EPSG          int        `json:"epsg"`
	Footprint     metaBounds `json:"footprint"`

	// DN-coded band files only; the engine's own float32 GeoTIFFs are
	// already reflectance and ignore these.
	DNScale  float64 `json:"dn_scale"`
	DNOffset float64 `json:"dn_offset"`
	NoDataDN int     `json:"nodata_dn"`

	// Optional mask raster (same grid); nonzero samples are cloud,
	// shadow or otherwise unusable, and fetch as no-data.
	MaskBand string `json:"mask_band"`
}

type metaBounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func (mb metaBounds)bounds() tiling.Bounds {
	return tiling.Bounds{MinX: mb.MinX, MinY: mb.MinY, MaxX: mb.MaxX, MaxY: mb.MaxY}
}

// QueryCandidates walks <root>/<sourceID>, parses each scene's
// metadata, and returns the candidates that fall inside the region,
// window and projection, sorted ascending by cloud fraction. A scene
// directory that fails to parse is logged and skipped; one bad scene
// should not hide a whole source.
func (lc *Local)QueryCandidates(ctx context.Context, sourceID string, region tiling.Bounds, epsg int, window tiling.DateRange) ([]*mosaic.ImageCandidate, error) {
	if err := lc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	srcDir := filepath.Join(lc.Root, sourceID)
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return nil, nil // source not present in this archive
	} else if err != nil {
		return nil, fmt.Errorf("catalog: readdir %s: %v", srcDir, err)
	}

	out := []*mosaic.ImageCandidate{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		c, err := lc.loadScene(filepath.Join(srcDir, entry.Name()), sourceID, entry.Name())
		if err != nil {
			log.Printf("catalog: skipping %s/%s: %v", sourceID, entry.Name(), err)
			continue
		}

		if c.EPSG != epsg                    { continue }
		if !window.Contains(c.AcquiredAt)    { continue }
		if !c.Footprint.Intersects(region)   { continue }

		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CloudFraction != out[j].CloudFraction {
			return out[i].CloudFraction < out[j].CloudFraction
		}
		return out[i].ID < out[j].ID
	})

	if lc.Verbosity > 0 {
		log.Printf("catalog: %s: %d of %d scenes match %s", sourceID, len(out), len(entries), region)
	}

	return out, nil
}

func (lc *Local)loadScene(sceneDir, sourceID, sceneID string) (*mosaic.ImageCandidate, error) {
	meta, err := loadSceneMeta(sceneDir)
	if err != nil {
		return nil, err
	}

	acquired, err := sceneTimestamp(sceneDir, meta)
	if err != nil {
		return nil, err
	}

	// An archive that never computed valid fractions reads as fully
	// valid; the mask and no-data pixels tell the real story at fetch.
	validFraction := meta.ValidFraction
	if validFraction == 0 {
		validFraction = 1.0
	}

	bands := make([]string, 0, len(meta.Bands))
	for _, b := range meta.Bands {
		bands = append(bands, canonicalBand(b))
	}

	return &mosaic.ImageCandidate{
		ID:            sceneID,
		Source:        sourceID,
		AcquiredAt:    acquired,
		Resolution:    meta.ResolutionM,
		CloudFraction: meta.CloudFraction,
		SolarZenith:   meta.SolarZenith,
		ViewZenith:    meta.ViewZenith,
		ValidFraction: validFraction,
		Bands:         bands,
		Footprint:     meta.Footprint.bounds(),
		EPSG:          meta.EPSG,
	}, nil
}

func loadSceneMeta(sceneDir string) (sceneMeta, error) {
	meta := sceneMeta{}

	metaPath := filepath.Join(sceneDir, "metadata.json")
	if contents, err := os.ReadFile(metaPath); err != nil {
		return meta, fmt.Errorf("read %s: %v", metaPath, err)
	} else if err := json.Unmarshal(contents, &meta); err != nil {
		return meta, fmt.Errorf("parse %s: %v", metaPath, err)
	}

	if meta.ResolutionM <= 0 {
		return meta, fmt.Errorf("%s: resolution_m missing or not positive", metaPath)
	}
	if meta.EPSG == 0 {
		return meta, fmt.Errorf("%s: epsg missing", metaPath)
	}
	if meta.Footprint.bounds().IsEmpty() {
		return meta, fmt.Errorf("%s: footprint missing or empty", metaPath)
	}
	if len(meta.Bands) == 0 {
		return meta, fmt.Errorf("%s: no bands listed", metaPath)
	}

	return meta, nil
}

// sceneTimestamp reads the acquisition time from metadata.json,
// falling back to the EXIF DateTime of preview.jpg for archives that
// only kept a quicklook. A scene with no timestamp at all cannot be
// placed in any window and is an error.
func sceneTimestamp(sceneDir string, meta sceneMeta) (time.Time, error) {
	if meta.AcquiredAt != "" {
		t, err := time.Parse(time.RFC3339, meta.AcquiredAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("acquired_at '%s': %v", meta.AcquiredAt, err)
		}
		return t.UTC(), nil
	}

	previewPath := filepath.Join(sceneDir, "preview.jpg")
	reader, err := os.Open(previewPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("no acquired_at and no preview.jpg: %v", err)
	}
	defer reader.Close()

	if ex, err := exif.Decode(reader); err != nil {
		return time.Time{}, fmt.Errorf("exif parsing %s: %v", previewPath, err)
	} else if t, err := ex.DateTime(); err != nil {
		return time.Time{}, fmt.Errorf("exif DateTime %s: %v", previewPath, err)
	} else {
		return t.UTC(), nil
	}
}
