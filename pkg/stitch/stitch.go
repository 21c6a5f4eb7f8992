// Package stitch blends finished tile mosaics into one composite
// raster on a common grid. It is the run's final phase: every tile
// file must exist before it starts, and it streams band by band so
// only one band's accumulation buffers are ever in memory, however
// large the composite.
package stitch

import(
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/geotiff"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// A GridSpec is the single grid definition every tile mosaic in a run
// must align to. One spec per composite; pixel alignment across tiles
// is what makes the blend commutative.
type GridSpec struct {
	Bounds     tiling.Bounds
	EPSG       int
	Resolution float64
	WidthPx    int
	HeightPx   int
}

// SpecFor derives the common grid from the run's tile set: the union
// of the tile bounds at the shared resolution and projection.
func SpecFor(tiles []tiling.Tile) (GridSpec, error) {
	if len(tiles) == 0 {
		return GridSpec{}, fmt.Errorf("stitch: no tiles to span")
	}

	spec := GridSpec{
		Bounds:     tiles[0].Bounds,
		EPSG:       tiles[0].EPSG,
		Resolution: tiles[0].Resolution,
	}
	for _, t := range tiles[1:] {
		if t.EPSG != spec.EPSG {
			return GridSpec{}, StitchGridMismatchError{Tile: t.ID,
				Reason: fmt.Sprintf("EPSG %d, composite uses %d", t.EPSG, spec.EPSG)}
		}
		if t.Resolution != spec.Resolution {
			return GridSpec{}, StitchGridMismatchError{Tile: t.ID,
				Reason: fmt.Sprintf("resolution %.2fm, composite uses %.2fm", t.Resolution, spec.Resolution)}
		}
		spec.Bounds = spec.Bounds.Union(t.Bounds)
	}

	spec.WidthPx = int(math.Round(spec.Bounds.Width() / spec.Resolution))
	spec.HeightPx = int(math.Round(spec.Bounds.Height() / spec.Resolution))
	return spec, nil
}

// StitchGridMismatchError: a tile mosaic's grid disagrees with the
// common grid definition. Fatal to the stitch phase; the run stops
// rather than blend misaligned pixels.
type StitchGridMismatchError struct {
	Tile   string
	Reason string
}

func (e StitchGridMismatchError)Error() string {
	return fmt.Sprintf("stitch: %s: %s", e.Tile, e.Reason)
}

// A Report is the stitch phase's accounting: how much of the
// composite each band actually covers.
type Report struct {
	TileCount int
	Bands     []BandCoverage
}

type BandCoverage struct {
	Band     string
	Coverage float64
}

// Coverage is the mean coverage of the RGB bands, the same measure
// the per-tile engine tracks.
func (r *Report)Coverage() float64 {
	sum, n := 0.0, 0
	for _, bc := range r.Bands {
		for _, req := range mosaic.RequiredBands {
			if bc.Band == req {
				sum += bc.Coverage
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

type Stitcher struct {
	FeatherPx int
	Feather   FeatherFunc
	Verbosity int
}

func NewStitcher(cfg mosaic.Config) *Stitcher {
	return &Stitcher{
		FeatherPx: cfg.FeatherPx,
		Feather:   GetFeather(cfg.FeatherStrategy),
		Verbosity: cfg.Verbosity,
	}
}

// Composite blends the tile mosaic files onto the common grid. Each
// band is accumulated tile by tile into a weighted-sum and a
// weight-sum buffer, then divided out; a pixel no tile covers stays
// no-data. Accumulation is commutative, so the output does not depend
// on the order of paths.
//
// A missing or misaligned tile file is fatal: a composite quietly
// built from half its tiles would be worse than no composite.
func (st *Stitcher)Composite(ctx context.Context, paths []string, spec GridSpec) (*mosaic.Raster, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("stitch: no tile mosaics to blend")
	}

	infos := make([]geotiff.Info, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("stitch: %v", err)
		}
		info, err := geotiff.ReadInfo(data)
		if err != nil {
			return nil, nil, fmt.Errorf("stitch: %s: %v", path, err)
		}
		if err := checkAgainst(info, spec, path); err != nil {
			return nil, nil, err
		}
		infos[i] = info
	}

	out := &mosaic.Raster{
		Bands:      map[string]*egrid.Grid{},
		Bounds:     spec.Bounds,
		EPSG:       spec.EPSG,
		Resolution: spec.Resolution,
		WidthPx:    spec.WidthPx,
		HeightPx:   spec.HeightPx,
	}
	report := &Report{TileCount: len(paths)}

	for bandIdx, bandName := range mosaic.CanonicalBands {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		sum := egrid.NewGrid(spec.WidthPx, spec.HeightPx)
		weightSum := egrid.NewGrid(spec.WidthPx, spec.HeightPx)

		for i, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, fmt.Errorf("stitch: %v", err)
			}
			g, err := geotiff.ReadBand(data, infos[i], bandIdx)
			if err != nil {
				return nil, nil, fmt.Errorf("stitch: %s band %s: %v", path, bandName, err)
			}
			st.accumulate(&sum, &weightSum, g, infos[i], spec)
		}

		outBand := egrid.NewNoDataGrid(spec.WidthPx, spec.HeightPx)
		for y:=0; y<spec.HeightPx; y++ {
			for x:=0; x<spec.WidthPx; x++ {
				if ws := weightSum.Get(x, y); ws > 0 {
					outBand.Set(x, y, sum.Get(x, y)/ws)
				}
			}
		}

		out.Bands[bandName] = &outBand
		report.Bands = append(report.Bands, BandCoverage{Band: bandName, Coverage: outBand.ValidFraction()})

		if st.Verbosity > 0 {
			log.Printf("stitch: band %s blended from %d tiles, %.2f%% covered",
				bandName, len(paths), outBand.ValidFraction()*100.0)
		}
	}

	return out, report, nil
}

// checkAgainst verifies a tile file sits on the composite lattice:
// same projection, same pixel size, origin a whole number of pixels
// from the composite origin, full canonical band set.
func checkAgainst(info geotiff.Info, spec GridSpec, path string) error {
	if info.EPSG != spec.EPSG {
		return StitchGridMismatchError{Tile: path,
			Reason: fmt.Sprintf("EPSG %d, composite grid is %d", info.EPSG, spec.EPSG)}
	}
	if math.Abs(info.PixelSize-spec.Resolution) > 1e-9 {
		return StitchGridMismatchError{Tile: path,
			Reason: fmt.Sprintf("pixel size %.6fm, composite grid is %.6fm", info.PixelSize, spec.Resolution)}
	}
	if info.Bands != len(mosaic.CanonicalBands) {
		return StitchGridMismatchError{Tile: path,
			Reason: fmt.Sprintf("carries %d bands, want %d", info.Bands, len(mosaic.CanonicalBands))}
	}

	offX := (info.OriginX - spec.Bounds.MinX) / spec.Resolution
	offY := (spec.Bounds.MaxY - info.OriginY) / spec.Resolution
	if math.Abs(offX-math.Round(offX)) > 1e-6 || math.Abs(offY-math.Round(offY)) > 1e-6 {
		return StitchGridMismatchError{Tile: path, Reason: "origin off the common pixel lattice"}
	}

	return nil
}

// accumulate blends one tile band into the running buffers. The tile
// is resampled bilinearly onto the common grid; feather weights ramp
// down toward the tile's valid-data boundary, so overlapping tiles
// cross-fade instead of seaming.
func (st *Stitcher)accumulate(sum, weightSum, g *egrid.Grid, info geotiff.Info, spec GridSpec) {
	dist := g.DistanceToEdge()

	// Composite window the tile touches.
	x0 := int(math.Floor((info.OriginX - spec.Bounds.MinX) / spec.Resolution))
	y0 := int(math.Floor((spec.Bounds.MaxY - info.OriginY) / spec.Resolution))
	x1 := x0 + int(math.Ceil(float64(info.Width)*info.PixelSize/spec.Resolution))
	y1 := y0 + int(math.Ceil(float64(info.Height)*info.PixelSize/spec.Resolution))
	if x0 < 0 { x0 = 0 }
	if y0 < 0 { y0 = 0 }
	if x1 > spec.WidthPx  { x1 = spec.WidthPx }
	if y1 > spec.HeightPx { y1 = spec.HeightPx }

	// Composite pixel centers to tile pixel centers.
	s := spec.Resolution / info.PixelSize
	tx := (spec.Bounds.MinX - info.OriginX) / info.PixelSize
	ty := (info.OriginY - spec.Bounds.MaxY) / info.PixelSize
	aff := egrid.Identity().Translate(tx, ty).Scale(s, s)

	fpx := float64(st.FeatherPx)

	for y:=y0; y<y1; y++ {
		for x:=x0; x<x1; x++ {
			sx, sy := aff.Apply(float64(x)+0.5, float64(y)+0.5)
			v := g.BilinearAt(sx-0.5, sy-0.5)
			if math.IsNaN(v) {
				continue
			}
			d := dist.BilinearAt(sx-0.5, sy-0.5)
			if math.IsNaN(d) {
				continue
			}
			w := st.Feather(d, fpx)
			if w <= 0 {
				continue
			}
			sum.Set(x, y, sum.Get(x, y) + v*w)
			weightSum.Set(x, y, weightSum.Get(x, y) + w)
		}
	}
}
