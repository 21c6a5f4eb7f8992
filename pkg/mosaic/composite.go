package mosaic

import(
	"fmt"
	"log"
	"math"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// A Raster is a georeferenced stack of band grids sharing one pixel
// grid. Scene rasters come out of the catalog in their native
// resolution; tile rasters live on the tile's target grid.
type Raster struct {
	Bands      map[string]*egrid.Grid
	Bounds     tiling.Bounds
	EPSG       int
	Resolution float64 // meters per pixel
	WidthPx    int
	HeightPx   int
}

// NewTileRaster returns an all-no-data raster on the tile's grid,
// carrying the canonical band set, ready for compositing.
func NewTileRaster(tile tiling.Tile) *Raster {
	r := &Raster{
		Bands:      map[string]*egrid.Grid{},
		Bounds:     tile.Bounds,
		EPSG:       tile.EPSG,
		Resolution: tile.Resolution,
		WidthPx:    tile.WidthPx,
		HeightPx:   tile.HeightPx,
	}
	for _, name := range CanonicalBands {
		g := egrid.NewNoDataGrid(tile.WidthPx, tile.HeightPx)
		r.Bands[name] = &g
	}
	return r
}

// pixToPix builds the affine mapping dst pixel centers to src pixel
// centers. Row 0 sits at the northern edge on both sides.
func pixToPix(dst, src *Raster) egrid.Aff3 {
	s := dst.Resolution / src.Resolution
	tx := (dst.Bounds.MinX - src.Bounds.MinX) / src.Resolution
	ty := (src.Bounds.MaxY - dst.Bounds.MaxY) / src.Resolution
	return egrid.Identity().Translate(tx, ty).Scale(s, s)
}

// Reproject resamples the scene's bands onto the tile grid,
// returning a raster aligned with dst. Bands the scene lacks come
// back as all-no-data. Only same-CRS scenes can land on a tile.
func Reproject(dst *Raster, scene *Raster, resample ResampleFunc) (*Raster, error) {
	if scene.EPSG != dst.EPSG {
		return nil, fmt.Errorf("scene in EPSG %d, tile grid in EPSG %d", scene.EPSG, dst.EPSG)
	}

	out := &Raster{
		Bands:      map[string]*egrid.Grid{},
		Bounds:     dst.Bounds,
		EPSG:       dst.EPSG,
		Resolution: dst.Resolution,
		WidthPx:    dst.WidthPx,
		HeightPx:   dst.HeightPx,
	}
	aff := pixToPix(dst, scene)

	for _, name := range CanonicalBands {
		g := egrid.NewNoDataGrid(dst.WidthPx, dst.HeightPx)
		if src, ok := scene.Bands[name]; ok {
			resample(&g, src, aff)
		}
		out.Bands[name] = &g
	}
	return out, nil
}

// CompositeInto folds a contribution into the mosaic: per band, per
// pixel, the first selected candidate with valid data wins, so
// everything already written stays put and the contribution only
// fills holes.
func CompositeInto(out *Raster, contrib *Raster) {
	for _, name := range CanonicalBands {
		dst, ok1 := out.Bands[name]
		src, ok2 := contrib.Bands[name]
		if !ok1 || !ok2 {
			continue
		}
		for y:=0; y<out.HeightPx; y++ {
			for x:=0; x<out.WidthPx; x++ {
				if !dst.IsValid(x, y) && src.IsValid(x, y) {
					dst.Set(x, y, src.Get(x, y))
				}
			}
		}
	}
}

// Coverage is the mean, over the RGB-equivalent bands, of the
// fraction of pixels holding valid data. This is the number the
// gap-fill loop drives toward its target.
func (r *Raster)Coverage() float64 {
	sum := 0.0
	for _, name := range RequiredBands {
		sum += r.Bands[name].ValidFraction()
	}
	return sum / float64(len(RequiredBands))
}

// GapMask marks pixels still lacking data: 1 where any RGB band has
// a hole, 0 where the composite is complete.
func (r *Raster)GapMask() egrid.Grid {
	mask := egrid.NewGrid(r.WidthPx, r.HeightPx)
	for y:=0; y<r.HeightPx; y++ {
		for x:=0; x<r.WidthPx; x++ {
			for _, name := range RequiredBands {
				if !r.Bands[name].IsValid(x, y) {
					mask.Set(x, y, 1.0)
					break
				}
			}
		}
	}
	return mask
}

// ZeroFillBand replaces remaining no-data with zero. Runs on the
// non-required bands once gap-filling is done; RGB holes stay
// no-data so downstream consumers can tell absence from black.
func (r *Raster)ZeroFillBand(name string) {
	g, ok := r.Bands[name]
	if !ok {
		return
	}
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			if math.IsNaN(g.Get(x, y)) {
				g.Set(x, y, 0)
			}
		}
	}
}

// A ResampleFunc fills dst by sampling src through the dst->src
// pixel transform.
type ResampleFunc func(dst, src *egrid.Grid, dstToSrc egrid.Aff3)

// GetResampler maps a config strategy name to its implementation.
func GetResampler(name string) ResampleFunc {
	switch name {
	case "", "bilinear":
		return egrid.Resample
	case "nearest":
		return egrid.ResampleNearest
	default:
		log.Fatalf("unknown resampler strategy '%s'", name)
	}
	return nil
}
