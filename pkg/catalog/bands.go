package catalog

import(
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/geotiff"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// FetchBands loads the requested bands of one scene, clipped to the
// given region, as a reflectance raster on the scene's own pixel
// grid. Bands the candidate does not carry are quietly skipped; the
// engine always asks for the full canonical set. Mask and no-data
// pixels come back as NaN, ready for compositing.
func (lc *Local)FetchBands(ctx context.Context, c *mosaic.ImageCandidate, bands []string, clipTo tiling.Bounds) (*mosaic.Raster, error) {
	if err := lc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sceneDir := filepath.Join(lc.Root, c.Source, c.ID)
	meta, err := loadSceneMeta(sceneDir)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s/%s: %v", c.Source, c.ID, err)
	}

	fp := meta.Footprint.bounds()
	clip := clipTo.Intersection(fp)
	if clip.IsEmpty() {
		return nil, fmt.Errorf("catalog: %s/%s does not cover %s", c.Source, c.ID, clipTo)
	}

	var mask *egrid.Grid
	if meta.MaskBand != "" {
		if mask, err = lc.maskGrid(sceneDir, meta.MaskBand); err != nil {
			return nil, fmt.Errorf("catalog: %s/%s: %v", c.Source, c.ID, err)
		}
	}

	raster := &mosaic.Raster{Bands: map[string]*egrid.Grid{}, EPSG: meta.EPSG}
	f := clipFrame{}

	for _, band := range bands {
		if !c.HasBand(band) {
			continue
		}

		full, err := lc.bandGrid(sceneDir, meta, c.Source, band)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s/%s: %v", c.Source, c.ID, err)
		}

		// The first band pins the scene grid; every other raster in
		// the directory has to agree with it.
		if f.cols == 0 {
			if f, err = frameClip(fp, clip, full.Dx(), full.Dy()); err != nil {
				return nil, fmt.Errorf("catalog: %s/%s: %v", c.Source, c.ID, err)
			}
			if mask != nil && (mask.Dx() != f.cols || mask.Dy() != f.rows) {
				return nil, fmt.Errorf("catalog: %s/%s: mask grid %dx%d does not match bands %dx%d",
					c.Source, c.ID, mask.Dx(), mask.Dy(), f.cols, f.rows)
			}
		} else if full.Dx() != f.cols || full.Dy() != f.rows {
			return nil, fmt.Errorf("catalog: %s/%s: band %s grid %dx%d does not match %dx%d",
				c.Source, c.ID, band, full.Dx(), full.Dy(), f.cols, f.rows)
		}

		sub := full.SubGrid(f.col0, f.row0, f.width(), f.height())
		if mask != nil {
			for y:=0; y<f.height(); y++ {
				for x:=0; x<f.width(); x++ {
					if v := mask.Get(f.col0+x, f.row0+y); !math.IsNaN(v) && v > 0 {
						sub.Set(x, y, math.NaN())
					}
				}
			}
		}

		raster.Bands[band] = &sub
	}

	if len(raster.Bands) == 0 {
		return nil, fmt.Errorf("catalog: %s/%s: none of the requested bands available", c.Source, c.ID)
	}

	raster.Bounds = f.bounds(fp)
	raster.Resolution = f.px
	raster.WidthPx = f.width()
	raster.HeightPx = f.height()

	if lc.Verbosity > 1 {
		log.Printf("catalog: fetched %s/%s: %d bands, %dx%d px at %.1fm", c.Source, c.ID, len(raster.Bands), raster.WidthPx, raster.HeightPx, raster.Resolution)
	}

	return raster, nil
}

// A clipFrame is a pixel-aligned window on a scene grid. Clip edges
// snap outward to pixel edges, so the window never loses a requested
// pixel.
type clipFrame struct {
	cols, rows             int     // full scene grid
	col0, row0, col1, row1 int     // half-open clip window
	px                     float64 // meters per scene pixel
}

func frameClip(fp, clip tiling.Bounds, cols, rows int) (clipFrame, error) {
	f := clipFrame{cols: cols, rows: rows}
	f.px = fp.Width() / float64(cols)

	if math.Abs(fp.Height()/f.px - float64(rows)) > 0.5 {
		return f, fmt.Errorf("footprint %s does not fit a %dx%d grid", fp, cols, rows)
	}

	f.col0 = int(math.Floor((clip.MinX - fp.MinX) / f.px))
	f.row0 = int(math.Floor((fp.MaxY - clip.MaxY) / f.px))
	f.col1 = int(math.Ceil((clip.MaxX - fp.MinX) / f.px))
	f.row1 = int(math.Ceil((fp.MaxY - clip.MinY) / f.px))

	if f.col0 < 0    { f.col0 = 0 }
	if f.row0 < 0    { f.row0 = 0 }
	if f.col1 > cols { f.col1 = cols }
	if f.row1 > rows { f.row1 = rows }

	if f.col1 <= f.col0 || f.row1 <= f.row0 {
		return f, fmt.Errorf("clip %s lands on no pixels of a %dx%d grid", clip, cols, rows)
	}

	return f, nil
}

func (f clipFrame)width() int  { return f.col1 - f.col0 }
func (f clipFrame)height() int { return f.row1 - f.row0 }

func (f clipFrame)bounds(fp tiling.Bounds) tiling.Bounds {
	return tiling.Bounds{
		MinX: fp.MinX + float64(f.col0)*f.px,
		MaxY: fp.MaxY - float64(f.row0)*f.px,
		MaxX: fp.MinX + float64(f.col1)*f.px,
		MinY: fp.MaxY - float64(f.row1)*f.px,
	}
}

// bandGrid returns the full-scene reflectance grid for one band,
// decoding, rescaling and harmonizing on a cache miss.
func (lc *Local)bandGrid(sceneDir string, meta sceneMeta, source, band string) (*egrid.Grid, error) {
	path, err := bandPath(sceneDir, band)
	if err != nil {
		return nil, err
	}
	if g, ok := lc.bands.Get(path); ok {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v", path, err)
	}

	g, dn, err := decodeGrid(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v", path, err)
	}

	if dn {
		scale := meta.DNScale
		if scale == 0 {
			scale = 1.0 / 10000.0 // the usual surface reflectance scaling
		}
		nodata := float64(meta.NoDataDN)
		for y:=0; y<g.Dy(); y++ {
			for x:=0; x<g.Dx(); x++ {
				if v := g.Get(x, y); v == nodata {
					g.Set(x, y, math.NaN())
				} else {
					g.Set(x, y, v*scale + meta.DNOffset)
				}
			}
		}
	}

	if lc.Harmonize {
		if gain, offset := mosaic.Harmonization(source); gain != 1.0 || offset != 0.0 {
			for y:=0; y<g.Dy(); y++ {
				for x:=0; x<g.Dx(); x++ {
					if g.IsValid(x, y) {
						g.Set(x, y, g.Get(x, y)*gain + offset)
					}
				}
			}
		}
	}

	lc.bands.Add(path, g)
	return g, nil
}

// maskGrid returns the raw mask raster. No rescaling: any sample > 0
// marks an unusable pixel whatever the encoding.
func (lc *Local)maskGrid(sceneDir, band string) (*egrid.Grid, error) {
	path := filepath.Join(sceneDir, band+".tif")
	if g, ok := lc.bands.Get(path); ok {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v", path, err)
	}

	g, _, err := decodeGrid(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v", path, err)
	}

	lc.bands.Add(path, g)
	return g, nil
}

// decodeGrid turns one band file into a grid of raw sample values.
// The engine's own float32 GeoTIFFs decode straight to reflectance
// (dn false); plain grayscale TIFFs decode to digital numbers (dn
// true) for the caller to rescale.
func decodeGrid(data []byte) (*egrid.Grid, bool, error) {
	if info, err := geotiff.ReadInfo(data); err == nil {
		if info.Bands != 1 {
			return nil, false, fmt.Errorf("band file holds %d planes, want 1", info.Bands)
		}
		g, err := geotiff.ReadBand(data, info, 0)
		return g, false, err
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("not a readable TIFF: %v", err)
	}

	b := img.Bounds()
	g := egrid.NewGrid(b.Dx(), b.Dy())

	switch im := img.(type) {
	case *image.Gray16:
		for y:=0; y<b.Dy(); y++ {
			for x:=0; x<b.Dx(); x++ {
				g.Set(x, y, float64(im.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray:
		for y:=0; y<b.Dy(); y++ {
			for x:=0; x<b.Dx(); x++ {
				g.Set(x, y, float64(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		return nil, false, fmt.Errorf("unsupported TIFF pixel layout %T", img)
	}

	return &g, true, nil
}
