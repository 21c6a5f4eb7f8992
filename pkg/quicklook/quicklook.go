// Package quicklook renders small human-checkable views of mosaic
// rasters: an RGB preview with a percentile contrast stretch, a
// coverage heatmap, thumbnails, and a Radiance dump for HDR tools.
// Nothing here feeds back into the engine; it all exists so a bad
// composite is obvious before anyone ships it.
package quicklook

import(
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

const(
	stretchLo = 0.02
	stretchHi = 0.98
)

// A bandStretch maps one band's reflectance onto [0,1] between its
// 2nd and 98th percentile, then through the sRGB transfer curve so
// linear reflectance looks normal to human vision.
type bandStretch struct {
	g      *egrid.Grid
	lo, hi float64
}

func newBandStretch(g *egrid.Grid) bandStretch {
	lo, hi := g.PercentileRange(stretchLo, stretchHi)
	return bandStretch{g: g, lo: lo, hi: hi}
}

func (bs bandStretch)at(x, y int) (float64, bool) {
	v := bs.g.Get(x, y)
	if math.IsNaN(v) {
		return 0, false
	}
	t := 0.5
	if bs.hi > bs.lo {
		t = (v - bs.lo) / (bs.hi - bs.lo)
	}
	return egrid.GammaExpand_F64(egrid.Clamp01(t)), true
}

// RGBImage renders the raster's RGB bands as a contrast-stretched
// image. Pixels with no data in any band come out fully transparent.
func RGBImage(r *mosaic.Raster) (image.Image, error) {
	var stretches [3]bandStretch
	for i, name := range mosaic.RequiredBands {
		g, ok := r.Bands[name]
		if !ok {
			return nil, fmt.Errorf("quicklook: raster has no %s band", name)
		}
		stretches[i] = newBandStretch(g)
	}

	img := image.NewRGBA64(image.Rect(0, 0, r.WidthPx, r.HeightPx))
	for y:=0; y<r.HeightPx; y++ {
		for x:=0; x<r.WidthPx; x++ {
			red, okR := stretches[0].at(x, y)
			grn, okG := stretches[1].at(x, y)
			blu, okB := stretches[2].at(x, y)
			if !okR && !okG && !okB {
				continue
			}
			img.Set(x, y, color.RGBA64{
				R: uint16(red * 65535.0),
				G: uint16(grn * 65535.0),
				B: uint16(blu * 65535.0),
				A: 0xFFFF,
			})
		}
	}
	return img, nil
}

// WritePreview saves the contrast-stretched RGB render as a PNG.
func WritePreview(r *mosaic.Raster, filename string) error {
	img, err := RGBImage(r)
	if err != nil {
		return err
	}
	return writePNG(img, filename)
}

// WriteThumbnail fits the RGB render inside maxDim pixels, preserving
// aspect; the format follows the file extension.
func WriteThumbnail(r *mosaic.Raster, maxDim int, filename string) error {
	img, err := RGBImage(r)
	if err != nil {
		return err
	}
	thumb := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	return imaging.Save(thumb, filename)
}

func writePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}
