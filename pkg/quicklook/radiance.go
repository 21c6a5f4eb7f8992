package quicklook

import(
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

// A radianceRaster adapts the RGB reflectance planes to hdr.Image.
// Values go out raw, no stretch, so HDR tools see what the engine
// saw; no-data pixels go out black.
type radianceRaster struct {
	r, g, b *egrid.Grid
	w, h    int
}

func (rr radianceRaster)ColorModel() color.Model { return hdrcolor.RGBModel }
func (rr radianceRaster)Bounds() image.Rectangle { return image.Rect(0, 0, rr.w, rr.h) }
func (rr radianceRaster)Size() int               { return rr.w * rr.h }

func (rr radianceRaster)At(x, y int) color.Color { return rr.HDRAt(x, y) }

func (rr radianceRaster)HDRAt(x, y int) hdrcolor.Color {
	red, grn, blu := rr.r.Get(x, y), rr.g.Get(x, y), rr.b.Get(x, y)
	if math.IsNaN(red) { red = 0 }
	if math.IsNaN(grn) { grn = 0 }
	if math.IsNaN(blu) { blu = 0 }
	return hdrcolor.RGB{R: red, G: grn, B: blu}
}

// WriteHDR dumps the raster's RGB planes into a Radiance file.
func WriteHDR(r *mosaic.Raster, filename string) error {
	rr := radianceRaster{w: r.WidthPx, h: r.HeightPx}
	for i, name := range mosaic.RequiredBands {
		g, ok := r.Bands[name]
		if !ok {
			return fmt.Errorf("quicklook: raster has no %s band", name)
		}
		switch i {
		case 0:
			rr.r = g
		case 1:
			rr.g = g
		case 2:
			rr.b = g
		}
	}

	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		err := rgbe.Encode(writer, rr)
		if err != nil {
			log.Printf("quicklook: encoding RGBE file: %v\n", err)
		}
		return err
	}
}
