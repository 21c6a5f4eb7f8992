package quicklook

import(
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

const maxHeatmapDim = 1024

var(
	heatLow  = colorful.Color{R: 0.75, G: 0.10, B: 0.10}
	heatHigh = colorful.Color{R: 0.10, G: 0.65, B: 0.20}
	heatNone = color.RGBA{40, 40, 46, 255}
)

// CoverageGrid counts, per pixel, the fraction of RGB bands holding
// data: 1.0 where all three observed something, 0.0 where none did.
// The grid has no no-data samples, so downsampling it averages the
// fractions instead of punching holes.
func CoverageGrid(r *mosaic.Raster) egrid.Grid {
	g := egrid.NewGrid(r.WidthPx, r.HeightPx)
	for y:=0; y<r.HeightPx; y++ {
		for x:=0; x<r.WidthPx; x++ {
			n := 0
			for _, name := range mosaic.RequiredBands {
				if band, ok := r.Bands[name]; ok && band.IsValid(x, y) {
					n++
				}
			}
			g.Set(x, y, float64(n)/float64(len(mosaic.RequiredBands)))
		}
	}
	return g
}

// WriteCoverageHeatmap renders where the composite actually has data:
// green fully covered, red sparse, dark gray nothing at all. Large
// rasters are downsampled until they fit a screen.
func WriteCoverageHeatmap(r *mosaic.Raster, filename string) error {
	g := CoverageGrid(r)

	total := 0.0
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			total += g.Get(x, y)
		}
	}
	mean := 0.0
	if g.Dx()*g.Dy() > 0 {
		mean = total / float64(g.Dx()*g.Dy())
	}

	for g.Dx() > maxHeatmapDim || g.Dy() > maxHeatmapDim {
		g = g.DownSample()
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Dx(), g.Dy()))
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			f := g.Get(x, y)
			if f <= 0 {
				img.Set(x, y, heatNone)
				continue
			}
			img.Set(x, y, heatLow.BlendLab(heatHigh, f).Clamped())
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("coverage %.1f%%", mean*100.0), 10, 20)
	return dc.SavePNG(filename)
}
