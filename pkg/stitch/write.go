package stitch

import(
	"fmt"
	"os"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/geotiff"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
)

// WriteRaster writes a raster as a multi-band float32 GeoTIFF in
// canonical band order, the layout Composite expects to read back. The
// bytes go to a '.partial' sibling first and rename into place, so a
// crash mid-write can never leave a plausible-looking tile file.
func WriteRaster(filename string, r *mosaic.Raster) error {
	bands := make([]*egrid.Grid, 0, len(mosaic.CanonicalBands))
	for _, name := range mosaic.CanonicalBands {
		g, ok := r.Bands[name]
		if !ok {
			return fmt.Errorf("raster has no %s band", name)
		}
		bands = append(bands, g)
	}

	ref := geotiff.Georef{
		EPSG:      r.EPSG,
		OriginX:   r.Bounds.MinX,
		OriginY:   r.Bounds.MaxY,
		PixelSize: r.Resolution,
	}

	partial := filename + ".partial"
	if err := encodeTo(partial, bands, ref); err != nil {
		os.Remove(partial)
		return err
	}
	return os.Rename(partial, filename)
}

func encodeTo(filename string, bands []*egrid.Grid, ref geotiff.Georef) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return geotiff.Encode(writer, bands, ref)
	}
}
