package stitch

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
	"github.com/flutter-gis/flutter-earth-download/pkg/geotiff"
	"github.com/flutter-gis/flutter-earth-download/pkg/mosaic"
	"github.com/flutter-gis/flutter-earth-download/pkg/tiling"
)

// Two 20x10 tiles at 10m in UTM 10N, overlapping by 10 columns:
// tile A spans composite columns 0-19, tile B columns 10-29.
func twoTileSpec() GridSpec {
	return GridSpec{
		Bounds:     tiling.Bounds{MinX: 500000, MinY: 4000000, MaxX: 500300, MaxY: 4000100},
		EPSG:       32610,
		Resolution: 10,
		WidthPx:    30,
		HeightPx:   10,
	}
}

func writeTile(t *testing.T, path string, originX, originY float64, w, h int, value func(band string, x, y int) float64) {
	t.Helper()
	bands := make([]*egrid.Grid, 0, len(mosaic.CanonicalBands))
	for _, name := range mosaic.CanonicalBands {
		g := egrid.NewGrid(w, h)
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				g.Set(x, y, value(name, x, y))
			}
		}
		bands = append(bands, &g)
	}

	buf := &bytes.Buffer{}
	require.NoError(t, geotiff.Encode(buf, bands, geotiff.Georef{
		EPSG: 32610, OriginX: originX, OriginY: originY, PixelSize: 10,
	}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func constant(v float64) func(string, int, int) float64 {
	return func(string, int, int) float64 { return v }
}

func cosineStitcher(featherPx int) *Stitcher {
	return &Stitcher{FeatherPx: featherPx, Feather: GetFeather("cosine")}
}

func TestGetFeather(t *testing.T) {
	t.Run("Cosine", func(t *testing.T) {
		f := GetFeather("cosine")
		assert.Equal(t, minFeatherWeight, f(0, 80))
		assert.InDelta(t, 0.5, f(40, 80), 1e-12)
		assert.Equal(t, 1.0, f(80, 80))
		assert.Equal(t, 1.0, f(200, 80))
	})

	t.Run("Linear", func(t *testing.T) {
		f := GetFeather("linear")
		assert.Equal(t, minFeatherWeight, f(0, 80))
		assert.InDelta(t, 0.1, f(8, 80), 1e-12)
		assert.Equal(t, 1.0, f(80, 80))
	})

	t.Run("None", func(t *testing.T) {
		f := GetFeather("none")
		assert.Equal(t, 1.0, f(0, 80))
		assert.Equal(t, 1.0, f(80, 80))
	})

	t.Run("Default Is Cosine", func(t *testing.T) {
		f := GetFeather("")
		assert.InDelta(t, 0.5, f(40, 80), 1e-12)
	})

	t.Run("Zero Feather Distance Disables The Ramp", func(t *testing.T) {
		for _, name := range []string{"cosine", "linear", "none"} {
			assert.Equal(t, 1.0, GetFeather(name)(0, 0), name)
		}
	})
}

func TestSpecFor(t *testing.T) {
	a := tiling.Tile{ID: "a", EPSG: 32610, Resolution: 10,
		Bounds: tiling.Bounds{MinX: 500000, MinY: 4000000, MaxX: 500200, MaxY: 4000100}}
	b := tiling.Tile{ID: "b", EPSG: 32610, Resolution: 10,
		Bounds: tiling.Bounds{MinX: 500100, MinY: 4000000, MaxX: 500300, MaxY: 4000100}}

	spec, err := SpecFor([]tiling.Tile{a, b})
	require.NoError(t, err)
	assert.Equal(t, twoTileSpec(), spec)

	t.Run("EPSG Mismatch", func(t *testing.T) {
		c := b
		c.EPSG = 32611
		_, err := SpecFor([]tiling.Tile{a, c})
		mismatch := StitchGridMismatchError{}
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("Resolution Mismatch", func(t *testing.T) {
		c := b
		c.Resolution = 20
		_, err := SpecFor([]tiling.Tile{a, c})
		mismatch := StitchGridMismatchError{}
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("No Tiles", func(t *testing.T) {
		_, err := SpecFor(nil)
		assert.Error(t, err)
	})
}

func TestCompositeSingleTileDividesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tif")

	// One tile with a no-data hole; even heavily feathered pixels must
	// come back at exactly their input value once the weight divides out.
	writeTile(t, path, 500000, 4000100, 20, 10, func(band string, x, y int) float64 {
		if x >= 8 && x <= 11 && y >= 3 && y <= 6 {
			return math.NaN()
		}
		return 1.5
	})

	spec := GridSpec{
		Bounds:     tiling.Bounds{MinX: 500000, MinY: 4000000, MaxX: 500200, MaxY: 4000100},
		EPSG:       32610,
		Resolution: 10,
		WidthPx:    20,
		HeightPx:   10,
	}

	out, report, err := cosineStitcher(5).Composite(context.Background(), []string{path}, spec)
	require.NoError(t, err)

	g := out.Bands["B4"]
	for y:=0; y<10; y++ {
		for x:=0; x<20; x++ {
			if x >= 8 && x <= 11 && y >= 3 && y <= 6 {
				assert.False(t, g.IsValid(x, y), "hole pixel (%d,%d)", x, y)
			} else {
				assert.InDelta(t, 1.5, g.Get(x, y), 1e-12, "pixel (%d,%d)", x, y)
			}
		}
	}

	assert.Equal(t, 1, report.TileCount)
	require.Len(t, report.Bands, 6)
	assert.InDelta(t, float64(200-16)/200.0, report.Bands[0].Coverage, 1e-12)
}

func TestCompositeTwoTilesCrossFade(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tif")
	pathB := filepath.Join(dir, "b.tif")
	writeTile(t, pathA, 500000, 4000100, 20, 10, constant(1.0))
	writeTile(t, pathB, 500100, 4000100, 20, 10, constant(3.0))

	out, report, err := cosineStitcher(5).Composite(context.Background(), []string{pathA, pathB}, twoTileSpec())
	require.NoError(t, err)

	g := out.Bands["B4"]

	// Single-tile regions keep their values exactly.
	assert.InDelta(t, 1.0, g.Get(5, 5), 1e-12)
	assert.InDelta(t, 3.0, g.Get(25, 5), 1e-12)

	// Both tiles at full weight mid-overlap: plain average.
	assert.InDelta(t, 2.0, g.Get(14, 5), 1e-12)

	// The blend ramps monotonically from A's value to B's across the
	// overlap, row 5.
	prev := g.Get(9, 5)
	for x:=10; x<20; x++ {
		cur := g.Get(x, 5)
		assert.GreaterOrEqual(t, cur+1e-12, prev, "column %d", x)
		prev = cur
	}
	assert.Greater(t, g.Get(10, 5), 1.0)
	assert.Less(t, g.Get(19, 5), 3.0)

	assert.Equal(t, 2, report.TileCount)
	assert.InDelta(t, 1.0, report.Coverage(), 1e-12)
}

func TestCompositePerBandCoverage(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tif")
	pathB := filepath.Join(dir, "b.tif")

	// Tile A never observed NIR; only B contributes B8 pixels.
	writeTile(t, pathA, 500000, 4000100, 20, 10, func(band string, x, y int) float64 {
		if band == mosaic.BandNIR {
			return math.NaN()
		}
		return 1.0
	})
	writeTile(t, pathB, 500100, 4000100, 20, 10, constant(3.0))

	out, report, err := cosineStitcher(5).Composite(context.Background(), []string{pathA, pathB}, twoTileSpec())
	require.NoError(t, err)

	byBand := map[string]float64{}
	for _, bc := range report.Bands {
		byBand[bc.Band] = bc.Coverage
	}
	assert.InDelta(t, 1.0, byBand[mosaic.BandRed], 1e-12)
	assert.InDelta(t, 20.0/30.0, byBand[mosaic.BandNIR], 1e-12)

	// B8 in B's region carries B's value untouched by A.
	assert.InDelta(t, 3.0, out.Bands[mosaic.BandNIR].Get(12, 5), 1e-12)
	assert.False(t, out.Bands[mosaic.BandNIR].IsValid(5, 5))
}

func TestCompositeOrderIndependence(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tif")
	pathB := filepath.Join(dir, "b.tif")
	pathC := filepath.Join(dir, "c.tif")
	writeTile(t, pathA, 500000, 4000100, 20, 10, func(band string, x, y int) float64 {
		return float64(x+y) * 0.01
	})
	writeTile(t, pathB, 500100, 4000100, 20, 10, constant(3.0))
	writeTile(t, pathC, 500050, 4000100, 20, 10, func(band string, x, y int) float64 {
		return 1.0 + float64(x)*0.05
	})

	spec := twoTileSpec()
	st := cosineStitcher(5)

	first, _, err := st.Composite(context.Background(), []string{pathA, pathB, pathC}, spec)
	require.NoError(t, err)
	second, _, err := st.Composite(context.Background(), []string{pathC, pathA, pathB}, spec)
	require.NoError(t, err)

	for _, band := range mosaic.CanonicalBands {
		g1, g2 := first.Bands[band], second.Bands[band]
		for y:=0; y<spec.HeightPx; y++ {
			for x:=0; x<spec.WidthPx; x++ {
				v1, v2 := g1.Get(x, y), g2.Get(x, y)
				if math.IsNaN(v1) {
					assert.True(t, math.IsNaN(v2), "band %s pixel (%d,%d)", band, x, y)
					continue
				}
				assert.InDelta(t, v1, v2, 1e-9, "band %s pixel (%d,%d)", band, x, y)
			}
		}
	}
}

func TestCompositeRejectsMisalignedTiles(t *testing.T) {
	spec := twoTileSpec()
	st := cosineStitcher(5)

	write := func(t *testing.T, origin float64, epsg int, res float64, nBands int) string {
		t.Helper()
		g := egrid.NewGrid(20, 10)
		g.Fill(1.0)
		bands := []*egrid.Grid{}
		for i:=0; i<nBands; i++ {
			bands = append(bands, &g)
		}
		buf := &bytes.Buffer{}
		require.NoError(t, geotiff.Encode(buf, bands, geotiff.Georef{
			EPSG: epsg, OriginX: origin, OriginY: 4000100, PixelSize: res,
		}))
		path := filepath.Join(t.TempDir(), "tile.tif")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
		return path
	}

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"Wrong EPSG", func(t *testing.T) string { return write(t, 500000, 32611, 10, 6) }},
		{"Wrong Pixel Size", func(t *testing.T) string { return write(t, 500000, 32610, 5, 6) }},
		{"Wrong Band Count", func(t *testing.T) string { return write(t, 500000, 32610, 10, 3) }},
		{"Off Lattice Origin", func(t *testing.T) string { return write(t, 500003, 32610, 10, 6) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := st.Composite(context.Background(), []string{test.path(t)}, spec)
			mismatch := StitchGridMismatchError{}
			assert.ErrorAs(t, err, &mismatch)
		})
	}

	t.Run("Missing Tile File Is Fatal", func(t *testing.T) {
		_, _, err := st.Composite(context.Background(), []string{filepath.Join(t.TempDir(), "gone.tif")}, spec)
		require.Error(t, err)
		mismatch := StitchGridMismatchError{}
		assert.False(t, errors.As(err, &mismatch))
	})
}

func TestCompositeHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tif")
	writeTile(t, path, 500000, 4000100, 20, 10, constant(1.0))

	spec := GridSpec{
		Bounds:     tiling.Bounds{MinX: 500000, MinY: 4000000, MaxX: 500200, MaxY: 4000100},
		EPSG:       32610,
		Resolution: 10,
		WidthPx:    20,
		HeightPx:   10,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := cosineStitcher(5).Composite(ctx, []string{path}, spec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteRaster(t *testing.T) {
	tile := tiling.Tile{
		ID:         "r000c000",
		EPSG:       32610,
		Bounds:     tiling.Bounds{MinX: 500000, MinY: 4000000, MaxX: 500200, MaxY: 4000100},
		WidthPx:    20,
		HeightPx:   10,
		Resolution: 10,
	}
	r := mosaic.NewTileRaster(tile)
	for i, name := range mosaic.CanonicalBands {
		r.Bands[name].Fill(float64(i) * 0.1)
	}
	r.Bands[mosaic.BandRed].Set(3, 2, math.NaN())

	dir := t.TempDir()
	path := filepath.Join(dir, "r000c000.tif")
	require.NoError(t, WriteRaster(path, r))

	_, err := os.Stat(path + ".partial")
	assert.True(t, os.IsNotExist(err), "partial file should have renamed away")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	info, bands, err := geotiff.ReadAll(data)
	require.NoError(t, err)

	assert.Equal(t, 32610, info.EPSG)
	assert.Equal(t, 500000.0, info.OriginX)
	assert.Equal(t, 4000100.0, info.OriginY)
	assert.Equal(t, 10.0, info.PixelSize)
	require.Len(t, bands, len(mosaic.CanonicalBands))

	// Band order on disk is canonical order.
	assert.InDelta(t, 0.3, bands[3].Get(0, 0), 1e-6)
	assert.False(t, bands[0].IsValid(3, 2))
	assert.InDelta(t, 0.0, bands[0].Get(0, 0), 1e-6)

	t.Run("Round Trips Through Composite", func(t *testing.T) {
		spec, err := SpecFor([]tiling.Tile{tile})
		require.NoError(t, err)
		out, rep, err := cosineStitcher(5).Composite(context.Background(), []string{path}, spec)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.TileCount)
		assert.InDelta(t, 0.1, out.Bands[mosaic.BandGreen].Get(7, 7), 1e-6)
		assert.False(t, out.Bands[mosaic.BandRed].IsValid(3, 2))
	})

	t.Run("Missing Band Is An Error", func(t *testing.T) {
		delete(r.Bands, mosaic.BandSWIR2)
		err := WriteRaster(filepath.Join(dir, "bad.tif"), r)
		assert.ErrorContains(t, err, "no B12 band")
		_, statErr := os.Stat(filepath.Join(dir, "bad.tif"))
		assert.True(t, os.IsNotExist(statErr))
	})
}
