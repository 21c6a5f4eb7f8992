// Package geotiff reads and writes the tile mosaic interchange
// format: single-IFD little-endian GeoTIFF, 32-bit IEEE float
// samples, one uncompressed strip per band plane, georeferencing via
// the ModelPixelScale/ModelTiepoint tags and an EPSG geokey. NaN is
// the no-data value, declared through the GDAL_NODATA tag so other
// tools agree with us about holes.
package geotiff

import(
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
)

const(
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtFloat    = 11
	dtDouble   = 12

	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113

	sampleFormatFloat = 3
	planarSeparate    = 2
	photometricMinIsBlack = 1
)

// GeoTIFF geokeys; just the three every GIS reader needs to place
// the raster.
const(
	keyModelType    = 1024
	keyRasterType   = 1025
	keyProjectedCRS = 3072

	modelTypeProjected = 1
	rasterPixelIsArea  = 1
)

var enc = binary.LittleEndian

// A Georef anchors pixel (0,0)'s outer corner to projected
// coordinates. OriginY is the NORTH edge; rows run southward.
type Georef struct {
	EPSG      int
	OriginX   float64
	OriginY   float64
	PixelSize float64 // meters per pixel, square pixels
}

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag)Len() int           { return len(d) }
func (d byTag)Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag)Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// Encode writes the band grids as one multi-band float32 GeoTIFF.
// All grids must share dimensions; band order is preserved on read.
func Encode(w io.Writer, bands []*egrid.Grid, ref Georef) error {
	if len(bands) == 0 {
		return fmt.Errorf("no bands to encode")
	}
	width, height := bands[0].Dx(), bands[0].Dy()
	for i, g := range bands {
		if g.Dx() != width || g.Dy() != height {
			return fmt.Errorf("band %d is %dx%d, band 0 is %dx%d", i, g.Dx(), g.Dy(), width, height)
		}
	}

	// IFD layout: header, IFD table, oversized tag values, then the
	// band planes back to back. All offsets are computable up front.
	var entries []ifdEntry
	addEntry := func(tag, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	nBands := len(bands)
	planeLen := uint32(width * height * 4)

	bits := make([]uint16, nBands)
	formats := make([]uint16, nBands)
	counts := make([]uint32, nBands)
	for i := range bits {
		bits[i] = 32
		formats[i] = sampleFormatFloat
		counts[i] = planeLen
	}

	addEntry(tagImageWidth, dtLong, 1, enc32(uint32(width)))
	addEntry(tagImageLength, dtLong, 1, enc32(uint32(height)))
	addEntry(tagBitsPerSample, dtShort, uint32(nBands), enc16s(bits))
	addEntry(tagCompression, dtShort, 1, enc16(1)) // none
	addEntry(tagPhotometric, dtShort, 1, enc16(photometricMinIsBlack))
	addEntry(tagSamplesPerPixel, dtShort, 1, enc16(uint16(nBands)))
	addEntry(tagRowsPerStrip, dtLong, 1, enc32(uint32(height)))
	addEntry(tagPlanarConfig, dtShort, 1, enc16(planarSeparate))
	addEntry(tagSampleFormat, dtShort, uint32(nBands), enc16s(formats))
	addEntry(tagStripByteCounts, dtLong, uint32(nBands), enc32s(counts))

	addEntry(tagModelPixelScale, dtDouble, 3,
		encDoubles([]float64{ref.PixelSize, ref.PixelSize, 0}))
	addEntry(tagModelTiepoint, dtDouble, 6,
		encDoubles([]float64{0, 0, 0, ref.OriginX, ref.OriginY, 0}))
	addEntry(tagGeoKeyDirectory, dtShort, 16, enc16s([]uint16{
		1, 1, 0, 3, // version, revision, minor, key count
		keyModelType, 0, 1, modelTypeProjected,
		keyRasterType, 0, 1, rasterPixelIsArea,
		keyProjectedCRS, 0, 1, uint16(ref.EPSG),
	}))
	addEntry(tagGDALNoData, dtASCII, 4, append([]byte("nan"), 0))

	// StripOffsets filled in below, once the data area size is known.
	addEntry(tagStripOffsets, dtLong, uint32(nBands), make([]byte, 4*nBands))

	sort.Sort(byTag(entries))

	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	// First pass: total size of the oversized-value area. StripOffsets
	// itself lives there whenever there is more than one band.
	largeLen := 0
	for _, e := range entries {
		if len(e.data) > 4 {
			largeLen += len(e.data)
		}
	}
	planesOffset := uint32(valueDataOffset + largeLen)

	offsets := make([]uint32, nBands)
	for i := range offsets {
		offsets[i] = planesOffset + uint32(i)*planeLen
	}
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			if nBands == 1 {
				entries[i].data = enc32(offsets[0])
			} else {
				entries[i].data = enc32s(offsets)
			}
		}
	}

	// Second pass: spill oversized values and rewrite their entries
	// as offsets.
	var largeBuf bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		off := uint32(valueDataOffset + largeBuf.Len())
		largeBuf.Write(e.data)
		e.data = enc32(off)
	}

	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil { return err }
		if err := binary.Write(w, enc, e.datatype); err != nil { return err }
		if err := binary.Write(w, enc, e.count); err != nil { return err }
		var val [4]byte
		copy(val[:], e.data)
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, enc, uint32(0)); err != nil { // no next IFD
		return err
	}
	if _, err := largeBuf.WriteTo(w); err != nil {
		return err
	}

	plane := make([]byte, planeLen)
	for _, g := range bands {
		i := 0
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				enc.PutUint32(plane[i:], math.Float32bits(float32(g.Get(x, y))))
				i += 4
			}
		}
		if _, err := w.Write(plane); err != nil {
			return err
		}
	}
	return nil
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func enc32s(vs []uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		enc.PutUint32(b[i*4:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}
