package geotiff

import(
	"fmt"
	"math"

	"github.com/flutter-gis/flutter-earth-download/pkg/egrid"
)

// Info is a parsed tile header: dimensions, georeferencing, and where
// each band plane sits in the file. Parsing the header is cheap; use
// it to pull single bands without touching the others.
type Info struct {
	Width  int
	Height int
	Bands  int

	EPSG      int
	OriginX   float64
	OriginY   float64
	PixelSize float64

	planeOffsets []uint32
	planeCounts  []uint32
}

type rawEntry struct {
	datatype uint16
	count    uint32
	value    []byte
}

func typeSize(datatype uint16) int {
	switch datatype {
	case dtByte, dtASCII:
		return 1
	case dtShort:
		return 2
	case dtLong, dtFloat:
		return 4
	case dtRational, dtDouble:
		return 8
	}
	return 0
}

func parseIFD(data []byte) (map[uint16]rawEntry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated header")
	}
	if data[0] != 'I' || data[1] != 'I' || data[2] != 0x2A || data[3] != 0x00 {
		return nil, fmt.Errorf("not a little-endian TIFF")
	}
	ifdOff := int(enc.Uint32(data[4:]))
	if ifdOff+2 > len(data) {
		return nil, fmt.Errorf("IFD offset beyond file end")
	}

	n := int(enc.Uint16(data[ifdOff:]))
	entries := make(map[uint16]rawEntry, n)
	for i := 0; i < n; i++ {
		base := ifdOff + 2 + i*12
		if base+12 > len(data) {
			return nil, fmt.Errorf("truncated IFD entry %d", i)
		}
		tag := enc.Uint16(data[base:])
		datatype := enc.Uint16(data[base+2:])
		count := enc.Uint32(data[base+4:])

		size := typeSize(datatype) * int(count)
		if size == 0 {
			continue
		}
		var value []byte
		if size <= 4 {
			value = data[base+8 : base+8+size]
		} else {
			off := int(enc.Uint32(data[base+8:]))
			if off+size > len(data) {
				return nil, fmt.Errorf("tag %d value beyond file end", tag)
			}
			value = data[off : off+size]
		}
		entries[tag] = rawEntry{datatype, count, value}
	}
	return entries, nil
}

func (e rawEntry)uints() []uint32 {
	out := make([]uint32, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.datatype {
		case dtShort:
			out[i] = uint32(enc.Uint16(e.value[i*2:]))
		case dtLong:
			out[i] = enc.Uint32(e.value[i*4:])
		}
	}
	return out
}

func (e rawEntry)doubles() []float64 {
	out := make([]float64, e.count)
	for i := 0; i < int(e.count); i++ {
		out[i] = math.Float64frombits(enc.Uint64(e.value[i*8:]))
	}
	return out
}

func firstUint(entries map[uint16]rawEntry, tag uint16) (uint32, bool) {
	e, ok := entries[tag]
	if !ok {
		return 0, false
	}
	vs := e.uints()
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

// ReadInfo parses the header of an encoded tile. It rejects layouts
// this package never writes rather than guessing at them.
func ReadInfo(data []byte) (Info, error) {
	entries, err := parseIFD(data)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if w, ok := firstUint(entries, tagImageWidth); ok {
		info.Width = int(w)
	}
	if h, ok := firstUint(entries, tagImageLength); ok {
		info.Height = int(h)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("missing image dimensions")
	}

	if c, ok := firstUint(entries, tagCompression); ok && c != 1 {
		return Info{}, fmt.Errorf("compression %d unsupported", c)
	}
	samples, _ := firstUint(entries, tagSamplesPerPixel)
	if samples == 0 {
		samples = 1
	}
	info.Bands = int(samples)
	if pc, ok := firstUint(entries, tagPlanarConfig); ok && pc != planarSeparate && info.Bands > 1 {
		return Info{}, fmt.Errorf("interleaved multi-band layout unsupported")
	}
	for _, b := range entries[tagBitsPerSample].uints() {
		if b != 32 {
			return Info{}, fmt.Errorf("%d-bit samples unsupported", b)
		}
	}
	for _, f := range entries[tagSampleFormat].uints() {
		if f != sampleFormatFloat {
			return Info{}, fmt.Errorf("sample format %d is not IEEE float", f)
		}
	}

	offsets := entries[tagStripOffsets].uints()
	counts := entries[tagStripByteCounts].uints()
	if len(offsets) != info.Bands || len(counts) != info.Bands {
		return Info{}, fmt.Errorf("%d strips for %d bands", len(offsets), info.Bands)
	}
	info.planeOffsets = offsets
	info.planeCounts = counts

	if e, ok := entries[tagModelPixelScale]; ok {
		if ds := e.doubles(); len(ds) >= 1 {
			info.PixelSize = ds[0]
		}
	}
	if e, ok := entries[tagModelTiepoint]; ok {
		if ds := e.doubles(); len(ds) >= 6 {
			info.OriginX = ds[3]
			info.OriginY = ds[4]
		}
	}
	if e, ok := entries[tagGeoKeyDirectory]; ok {
		keys := e.uints()
		// quads of (key id, tag location, count, value), after the
		// 4-entry version header
		for i := 4; i+3 < len(keys); i += 4 {
			if keys[i] == keyProjectedCRS && keys[i+1] == 0 {
				info.EPSG = int(keys[i+3])
			}
		}
	}
	return info, nil
}

// ReadBand decodes one band plane into a grid. NaNs written as
// no-data come back as no-data.
func ReadBand(data []byte, info Info, band int) (*egrid.Grid, error) {
	if band < 0 || band >= info.Bands {
		return nil, fmt.Errorf("band %d out of range [0,%d)", band, info.Bands)
	}
	off := int(info.planeOffsets[band])
	count := int(info.planeCounts[band])
	if want := info.Width * info.Height * 4; count != want {
		return nil, fmt.Errorf("band %d plane is %d bytes, want %d", band, count, want)
	}
	if off+count > len(data) {
		return nil, fmt.Errorf("band %d plane beyond file end", band)
	}

	g := egrid.NewGrid(info.Width, info.Height)
	plane := data[off : off+count]
	i := 0
	for y:=0; y<info.Height; y++ {
		for x:=0; x<info.Width; x++ {
			g.Set(x, y, float64(math.Float32frombits(enc.Uint32(plane[i:]))))
			i += 4
		}
	}
	return &g, nil
}

// ReadAll decodes every band. Convenience for tools; the stitcher
// reads bands one at a time instead.
func ReadAll(data []byte) (Info, []*egrid.Grid, error) {
	info, err := ReadInfo(data)
	if err != nil {
		return Info{}, nil, err
	}
	bands := make([]*egrid.Grid, info.Bands)
	for i := range bands {
		g, err := ReadBand(data, info, i)
		if err != nil {
			return Info{}, nil, err
		}
		bands[i] = g
	}
	return info, bands, nil
}
