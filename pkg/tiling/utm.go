package tiling

import(
	"fmt"
	"math"
)

// WGS84 ellipsoid and the standard UTM scale factor.
const(
	wgs84A       = 6378137.0
	wgs84F       = 1.0 / 298.257223563
	utmK0        = 0.9996
	utmFalseEast = 500000.0
	utmFalseNorthSouthern = 10000000.0

	// Tiles with an edge shorter than this get merged into their
	// neighbor rather than processed as slivers.
	MinTileEdgePx = 256
)

// UTMZone returns the UTM zone number and EPSG code for a lon/lat
// point. EPSG 326xx north of the equator, 327xx south.
func UTMZone(lon, lat float64) (int, int) {
	zone := int((lon+180.0)/6.0) + 1
	if zone < 1 { zone = 1 }
	if zone > 60 { zone = 60 }
	if lat >= 0 {
		return zone, 32600 + zone
	}
	return zone, 32700 + zone
}

// ToUTM projects a WGS84 lon/lat into the given zone's transverse
// mercator easting/northing, using the classic Snyder series. Good to
// well under a meter inside the zone, which is far below the pixel
// sizes this engine handles.
func ToUTM(lon, lat float64, zone int, south bool) (float64, float64) {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180.0
	lam := lon * math.Pi / 180.0
	lam0 := (float64(zone-1)*6.0 - 180.0 + 3.0) * math.Pi / 180.0

	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * (lam - lam0)

	m := wgs84A * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*phi -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*phi) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*phi) -
		(35*e2*e2*e2/3072)*math.Sin(6*phi))

	x := utmK0*n*(a+(1-t+c)*a*a*a/6+(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + utmFalseEast
	y := utmK0 * (m + n*tanPhi*(a*a/2+(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))

	if south {
		y += utmFalseNorthSouthern
	}
	return x, y
}

// A Tile is one independently-processed square of the request area,
// georeferenced in a single UTM zone.
type Tile struct {
	ID         string
	Row, Col   int
	EPSG       int
	Bounds     Bounds  // projected meters
	WidthPx    int
	HeightPx   int
	Resolution float64 // meters per pixel
}

// MakeTiles projects the request box into the UTM zone of its center
// and cuts it into a row/col grid of square tiles, tileSizePx pixels
// on a side at the target resolution. Partial edge tiles shorter than
// MinTileEdgePx merge into their neighbor, so no sliver tiles come
// out of this.
func MakeTiles(box LonLatBox, tileSizePx int, resolution float64) ([]Tile, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if tileSizePx < MinTileEdgePx {
		return nil, fmt.Errorf("tile size %dpx below minimum %dpx", tileSizePx, MinTileEdgePx)
	}

	cLon, cLat := box.Center()
	zone, epsg := UTMZone(cLon, cLat)
	south := cLat < 0

	// Project the box corners; take the envelope, since projected
	// edges bow slightly.
	x0, y0 := ToUTM(box.West, box.South, zone, south)
	x1, y1 := ToUTM(box.East, box.South, zone, south)
	x2, y2 := ToUTM(box.West, box.North, zone, south)
	x3, y3 := ToUTM(box.East, box.North, zone, south)
	env := Bounds{
		MinX: minf(minf(x0, x1), minf(x2, x3)),
		MinY: minf(minf(y0, y1), minf(y2, y3)),
		MaxX: maxf(maxf(x0, x1), maxf(x2, x3)),
		MaxY: maxf(maxf(y0, y1), maxf(y2, y3)),
	}

	tileM := float64(tileSizePx) * resolution
	nCols := int(math.Ceil(env.Width() / tileM))
	nRows := int(math.Ceil(env.Height() / tileM))
	if nCols < 1 { nCols = 1 }
	if nRows < 1 { nRows = 1 }

	// Widths of the final row/col; if the remainder is a sliver,
	// fold it into the previous row/col.
	lastColM := env.Width() - float64(nCols-1)*tileM
	lastRowM := env.Height() - float64(nRows-1)*tileM
	minEdgeM := float64(MinTileEdgePx) * resolution
	if nCols > 1 && lastColM < minEdgeM {
		nCols--
		lastColM += tileM
	}
	if nRows > 1 && lastRowM < minEdgeM {
		nRows--
		lastRowM += tileM
	}

	tiles := make([]Tile, 0, nCols*nRows)
	for row:=0; row<nRows; row++ {
		for col:=0; col<nCols; col++ {
			b := Bounds{
				MinX: env.MinX + float64(col)*tileM,
				MinY: env.MinY + float64(row)*tileM,
				MaxX: env.MinX + float64(col+1)*tileM,
				MaxY: env.MinY + float64(row+1)*tileM,
			}
			if col == nCols-1 { b.MaxX = env.MinX + float64(nCols-1)*tileM + lastColM }
			if row == nRows-1 { b.MaxY = env.MinY + float64(nRows-1)*tileM + lastRowM }

			tiles = append(tiles, Tile{
				ID:         fmt.Sprintf("r%03dc%03d", row, col),
				Row:        row,
				Col:        col,
				EPSG:       epsg,
				Bounds:     b,
				WidthPx:    int(math.Round(b.Width() / resolution)),
				HeightPx:   int(math.Round(b.Height() / resolution)),
				Resolution: resolution,
			})
		}
	}

	return tiles, nil
}
