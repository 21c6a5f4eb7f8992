package egrid

import(
	"math"
)

// BilinearAt samples the grid at a fractional position. Weights of
// no-data neighbors are dropped and the rest renormalized, so a
// no-data hole doesn't bleed NaN into every pixel near it; the sample
// is no-data only when all four neighbors are.
func (g *Grid)BilinearAt(fx, fy float64) float64 {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)

	sum, wSum := 0.0, 0.0
	for _, s := range []struct{
		x, y int
		w    float64
	}{
		{x0,   y0,   (1-dx) * (1-dy)},
		{x0+1, y0,   dx     * (1-dy)},
		{x0,   y0+1, (1-dx) * dy},
		{x0+1, y0+1, dx     * dy},
	} {
		if s.x < 0 || s.y < 0 || s.x >= g.Dx() || s.y >= g.Dy() { continue }
		if s.w <= 0 { continue }
		v := g.Get(s.x, s.y)
		if math.IsNaN(v) { continue }
		sum += v * s.w
		wSum += s.w
	}

	if wSum <= 0 {
		return math.NaN()
	}
	return sum / wSum
}

// Resample fills dst by mapping each of its pixel centers through
// dstToSrc into src coordinates and sampling bilinearly. Pixels that
// land outside src come back as no-data.
func Resample(dst, src *Grid, dstToSrc Aff3) {
	for y:=0; y<dst.Dy(); y++ {
		for x:=0; x<dst.Dx(); x++ {
			sx, sy := dstToSrc.Apply(float64(x)+0.5, float64(y)+0.5)
			dst.Set(x, y, src.BilinearAt(sx-0.5, sy-0.5))
		}
	}
}

// ResampleNearest is the blunt version, for categorical grids that
// must never blend across class boundaries.
func ResampleNearest(dst, src *Grid, dstToSrc Aff3) {
	for y:=0; y<dst.Dy(); y++ {
		for x:=0; x<dst.Dx(); x++ {
			sx, sy := dstToSrc.Apply(float64(x)+0.5, float64(y)+0.5)
			ix := int(math.Floor(sx))
			iy := int(math.Floor(sy))
			if ix < 0 || iy < 0 || ix >= src.Dx() || iy >= src.Dy() {
				dst.Set(x, y, math.NaN())
				continue
			}
			dst.Set(x, y, src.Get(ix, iy))
		}
	}
}
