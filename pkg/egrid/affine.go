package egrid

// Affine transforms between world (projected meters) and pixel
// coordinates. Satellite grids never rotate, so these compose from
// translations and scales only, but the general form keeps the
// resampler simple.

import(
	"math"

	"golang.org/x/image/math/f64"  // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

func Identity() Aff3 {
	return Aff3{1, 0, 0,   0, 1, 0}
}

func (p Aff3)Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func (m1 Aff3)Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx,   0, 1, ty})
}

func (m1 Aff3)Scale(sx, sy float64) Aff3 {
	return m1.Mult(Aff3{sx, 0, 0,   0, sy, 0})
}

// Apply maps a point through the transform.
func (m Aff3)Apply(x, y float64) (float64, float64) {
	return m[3*0+0]*x + m[3*0+1]*y + m[3*0+2],
		m[3*1+0]*x + m[3*1+1]*y + m[3*1+2]
}

// Invert returns the inverse transform. Panics on a degenerate
// matrix; geo transforms always have nonzero pixel sizes.
func (m Aff3)Invert() Aff3 {
	det := m[3*0+0]*m[3*1+1] - m[3*0+1]*m[3*1+0]
	if math.Abs(det) < 1e-12 {
		panic("egrid: inverting a degenerate affine transform")
	}
	return Aff3{
		m[3*1+1] / det,
		-m[3*0+1] / det,
		(m[3*0+1]*m[3*1+2] - m[3*0+2]*m[3*1+1]) / det,
		-m[3*1+0] / det,
		m[3*0+0] / det,
		(m[3*0+2]*m[3*1+0] - m[3*0+0]*m[3*1+2]) / det,
	}
}
