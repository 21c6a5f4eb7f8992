package tiling

import(
	"fmt"
)

// Bounds is an axis-aligned box in projected coordinates (meters).
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Bounds)Width() float64  { return b.MaxX - b.MinX }
func (b Bounds)Height() float64 { return b.MaxY - b.MinY }
func (b Bounds)IsEmpty() bool   { return b.MaxX <= b.MinX || b.MaxY <= b.MinY }

func (b Bounds)Intersects(o Bounds) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

func (b Bounds)Intersection(o Bounds) Bounds {
	r := Bounds{
		MinX: maxf(b.MinX, o.MinX),
		MinY: maxf(b.MinY, o.MinY),
		MaxX: minf(b.MaxX, o.MaxX),
		MaxY: minf(b.MaxY, o.MaxY),
	}
	if r.IsEmpty() {
		return Bounds{}
	}
	return r
}

func (b Bounds)Union(o Bounds) Bounds {
	if b.IsEmpty() { return o }
	if o.IsEmpty() { return b }
	return Bounds{
		MinX: minf(b.MinX, o.MinX),
		MinY: minf(b.MinY, o.MinY),
		MaxX: maxf(b.MaxX, o.MaxX),
		MaxY: maxf(b.MaxY, o.MaxY),
	}
}

func (b Bounds)String() string {
	return fmt.Sprintf("[%.1f,%.1f - %.1f,%.1f]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// LonLatBox is a request area in WGS84 degrees.
type LonLatBox struct {
	West, South, East, North float64
}

func (ll LonLatBox)Center() (float64, float64) {
	return (ll.West + ll.East) / 2, (ll.South + ll.North) / 2
}

func (ll LonLatBox)Validate() error {
	if ll.East <= ll.West {
		return fmt.Errorf("bbox: east (%f) must exceed west (%f)", ll.East, ll.West)
	}
	if ll.North <= ll.South {
		return fmt.Errorf("bbox: north (%f) must exceed south (%f)", ll.North, ll.South)
	}
	if ll.South < -80 || ll.North > 84 {
		return fmt.Errorf("bbox: latitudes outside UTM coverage [-80,84]")
	}
	return nil
}

func minf(a, b float64) float64 { if a < b { return a }; return b }
func maxf(a, b float64) float64 { if a > b { return a }; return b }
