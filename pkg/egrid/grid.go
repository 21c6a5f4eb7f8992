package egrid

import(
	"fmt"
	"math"
	"sort"
)

// A Grid is a rectangular raster of float64 samples for one spectral
// band. NaN marks no-data (never observed, masked cloud, or outside
// the scene footprint). All the engine's per-pixel arithmetic happens
// on these.
type Grid struct {
	stride int
	values []float64
}

func NewGrid(w, h int) Grid {
	return Grid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewNoDataGrid returns a grid with every sample set to no-data,
// ready to be composited into.
func NewNoDataGrid(w, h int) Grid {
	g := NewGrid(w, h)
	g.Fill(math.NaN())
	return g
}

func (g1 *Grid)NewFromThis() Grid         { return NewGrid(g1.Dx(), g1.Dy()) }
func (g *Grid)Set(x, y int, v float64)    { g.values[g.stride*y + x] = v }
func (g *Grid)Get(x, y int) float64       { return g.values[g.stride*y + x] }
func (g *Grid)Dx() int                    { return g.stride }
func (g *Grid)Dy() int                    { return len(g.values) / g.stride }
func (g *Grid)IsValid(x, y int) bool      { return !math.IsNaN(g.values[g.stride*y + x]) }

func (g1 *Grid)Copy() *Grid {
	g2 := Grid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

func (g *Grid)Fill(v float64) {
	for i := range g.values {
		g.values[i] = v
	}
}

func (g *Grid)CountValid() int {
	n := 0
	for i:=0; i<len(g.values); i++ {
		if !math.IsNaN(g.values[i]) { n++ }
	}
	return n
}

// ValidFraction is the fraction of samples holding data; this is what
// coverage measurement folds over the RGB bands.
func (g *Grid)ValidFraction() float64 {
	if len(g.values) == 0 {
		return 0
	}
	return float64(g.CountValid()) / float64(len(g.values))
}

// ValidValues returns the data samples, skipping no-data, for
// summary statistics.
func (g *Grid)ValidValues() []float64 {
	out := make([]float64, 0, len(g.values))
	for i:=0; i<len(g.values); i++ {
		if !math.IsNaN(g.values[i]) {
			out = append(out, g.values[i])
		}
	}
	return out
}

func (g *Grid)MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min

	for i:=0; i<len(g.values); i++ {
		if math.IsNaN(g.values[i]) { continue }
		if g.values[i] > max { max = g.values[i] }
		if g.values[i] < min { min = g.values[i] }
	}
	return min, max
}

// PercentileRange returns the values at the given percentiles of the
// valid samples, for contrast-stretching renders. Percentiles in [0,1].
func (g *Grid)PercentileRange(loPrct, hiPrct float64) (float64, float64) {
	vals := g.ValidValues()
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Float64s(vals)

	iLo := int(loPrct * float64(len(vals)))
	iHi := int(hiPrct * float64(len(vals)))
	if iLo < 0           { iLo = 0 }
	if iHi >= len(vals)  { iHi = len(vals)-1 }

	return vals[iLo], vals[iHi]
}

// DownSample returns a grid 1/4 the size, each sample the mean of the
// valid samples in the source 2x2 block; no-data only when the whole
// block is no-data.
func (g1 *Grid)DownSample() Grid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewGrid(width, height)

	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			sum, n := 0.0, 0
			for _, v := range []float64{g1.Get(2*x, 2*y), g1.Get(2*x+1, 2*y), g1.Get(2*x, 2*y+1), g1.Get(2*x+1, 2*y+1)} {
				if !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n > 0 {
				g2.Set(x, y, sum/float64(n))
			} else {
				g2.Set(x, y, math.NaN())
			}
		}
	}

	return g2
}

// SubGrid copies out the w x h window whose top-left sample is
// (x0, y0). The window must lie inside the grid.
func (g1 *Grid)SubGrid(x0, y0, w, h int) Grid {
	g2 := NewGrid(w, h)
	for y:=0; y<h; y++ {
		copy(g2.values[y*w:(y+1)*w], g1.values[(y0+y)*g1.stride + x0 : (y0+y)*g1.stride + x0 + w])
	}
	return g2
}

func (g *Grid)Stats() string {
	min, max := g.MinMax()
	return fmt.Sprintf("grid[%dx%d, vals{%f,%f}, %.1f%% valid]", g.Dx(), g.Dy(), min, max, g.ValidFraction()*100.0)
}
