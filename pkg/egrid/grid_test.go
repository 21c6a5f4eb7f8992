package egrid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrid(t *testing.T) {
	t.Run("Basic Operations", func(t *testing.T) {
		g := NewGrid(4, 3)
		assert.Equal(t, 4, g.Dx())
		assert.Equal(t, 3, g.Dy())

		g.Set(2, 1, 0.75)
		assert.Equal(t, 0.75, g.Get(2, 1))
		assert.True(t, g.IsValid(2, 1))

		g.Set(2, 1, math.NaN())
		assert.False(t, g.IsValid(2, 1))
	})

	t.Run("NoData Grid", func(t *testing.T) {
		g := NewNoDataGrid(3, 3)
		assert.Equal(t, 0, g.CountValid())
		assert.Equal(t, 0.0, g.ValidFraction())

		g.Set(0, 0, 1.0)
		g.Set(1, 1, 2.0)
		g.Set(2, 2, 3.0)
		assert.Equal(t, 3, g.CountValid())
		assert.InDelta(t, 3.0/9.0, g.ValidFraction(), 1e-12)
	})

	t.Run("Copy Is Independent", func(t *testing.T) {
		g1 := NewGrid(2, 2)
		g1.Set(0, 0, 5.0)
		g2 := g1.Copy()
		g2.Set(0, 0, 9.0)
		assert.Equal(t, 5.0, g1.Get(0, 0))
		assert.Equal(t, 9.0, g2.Get(0, 0))
	})

	t.Run("SubGrid Copies The Window", func(t *testing.T) {
		g1 := NewGrid(4, 3)
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				g1.Set(x, y, float64(y*4+x))
			}
		}

		g2 := g1.SubGrid(1, 1, 2, 2)
		assert.Equal(t, 2, g2.Dx())
		assert.Equal(t, 2, g2.Dy())
		assert.Equal(t, 5.0, g2.Get(0, 0))
		assert.Equal(t, 6.0, g2.Get(1, 0))
		assert.Equal(t, 9.0, g2.Get(0, 1))
		assert.Equal(t, 10.0, g2.Get(1, 1))

		g2.Set(0, 0, -1.0)
		assert.Equal(t, 5.0, g1.Get(1, 1))
	})

	t.Run("MinMax Skips NoData", func(t *testing.T) {
		g := NewNoDataGrid(2, 2)
		g.Set(0, 0, -2.0)
		g.Set(1, 1, 7.0)
		min, max := g.MinMax()
		assert.Equal(t, -2.0, min)
		assert.Equal(t, 7.0, max)
	})

	t.Run("PercentileRange", func(t *testing.T) {
		g := NewGrid(10, 1)
		for x := 0; x < 10; x++ {
			g.Set(x, 0, float64(x))
		}
		lo, hi := g.PercentileRange(0.2, 0.8)
		assert.Equal(t, 2.0, lo)
		assert.Equal(t, 8.0, hi)
	})

	t.Run("DownSample Averages Valid Samples", func(t *testing.T) {
		g := NewNoDataGrid(4, 4)
		// top-left block: three valid samples, one hole
		g.Set(0, 0, 1.0)
		g.Set(1, 0, 2.0)
		g.Set(0, 1, 3.0)

		small := g.DownSample()
		assert.Equal(t, 2, small.Dx())
		assert.Equal(t, 2, small.Dy())
		assert.InDelta(t, 2.0, small.Get(0, 0), 1e-12)
		assert.False(t, small.IsValid(1, 1))
	})
}

func TestBilinearAt(t *testing.T) {
	t.Run("Interpolates Between Samples", func(t *testing.T) {
		g := NewGrid(2, 1)
		g.Set(0, 0, 0.0)
		g.Set(1, 0, 10.0)
		assert.InDelta(t, 5.0, g.BilinearAt(0.5, 0), 1e-9)
		assert.InDelta(t, 2.5, g.BilinearAt(0.25, 0), 1e-9)
	})

	t.Run("Renormalizes Around Holes", func(t *testing.T) {
		g := NewNoDataGrid(2, 1)
		g.Set(0, 0, 4.0)
		// midpoint sample should take the only valid neighbor
		assert.InDelta(t, 4.0, g.BilinearAt(0.5, 0), 1e-9)
	})

	t.Run("NoData When All Neighbors Invalid", func(t *testing.T) {
		g := NewNoDataGrid(2, 2)
		assert.True(t, math.IsNaN(g.BilinearAt(0.5, 0.5)))
		assert.True(t, math.IsNaN(g.BilinearAt(-5, -5)))
	})
}

func TestResample(t *testing.T) {
	t.Run("Identity Preserves Values", func(t *testing.T) {
		src := NewGrid(3, 3)
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				src.Set(x, y, float64(y*3+x))
			}
		}
		dst := NewGrid(3, 3)
		Resample(&dst, &src, Identity())
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				assert.InDelta(t, src.Get(x, y), dst.Get(x, y), 1e-9)
			}
		}
	})

	t.Run("Downscale By Two", func(t *testing.T) {
		src := NewGrid(4, 4)
		src.Fill(3.5)
		dst := NewGrid(2, 2)
		Resample(&dst, &src, Identity().Scale(2, 2))
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				assert.InDelta(t, 3.5, dst.Get(x, y), 1e-9)
			}
		}
	})
}

func TestDistanceToEdge(t *testing.T) {
	t.Run("Border Pixels Are Near The Edge", func(t *testing.T) {
		g := NewGrid(5, 5)
		g.Fill(1.0)
		d := g.DistanceToEdge()
		assert.InDelta(t, 1.0, d.Get(0, 0), 0.5)
		// center of a 5x5 grid is 3 chamfer steps in
		assert.InDelta(t, 3.0, d.Get(2, 2), 0.5)
	})

	t.Run("Zero At NoData", func(t *testing.T) {
		g := NewGrid(5, 5)
		g.Fill(1.0)
		g.Set(2, 2, math.NaN())
		d := g.DistanceToEdge()
		assert.Equal(t, 0.0, d.Get(2, 2))
		assert.InDelta(t, 1.0, d.Get(2, 1), 0.5)
	})

	t.Run("Distance Grows Away From Holes", func(t *testing.T) {
		g := NewGrid(9, 9)
		g.Fill(1.0)
		for y := 0; y < 9; y++ {
			g.Set(0, y, math.NaN())
		}
		d := g.DistanceToEdge()
		prev := 0.0
		for x := 1; x < 5; x++ {
			assert.Greater(t, d.Get(x, 4), prev)
			prev = d.Get(x, 4)
		}
	})
}

func TestAffine(t *testing.T) {
	t.Run("Translate Then Scale", func(t *testing.T) {
		// compose back to front - rightmost operations performed first
		m := Identity().Scale(2, 2).Translate(1, 1)
		x, y := m.Apply(3, 4)
		assert.InDelta(t, 8.0, x, 1e-9)
		assert.InDelta(t, 10.0, y, 1e-9)
	})

	t.Run("Invert Round Trips", func(t *testing.T) {
		m := Identity().Translate(120.5, -33.25).Scale(5, -5)
		inv := m.Invert()
		x, y := m.Apply(17, 23)
		rx, ry := inv.Apply(x, y)
		assert.InDelta(t, 17.0, rx, 1e-9)
		assert.InDelta(t, 23.0, ry, 1e-9)
	})
}
