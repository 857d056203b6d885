package bathyreq

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

var (
	// ErrOutsideGrid is returned when a query point falls outside a
	// grid's bounds.
	ErrOutsideGrid = errors.New("point outside grid bounds")

	// ErrNoData is returned when interpolation would read nodata cells.
	ErrNoData = errors.New("no data at query point")
)

// Grid is a bathymetric raster with its coordinate vectors. Values are
// stored row-major with row 0 at the southern edge, so Values[row*Width+col]
// moves north with increasing row and east with increasing col.
type Grid struct {
	Values []float64
	Width  int
	Height int
	Bounds orb.Bound

	// NoData marks cells with no sounding when HasNoData is set.
	NoData    float64
	HasNoData bool
}

// At returns the value at the given column and row.
func (g *Grid) At(col, row int) float64 {
	return g.Values[row*g.Width+col]
}

// LonVec returns the longitude of each column, west to east.
func (g *Grid) LonVec() []float64 {
	return linspace(g.Bounds.Min.X(), g.Bounds.Max.X(), g.Width)
}

// LatVec returns the latitude of each row, south to north.
func (g *Grid) LatVec() []float64 {
	return linspace(g.Bounds.Min.Y(), g.Bounds.Max.Y(), g.Height)
}

// Interpolate returns the bilinearly interpolated value at the given
// coordinate. Queries an epsilon outside the bounds are clamped so that
// points on the edge of a requested box don't fail on float rounding.
func (g *Grid) Interpolate(lon, lat float64) (float64, error) {
	if g.Width < 1 || g.Height < 1 || len(g.Values) < g.Width*g.Height {
		return 0, errors.New("empty grid")
	}

	fx, err := fractionalIndex(lon, g.Bounds.Min.X(), g.Bounds.Max.X(), g.Width)
	if err != nil {
		return 0, fmt.Errorf("longitude %f: %w", lon, err)
	}
	fy, err := fractionalIndex(lat, g.Bounds.Min.Y(), g.Bounds.Max.Y(), g.Height)
	if err != nil {
		return 0, fmt.Errorf("latitude %f: %w", lat, err)
	}

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 > g.Width-1 {
		x1 = g.Width - 1
	}
	if y1 > g.Height-1 {
		y1 = g.Height - 1
	}

	v00 := g.At(x0, y0)
	v10 := g.At(x1, y0)
	v01 := g.At(x0, y1)
	v11 := g.At(x1, y1)

	if g.HasNoData {
		for _, v := range []float64{v00, v10, v01, v11} {
			if v == g.NoData {
				return 0, ErrNoData
			}
		}
	}

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	top := v01 + (v11-v01)*tx
	bottom := v00 + (v10-v00)*tx
	return bottom + (top-bottom)*ty, nil
}

// fractionalIndex maps a coordinate onto the [0, n-1] index range of a
// linspace over [min, max].
func fractionalIndex(v, min, max float64, n int) (float64, error) {
	span := max - min
	if span == 0 || n == 1 {
		// Degenerate axis: every query that isn't wildly off maps to
		// the single column/row.
		if math.Abs(v-min) > 1e-6 {
			return 0, ErrOutsideGrid
		}
		return 0, nil
	}

	eps := span * 1e-7
	if v < min-eps || v > max+eps {
		return 0, ErrOutsideGrid
	}

	f := (v - min) / span * float64(n-1)
	if f < 0 {
		f = 0
	}
	if f > float64(n-1) {
		f = float64(n - 1)
	}
	return f, nil
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}
