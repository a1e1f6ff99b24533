package cube

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/interp"
)

// InterpMethod selects how values regrid onto a new coordinate grid.
// Interpolation is separable: a 1-D pass along longitude, then one along
// latitude. Bilinear is therefore the same computation as linear and exists
// as an alias for callers used to raster terminology.
type InterpMethod string

const (
	InterpNearest  InterpMethod = "nearest"
	InterpLinear   InterpMethod = "linear"
	InterpCubic    InterpMethod = "cubic"
	InterpBilinear InterpMethod = "bilinear"
)

// ParseInterpMethod converts a user-supplied string into an InterpMethod.
func ParseInterpMethod(s string) (InterpMethod, error) {
	m := InterpMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case InterpNearest, InterpLinear, InterpCubic, InterpBilinear:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInterpolation, s)
}

// minPoints is the smallest per-axis sample count the method can fit.
func (m InterpMethod) minPoints() int {
	switch m {
	case InterpNearest:
		return 1
	case InterpCubic:
		return 4
	}
	return 2
}

// CanInterpolate probes whether the method can run on axes of the given
// lengths. Callers use this up front instead of trying and inspecting the
// failure afterwards.
func CanInterpolate(m InterpMethod, nLat, nLon int) bool {
	return nLat >= m.minPoints() && nLon >= m.minPoints()
}

func (m InterpMethod) newPredictor() interp.FittablePredictor {
	if m == InterpCubic {
		return &interp.NaturalCubic{}
	}
	return &interp.PiecewiseLinear{}
}

// nearestIndex returns the index of the closest coordinate by linear scan.
// The axis need not be sorted.
func nearestIndex(xs []float64, x float64) int {
	best := 0
	bestDist := math.Abs(xs[0] - x)
	for i, v := range xs[1:] {
		if d := math.Abs(v - x); d < bestDist {
			best = i + 1
			bestDist = d
		}
	}
	return best
}

// ascending returns the axis sorted ascending along with the permutation that
// produced it. Source rasters commonly store latitude descending.
func ascending(xs []float64) ([]float64, []int) {
	n := len(xs)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if n < 2 || xs[0] <= xs[n-1] {
		return xs, perm
	}
	rev := make([]float64, n)
	for i := range xs {
		rev[i] = xs[n-1-i]
		perm[i] = n - 1 - i
	}
	return rev, perm
}

// interpRow interpolates one 1-D series onto targets. Targets outside the
// source extent come back NaN, matching the behavior of array libraries that
// do not extrapolate.
func interpRow(xs, ys, targets []float64, m InterpMethod) ([]float64, error) {
	out := make([]float64, len(targets))
	if m == InterpNearest {
		for i, x := range targets {
			out[i] = ys[nearestIndex(xs, x)]
		}
		return out, nil
	}
	axs, perm := ascending(xs)
	ays := make([]float64, len(ys))
	for i, p := range perm {
		ays[i] = ys[p]
	}
	p := m.newPredictor()
	if err := p.Fit(axs, ays); err != nil {
		return nil, err
	}
	lo, hi := axs[0], axs[len(axs)-1]
	for i, x := range targets {
		if x < lo || x > hi {
			out[i] = math.NaN()
			continue
		}
		out[i] = p.Predict(x)
	}
	return out, nil
}

// regridSlice regrids one [lat][lon] slice with two separable 1-D passes.
func regridSlice(get func(i, j int) float64, srcLat, srcLon, dstLat, dstLon []float64, m InterpMethod) ([][]float64, error) {
	// Pass 1: along longitude for every source latitude row.
	mid := make([][]float64, len(srcLat))
	row := make([]float64, len(srcLon))
	for i := range srcLat {
		for j := range srcLon {
			row[j] = get(i, j)
		}
		r, err := interpRow(srcLon, row, dstLon, m)
		if err != nil {
			return nil, fmt.Errorf("longitude pass: %w", err)
		}
		mid[i] = r
	}
	// Pass 2: along latitude for every target longitude column.
	out := make([][]float64, len(dstLat))
	for i := range out {
		out[i] = make([]float64, len(dstLon))
	}
	col := make([]float64, len(srcLat))
	for j := range dstLon {
		for i := range srcLat {
			col[i] = mid[i][j]
		}
		c, err := interpRow(srcLat, col, dstLat, m)
		if err != nil {
			return nil, fmt.Errorf("latitude pass: %w", err)
		}
		for i := range dstLat {
			out[i][j] = c[i]
		}
	}
	return out, nil
}

// RegridVar resamples a variable from the source grid onto the target grid.
// If the requested method cannot fit the source axes (probed with
// CanInterpolate), it degrades to per-axis nearest-neighbor matching; the
// returned bool reports that fallback.
func RegridVar(v *Variable, srcLat, srcLon, dstLat, dstLon []float64, m InterpMethod) (*Variable, bool, error) {
	fallback := false
	if !CanInterpolate(m, len(srcLat), len(srcLon)) {
		m = InterpNearest
		fallback = true
	}

	nT := 1
	if v.HasTime {
		nT = v.Data.Shape[0]
	}
	var out *sparse.DenseArray
	if v.HasTime {
		out = sparse.ZerosDense(nT, len(dstLat), len(dstLon))
	} else {
		out = sparse.ZerosDense(len(dstLat), len(dstLon))
	}
	for t := 0; t < nT; t++ {
		get := func(i, j int) float64 {
			if v.HasTime {
				return v.Data.Get(t, i, j)
			}
			return v.Data.Get(i, j)
		}
		grid, err := regridSlice(get, srcLat, srcLon, dstLat, dstLon, m)
		if err != nil {
			return nil, fallback, err
		}
		for i := range dstLat {
			for j := range dstLon {
				if v.HasTime {
					out.Set(grid[i][j], t, i, j)
				} else {
					out.Set(grid[i][j], i, j)
				}
			}
		}
	}
	return &Variable{Data: out, HasTime: v.HasTime, Attrs: copyAttrs(v.Attrs)}, fallback, nil
}
