// Package analysis relates land-cover composition to projected temperature
// change: for each land-cover class, how does the share of that class within
// a coarse temperature cell correlate with the warming of that cell?
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/blackhillsgeo/datacube/internal/raster"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NumClasses is the number of Dynamic World land-cover classes.
const NumClasses = 9

// ClassNames maps Dynamic World class codes to display names.
var ClassNames = [NumClasses]string{
	"Water",
	"Trees",
	"Grass",
	"Flooded vegetation",
	"Crops",
	"Shrub & Scrub",
	"Built",
	"Bare",
	"Snow & Ice",
}

// kelvinThreshold separates Kelvin from Celsius grids. Seasonal maxima in
// either unit never come near 200.
const kelvinThreshold = 200.0

// minSamples is the smallest point count worth fitting a regression to.
const minSamples = 6

// ErrShapeMismatch reports temperature grids of differing dimensions.
var ErrShapeMismatch = errors.New("analysis: temperature grids have mismatched shapes")

// ClassStats summarizes the relationship between one land-cover class and
// temperature change across all cells where the class is present.
type ClassStats struct {
	Class       int
	Name        string
	Correlation float64
	PValue      float64
	RSquared    float64
	Slope       float64 // degrees C per percentage point
	Intercept   float64
	N           int
	MeanPct     float64
	MaxPct      float64
}

// TemperatureDelta averages each set of seasonal grids and returns the
// cell-wise difference future minus historical, in degrees Celsius. Grids
// whose mean exceeds kelvinThreshold are converted from Kelvin first.
func TemperatureDelta(historical, future []*raster.Grid) (*sparse.DenseArray, error) {
	h, err := meanGrid(historical)
	if err != nil {
		return nil, fmt.Errorf("historical: %w", err)
	}
	f, err := meanGrid(future)
	if err != nil {
		return nil, fmt.Errorf("future: %w", err)
	}
	if h.Shape[0] != f.Shape[0] || h.Shape[1] != f.Shape[1] {
		return nil, ErrShapeMismatch
	}
	delta := sparse.ZerosDense(h.Shape...)
	for i := range delta.Elements {
		delta.Elements[i] = f.Elements[i] - h.Elements[i]
	}
	return delta, nil
}

func meanGrid(grids []*raster.Grid) (*sparse.DenseArray, error) {
	if len(grids) == 0 {
		return nil, errors.New("analysis: no grids")
	}
	shape := grids[0].Data.Shape
	out := sparse.ZerosDense(shape...)
	for _, g := range grids {
		if g.Data.Shape[0] != shape[0] || g.Data.Shape[1] != shape[1] {
			return nil, ErrShapeMismatch
		}
		data := g.Data
		if gridMean(data) > kelvinThreshold {
			data = data.Copy()
			for i, v := range data.Elements {
				data.Elements[i] = v - 273.15
			}
		}
		for i, v := range data.Elements {
			out.Elements[i] += v
		}
	}
	n := float64(len(grids))
	for i := range out.Elements {
		out.Elements[i] /= n
	}
	return out, nil
}

func gridMean(a *sparse.DenseArray) float64 {
	sum, n := 0.0, 0
	for _, v := range a.Elements {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// CoverPercentages computes, for every temperature cell, the percentage of
// each land-cover class among the fine land-cover pixels that fall inside
// it. The block size comes from the ratio of the two pixel sizes. The result
// has shape [rows][cols][NumClasses]; cells with no valid land-cover pixels
// stay at zero.
func CoverPercentages(landcover, temperature *raster.Grid) (*sparse.DenseArray, error) {
	perY, err := pixelRatio(temperature.Y, landcover.Y)
	if err != nil {
		return nil, err
	}
	perX, err := pixelRatio(temperature.X, landcover.X)
	if err != nil {
		return nil, err
	}

	rows := temperature.Data.Shape[0]
	cols := temperature.Data.Shape[1]
	lcRows := landcover.Data.Shape[0]
	lcCols := landcover.Data.Shape[1]
	pct := sparse.ZerosDense(rows, cols, NumClasses)

	var counts [NumClasses]int
	for r := 0; r < rows; r++ {
		r0 := r * perY
		r1 := min(r0+perY, lcRows)
		for c := 0; c < cols; c++ {
			c0 := c * perX
			c1 := min(c0+perX, lcCols)

			for i := range counts {
				counts[i] = 0
			}
			valid := 0
			for i := r0; i < r1; i++ {
				for j := c0; j < c1; j++ {
					v := landcover.Data.Get(i, j)
					if math.IsNaN(v) {
						continue
					}
					class := int(v)
					if class < 0 || class >= NumClasses {
						continue
					}
					counts[class]++
					valid++
				}
			}
			if valid == 0 {
				continue
			}
			for class, n := range counts {
				pct.Set(float64(n)/float64(valid)*100, r, c, class)
			}
		}
	}
	return pct, nil
}

// pixelRatio returns how many fine pixels span one coarse pixel.
func pixelRatio(coarse, fine []float64) (int, error) {
	if len(coarse) < 2 || len(fine) < 2 {
		return 0, errors.New("analysis: axes need at least two coordinates")
	}
	ratio := math.Abs(coarse[1]-coarse[0]) / math.Abs(fine[1]-fine[0])
	n := int(math.Round(ratio))
	if n < 1 {
		return 0, fmt.Errorf("analysis: land cover is coarser than temperature (ratio %.3f)", ratio)
	}
	return n, nil
}

// Correlate fits a per-class linear model of temperature change against
// land-cover percentage. Classes absent from the study region, or present in
// too few cells, are left out of the result.
func Correlate(delta, pct *sparse.DenseArray) []ClassStats {
	var out []ClassStats
	for class := 0; class < NumClasses; class++ {
		xs, ys := classSamples(delta, pct, class)
		if len(xs) < minSamples {
			continue
		}

		r := stat.Correlation(xs, ys, nil)
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		r2 := stat.RSquared(xs, ys, nil, alpha, beta)

		out = append(out, ClassStats{
			Class:       class,
			Name:        ClassNames[class],
			Correlation: r,
			PValue:      pearsonPValue(r, len(xs)),
			RSquared:    r2,
			Slope:       beta,
			Intercept:   alpha,
			N:           len(xs),
			MeanPct:     stat.Mean(xs, nil),
			MaxPct:      floats.Max(xs),
		})
	}
	return out
}

// classSamples collects (percentage, delta) pairs for cells where the class
// is present and the temperature change is defined.
func classSamples(delta, pct *sparse.DenseArray, class int) (xs, ys []float64) {
	rows := delta.Shape[0]
	cols := delta.Shape[1]
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := delta.Get(r, c)
			if math.IsNaN(d) {
				continue
			}
			p := pct.Get(r, c, class)
			if p <= 0 {
				continue
			}
			xs = append(xs, p)
			ys = append(ys, d)
		}
	}
	return xs, ys
}

// pearsonPValue is the two-sided p-value of a Pearson correlation under the
// t distribution with n-2 degrees of freedom.
func pearsonPValue(r float64, n int) float64 {
	if n <= 2 {
		return math.NaN()
	}
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(t)
}
