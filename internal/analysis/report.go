package analysis

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteCSV writes the per-class correlation table.
func WriteCSV(path string, stats []ClassStats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"land_cover", "correlation", "p_value", "r_squared",
		"slope", "intercept", "n_cells", "mean_percentage", "max_percentage",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range stats {
		row := []string{
			s.Name,
			formatFloat(s.Correlation),
			formatFloat(s.PValue),
			formatFloat(s.RSquared),
			formatFloat(s.Slope),
			formatFloat(s.Intercept),
			strconv.Itoa(s.N),
			formatFloat(s.MeanPct),
			formatFloat(s.MaxPct),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteCellCSV writes one row per temperature cell: its position, its
// temperature change, and the percentage of every land-cover class within
// it. Cells without a defined temperature change are omitted.
func WriteCellCSV(path string, delta, pct *sparse.DenseArray) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"row", "col", "temp_change"}
	for _, name := range ClassNames {
		header = append(header, "pct_"+slug(name))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	rows := delta.Shape[0]
	cols := delta.Shape[1]
	record := make([]string, 0, len(header))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := delta.Get(r, c)
			if math.IsNaN(d) {
				continue
			}
			record = record[:0]
			record = append(record, strconv.Itoa(r), strconv.Itoa(c), formatFloat(d))
			for class := 0; class < NumClasses; class++ {
				record = append(record, formatFloat(pct.Get(r, c, class)))
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// ScatterPlot renders percentage against temperature change for one class,
// with the fitted regression line, as a PNG.
func ScatterPlot(path string, s ClassStats, xs, ys []float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s\nR² = %.3f, p = %.3f, slope = %.4f °C/%%",
		s.Name, s.RSquared, s.PValue, s.Slope)
	p.X.Label.Text = s.Name + " percentage (%)"
	p.Y.Label.Text = "Temperature change (°C)"

	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("scatter for %s: %w", s.Name, err)
	}
	scatter.GlyphStyle.Radius = vg.Points(2)

	trend := plotter.NewFunction(func(x float64) float64 {
		return s.Intercept + s.Slope*x
	})
	p.Add(scatter, trend)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
