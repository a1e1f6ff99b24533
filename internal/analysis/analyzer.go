package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"github.com/blackhillsgeo/datacube/internal/raster"
)

// Inputs names the rasters an analysis run consumes and where it writes.
type Inputs struct {
	HistoricalGlob string // seasonal temperature GeoTIFFs, baseline period
	FutureGlob     string // seasonal temperature GeoTIFFs, projection period
	LandcoverPath  string // fine-resolution classified land-cover GeoTIFF
	OutDir         string
}

// Analyzer runs the land-cover vs. temperature-change analysis end to end.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Run loads the rasters, fits the per-class models, and writes the
// correlation table, the per-cell dataset, and one scatter plot per class.
// Results come back sorted by explanatory power.
func (a *Analyzer) Run(in Inputs) ([]ClassStats, error) {
	historical, err := loadGrids(in.HistoricalGlob)
	if err != nil {
		return nil, fmt.Errorf("historical rasters: %w", err)
	}
	future, err := loadGrids(in.FutureGlob)
	if err != nil {
		return nil, fmt.Errorf("future rasters: %w", err)
	}
	landcover, err := raster.ReadGeoTIFF(in.LandcoverPath)
	if err != nil {
		return nil, fmt.Errorf("land cover raster: %w", err)
	}
	a.logger.Info("loaded analysis inputs",
		"historical", len(historical), "future", len(future),
		"landcover_shape", landcover.Data.Shape)

	delta, err := TemperatureDelta(historical, future)
	if err != nil {
		return nil, err
	}
	a.logger.Info("computed temperature change",
		"mean_c", gridMean(delta), "cells", len(delta.Elements))

	pct, err := CoverPercentages(landcover, historical[0])
	if err != nil {
		return nil, err
	}

	stats := Correlate(delta, pct)
	sort.Slice(stats, func(i, j int) bool {
		return math.Abs(stats[i].RSquared) > math.Abs(stats[j].RSquared)
	})

	if err := WriteCSV(filepath.Join(in.OutDir, "landcover_percentage_correlations.csv"), stats); err != nil {
		return nil, err
	}
	if err := WriteCellCSV(filepath.Join(in.OutDir, "cell_landcover_temperature.csv"), delta, pct); err != nil {
		return nil, err
	}
	for _, s := range stats {
		xs, ys := classSamples(delta, pct, s.Class)
		path := filepath.Join(in.OutDir, fmt.Sprintf("scatter_%s.png", slug(s.Name)))
		if err := ScatterPlot(path, s, xs, ys); err != nil {
			return nil, err
		}
	}

	for _, s := range stats {
		a.logger.Info("class fitted", "class", s.Name,
			"r_squared", s.RSquared, "slope_c_per_pct", s.Slope,
			"p_value", s.PValue, "cells", s.N)
	}
	return stats, nil
}

func loadGrids(pattern string) ([]*raster.Grid, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match %q", pattern)
	}
	sort.Strings(paths)
	grids := make([]*raster.Grid, 0, len(paths))
	for _, p := range paths {
		g, err := raster.ReadGeoTIFF(p)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}
	return grids, nil
}
