// Command analyze relates land-cover composition to projected temperature
// change: it fits a per-class linear model of warming against the share of
// each land-cover class in every temperature cell, then writes a correlation
// table, a per-cell dataset, and scatter plots.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/blackhillsgeo/datacube/internal/analysis"
	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		historical = flag.String("historical", "", "glob of baseline seasonal temperature GeoTIFFs")
		future     = flag.String("future", "", "glob of projected seasonal temperature GeoTIFFs")
		landcover  = flag.String("landcover", "", "classified land-cover GeoTIFF")
		outDir     = flag.String("out", "analysis", "output directory")
	)
	flag.Parse()

	if *historical == "" || *future == "" || *landcover == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -historical GLOB -future GLOB -landcover FILE [-out DIR]")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := observability.NewLogger(cfg)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Error("creating output directory", "path", *outDir, "error", err)
		return 1
	}

	stats, err := analysis.NewAnalyzer(logger).Run(analysis.Inputs{
		HistoricalGlob: *historical,
		FutureGlob:     *future,
		LandcoverPath:  *landcover,
		OutDir:         *outDir,
	})
	if err != nil {
		logger.Error("analysis failed", "error", err)
		return 1
	}
	if len(stats) == 0 {
		fmt.Println("no land-cover class had enough cells to fit")
		return 0
	}

	strongest := stats[0]
	fmt.Printf("strongest relationship: %s (R² = %.3f, %.4f °C per %%)\n",
		strongest.Name, strongest.RSquared, strongest.Slope)
	for _, s := range stats {
		direction := "warming"
		if s.Slope < 0 {
			direction = "cooling"
		}
		fmt.Printf("  %-20s %s  slope %+.4f °C/%%  r %+.3f  p %.3g  n %d\n",
			s.Name, direction, s.Slope, s.Correlation, s.PValue, s.N)
	}
	fmt.Println("results written to", *outDir)
	return 0
}
