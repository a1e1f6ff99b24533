// Command cubebuild merges NetCDF climate files, and optionally a LANDFIRE
// vegetation raster, into one datacube on a shared lat/lon/time grid.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/cube"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/blackhillsgeo/datacube/internal/vegetation"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		out           = flag.String("out", "datacube.nc", "output NetCDF path")
		res           = flag.Float64("res", 0.5, "unified cell size in degrees")
		freq          = flag.String("freq", "ME", "unified time step (ME, QE, YE, or N-day like 7D)")
		interp        = flag.String("interp", "linear", "spatial interpolation: nearest, linear, bilinear, cubic")
		fill          = flag.String("fill", "", "replace missing cells with this value")
		landfireTIFF  = flag.String("landfire", "", "LANDFIRE GeoTIFF to merge in")
		landfireLayer = flag.String("landfire-layer", config.LayerEVT, "LANDFIRE layer identifier")
		coarsenOnly   = flag.Bool("coarsen-only", false, "coarsen a single NetCDF input without merging")
		agg           = flag.String("agg", "mean", "aggregation method for -coarsen-only")
	)
	flag.Parse()

	if flag.NArg() == 0 && *landfireTIFF == "" {
		fmt.Fprintln(os.Stderr, "usage: cubebuild [flags] input.nc [input.nc ...]")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if *coarsenOnly {
		if flag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "-coarsen-only takes exactly one input file")
			return 1
		}
		method, err := cube.ParseAggMethod(*agg)
		if err != nil {
			logger.Error("invalid -agg value", "value", *agg, "error", err)
			return 1
		}
		proc := cube.NewProcessor(logger, metrics)
		d, err := proc.CoarsenFile(flag.Arg(0), *res, *freq, method)
		if err != nil {
			logger.Error("coarsening failed", "path", flag.Arg(0), "error", err)
			return 1
		}
		if err := cube.SaveDataset(*out, d); err != nil {
			logger.Error("saving dataset failed", "path", *out, "error", err)
			return 1
		}
		fmt.Printf("wrote %s: %d variables, %d time steps, %dx%d cells\n",
			*out, len(d.Vars), d.TimeLen(), len(d.Lat), len(d.Lon))
		return 0
	}

	opts := cube.BuilderOptions{
		SpatialRes:   *res,
		TemporalFreq: *freq,
		Interp:       cube.InterpMethod(*interp),
	}
	if *fill != "" {
		v, err := strconv.ParseFloat(*fill, 64)
		if err != nil {
			logger.Error("invalid -fill value", "value", *fill, "error", err)
			return 1
		}
		opts.Fill = &v
	}

	builder, err := cube.NewBuilder(logger, metrics, opts)
	if err != nil {
		logger.Error("builder setup failed", "error", err)
		return 1
	}

	for _, path := range flag.Args() {
		if err := builder.AddFile(path); err != nil {
			logger.Error("loading dataset failed", "path", path, "error", err)
			return 1
		}
	}

	if *landfireTIFF != "" {
		proc := vegetation.NewProcessor(logger, metrics)
		d, err := proc.ProcessFile(*landfireTIFF, *landfireLayer, *res, cube.AggMode)
		if err != nil {
			logger.Error("vegetation processing failed", "path", *landfireTIFF, "error", err)
			return 1
		}
		builder.AddDataset(d)
	}

	merged, err := builder.Build()
	if err != nil {
		logger.Error("merge failed", "error", err)
		return 1
	}
	if err := cube.SaveDataset(*out, merged); err != nil {
		logger.Error("saving datacube failed", "path", *out, "error", err)
		return 1
	}

	fmt.Printf("wrote %s: %d variables, %d time steps, %dx%d cells\n",
		*out, len(merged.Vars), merged.TimeLen(), len(merged.Lat), len(merged.Lon))
	return 0
}
