// Package vegetation turns LANDFIRE raster layers into datasets on the shared
// grid model, ready for bucketing and merging.
package vegetation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/cube"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/blackhillsgeo/datacube/internal/raster"
)

// layerTime is the nominal acquisition time of the LANDFIRE 2.2.0 layers.
// Vegetation data is static; the single timestamp lets a merge broadcast it
// across the climate time axis.
var layerTime = time.Date(2020, time.June, 30, 0, 0, 0, 0, time.UTC)

// Processor converts vegetation rasters into datasets.
type Processor struct {
	region  config.BBox
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewProcessor creates a Processor. A nil metrics disables instrumentation.
func NewProcessor(logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		region:  config.BlackHills,
		logger:  logger,
		metrics: metrics,
	}
}

// VarName derives the dataset variable name from a layer identifier:
// "220EVT" becomes "evt".
func VarName(layerID string) string {
	return strings.ToLower(strings.TrimPrefix(layerID, config.LandfireVersion))
}

// FromGrid builds a dataset from a single-band raster. Rasters already in
// geographic coordinates keep their native axes; projected rasters fall back
// to evenly spaced coordinates spanning the study region, an approximation
// that trades positional accuracy for not requiring a reprojection engine.
func (p *Processor) FromGrid(g *raster.Grid, layerID string) (*cube.Dataset, error) {
	name := VarName(layerID)
	d := cube.NewDataset("landfire_" + name)
	d.Attrs["crs"] = "EPSG:4326"
	d.Attrs["layer"] = layerID

	if g.IsGeographic() {
		d.Lat = append([]float64(nil), g.Y...)
		d.Lon = append([]float64(nil), g.X...)
	} else {
		p.logger.Warn("raster is not in geographic coordinates, using linear approximation",
			"layer", layerID)
		if p.metrics != nil {
			p.metrics.FallbacksUsed.WithLabelValues("reproject").Inc()
		}
		d.Lat = linspace(g.Data.Shape[0], p.region.South, p.region.North)
		d.Lon = linspace(g.Data.Shape[1], p.region.West, p.region.East)
	}

	d.TimeDecoded = true
	d.Time = []time.Time{layerTime}

	data := g.Data.Copy()
	data.Shape = append([]int{1}, data.Shape...)
	v := &cube.Variable{
		Data:    data,
		HasTime: true,
		Attrs:   map[string]string{"source": "LANDFIRE", "layer": layerID},
	}
	if err := d.AddVar(name, v); err != nil {
		return nil, err
	}
	p.logger.Info("built vegetation dataset",
		"layer", layerID, "variable", name,
		"rows", len(d.Lat), "cols", len(d.Lon))
	return d, nil
}

// ProcessFile reads a GeoTIFF and buckets it to the target resolution with
// the given categorical aggregation (mode unless told otherwise).
func (p *Processor) ProcessFile(path, layerID string, bucketDeg float64, method cube.AggMethod) (*cube.Dataset, error) {
	g, err := raster.ReadGeoTIFF(path)
	if err != nil {
		return nil, err
	}
	d, err := p.FromGrid(g, layerID)
	if err != nil {
		return nil, err
	}
	if bucketDeg <= 0 {
		return d, nil
	}
	if method == "" {
		method = cube.AggMode
	}
	out, err := cube.BucketSpatial(d, bucketDeg, method, nil)
	if err != nil {
		return nil, fmt.Errorf("bucketing %s: %w", path, err)
	}
	return out, nil
}

func linspace(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = (lo + hi) / 2
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}
