package cube

import (
	"fmt"
	"log/slog"

	"github.com/blackhillsgeo/datacube/internal/observability"
)

// Processor coarsens a single source dataset to a target resolution before it
// joins a merge: temporal bucketing first (fewer time steps make the spatial
// pass cheaper), then spatial bucketing.
type Processor struct {
	log     *slog.Logger
	metrics *observability.Metrics
}

// NewProcessor creates a Processor. A nil metrics disables instrumentation.
func NewProcessor(log *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{log: log, metrics: metrics}
}

// Describe logs the native resolutions of a dataset. Used by the inspection
// commands before deciding bucket sizes.
func (p *Processor) Describe(d *Dataset) {
	latRes, lonRes, err := d.SpatialResolution()
	if err != nil {
		p.log.Warn("could not determine spatial resolution", "dataset", d.Name, "error", err)
	} else {
		p.log.Info("native spatial resolution", "dataset", d.Name, "lat_deg", latRes, "lon_deg", lonRes)
	}
	tRes, err := d.TemporalResolution()
	if err != nil {
		p.log.Warn("could not determine temporal resolution", "dataset", d.Name, "error", err)
	} else {
		p.log.Info("native temporal resolution", "dataset", d.Name, "step", tRes)
	}
}

// Coarsen buckets the dataset to the target spatial size and temporal
// frequency with the given aggregation. Either target may be zero-valued to
// skip that pass.
func (p *Processor) Coarsen(d *Dataset, spatialDeg float64, freq string, method AggMethod) (*Dataset, error) {
	out := d
	if freq != "" && d.TimeLen() > 1 {
		bucketed, usedStride, err := BucketTemporal(out, freq, method, nil)
		if err != nil {
			return nil, fmt.Errorf("temporal bucketing %q: %w", d.Name, err)
		}
		if usedStride {
			p.log.Warn("temporal bucketing used positional strides",
				"dataset", d.Name, "calendar", d.Calendar, "freq", freq)
			if p.metrics != nil {
				p.metrics.FallbacksUsed.WithLabelValues("temporal").Inc()
			}
		}
		p.log.Info("temporal bucketing complete",
			"dataset", d.Name, "freq", freq, "steps_in", d.TimeLen(), "steps_out", bucketed.TimeLen())
		out = bucketed
	}
	if spatialDeg > 0 {
		bucketed, err := BucketSpatial(out, spatialDeg, method, nil)
		if err != nil {
			return nil, fmt.Errorf("spatial bucketing %q: %w", d.Name, err)
		}
		p.log.Info("spatial bucketing complete",
			"dataset", d.Name, "size_deg", spatialDeg,
			"grid_in", fmt.Sprintf("%dx%d", len(out.Lat), len(out.Lon)),
			"grid_out", fmt.Sprintf("%dx%d", len(bucketed.Lat), len(bucketed.Lon)))
		out = bucketed
	}
	return out, nil
}

// CoarsenFile opens path, coarsens it, and returns the result.
func (p *Processor) CoarsenFile(path string, spatialDeg float64, freq string, method AggMethod) (*Dataset, error) {
	d, err := OpenDataset(path)
	if err != nil {
		return nil, err
	}
	p.Describe(d)
	return p.Coarsen(d, spatialDeg, freq, method)
}
