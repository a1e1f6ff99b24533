package cube

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/ctessum/sparse"
	"github.com/jonboulle/clockwork"
)

// BuilderOptions configure the unified grid a Builder merges onto.
type BuilderOptions struct {
	// SpatialRes is the unified cell size in coordinate degrees.
	SpatialRes float64
	// TemporalFreq is the unified time step as an offset string ("ME", "YE").
	TemporalFreq string
	// Interp selects the spatial regridding method.
	Interp InterpMethod
	// Fill, when set, replaces missing cells in the merged cube.
	Fill *float64
}

// Builder merges datasets from heterogeneous sources onto one shared
// latitude/longitude/time grid. Each added dataset contributes its variables
// under a source-prefixed name, so "temperature" from source "maca" becomes
// "maca_temperature" in the cube.
type Builder struct {
	log     *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	opts    BuilderOptions

	datasets []*Dataset
}

// NewBuilder creates a Builder. A nil metrics disables instrumentation.
func NewBuilder(log *slog.Logger, metrics *observability.Metrics, opts BuilderOptions) (*Builder, error) {
	if opts.SpatialRes <= 0 {
		return nil, fmt.Errorf("spatial resolution must be positive, got %g", opts.SpatialRes)
	}
	if _, err := ParseFrequency(opts.TemporalFreq); err != nil {
		return nil, err
	}
	if opts.Interp == "" {
		opts.Interp = InterpLinear
	} else if _, err := ParseInterpMethod(string(opts.Interp)); err != nil {
		return nil, err
	}
	return &Builder{
		log:     log,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
		opts:    opts,
	}, nil
}

// AddDataset registers a dataset for the merge. Datasets whose coordinate
// axes are missing, or whose calendar could not be decoded, are skipped with a
// warning rather than failing the whole merge.
func (b *Builder) AddDataset(d *Dataset) {
	if len(d.Lat) == 0 || len(d.Lon) == 0 {
		b.log.Warn("skipping dataset with unresolved spatial axes", "dataset", d.Name)
		b.countSkip()
		return
	}
	if d.TimeLen() > 0 && !d.TimeDecoded {
		b.log.Warn("skipping dataset with undecoded calendar",
			"dataset", d.Name, "calendar", d.Calendar)
		b.countSkip()
		return
	}
	b.datasets = append(b.datasets, d)
	b.log.Info("dataset added to merge",
		"dataset", d.Name, "variables", len(d.Vars),
		"lat", len(d.Lat), "lon", len(d.Lon), "time", d.TimeLen())
}

// AddFile opens a NetCDF file and registers it under its stored title.
func (b *Builder) AddFile(path string) error {
	d, err := OpenDataset(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	b.AddDataset(d)
	return nil
}

func (b *Builder) countSkip() {
	if b.metrics != nil {
		b.metrics.DatasetsSkipped.Inc()
	}
}

// UnifiedGrid computes the shared lat/lon/time axes spanning every registered
// dataset at the configured resolution and frequency.
func (b *Builder) UnifiedGrid() (lat, lon []float64, times []time.Time, err error) {
	if len(b.datasets) == 0 {
		return nil, nil, nil, ErrNoDatasets
	}
	latMin, latMax := math.Inf(1), math.Inf(-1)
	lonMin, lonMax := math.Inf(1), math.Inf(-1)
	var tMin, tMax time.Time
	haveTime := false
	for _, d := range b.datasets {
		for _, v := range d.Lat {
			latMin = math.Min(latMin, v)
			latMax = math.Max(latMax, v)
		}
		for _, v := range d.Lon {
			lonMin = math.Min(lonMin, v)
			lonMax = math.Max(lonMax, v)
		}
		for _, t := range d.Time {
			if !haveTime || t.Before(tMin) {
				tMin = t
			}
			if !haveTime || t.After(tMax) {
				tMax = t
			}
			haveTime = true
		}
	}
	if !haveTime {
		return nil, nil, nil, ErrNoTimeBounds
	}
	lat = arange(latMin, latMax+b.opts.SpatialRes, b.opts.SpatialRes)
	lon = arange(lonMin, lonMax+b.opts.SpatialRes, b.opts.SpatialRes)
	f, _ := ParseFrequency(b.opts.TemporalFreq)
	times = dateRange(tMin, tMax, f)
	return lat, lon, times, nil
}

// dateRange enumerates timestamps from start through end at the given
// frequency. Month-based frequencies step period ends aligned on calendar
// boundaries; day-based frequencies step from start.
func dateRange(start, end time.Time, f Frequency) []time.Time {
	var out []time.Time
	if f.Unit == 'D' {
		for t := start; !t.After(end); t = t.AddDate(0, 0, f.Count) {
			out = append(out, t)
		}
		return out
	}
	width := f.Months()
	p := monthOrdinal(start)
	switch f.Unit {
	case 'Q':
		p -= p % 3
	case 'Y':
		p -= p % 12
	}
	for {
		label := endOfMonths(p + width - 1)
		if label.After(end) && len(out) > 0 {
			break
		}
		out = append(out, label)
		if !label.Before(end) {
			break
		}
		p += width
	}
	return out
}

// Build merges every registered dataset onto the unified grid and returns the
// combined cube. Time alignment is nearest-neighbor: each unified timestamp
// takes the closest source time step, so single-timestamp sources (static
// rasters) broadcast across the whole time axis. Spatial alignment uses the
// configured interpolation with a nearest fallback for axes too short to fit.
func (b *Builder) Build() (*Dataset, error) {
	lat, lon, times, err := b.UnifiedGrid()
	if err != nil {
		return nil, err
	}
	out := NewDataset("datacube")
	out.Lat = lat
	out.Lon = lon
	out.Time = times
	out.TimeDecoded = true
	out.Attrs["source_count"] = fmt.Sprintf("%d", len(b.datasets))

	timeVals := make([]float64, len(times))
	for i, t := range times {
		timeVals[i] = float64(t.Unix())
	}

	for _, d := range b.datasets {
		start := b.clock.Now()
		srcTimes := make([]float64, len(d.Time))
		for i, t := range d.Time {
			srcTimes[i] = float64(t.Unix())
		}
		for _, name := range d.VarNames() {
			v := d.Vars[name]
			aligned, err := alignTime(v, srcTimes, timeVals)
			if err != nil {
				return nil, fmt.Errorf("dataset %q variable %q: %w", d.Name, name, err)
			}
			regridded, fellBack, err := RegridVar(aligned, d.Lat, d.Lon, lat, lon, b.opts.Interp)
			if err != nil {
				return nil, fmt.Errorf("dataset %q variable %q: %w", d.Name, name, err)
			}
			if fellBack {
				b.log.Warn("interpolation degraded to nearest-neighbor",
					"dataset", d.Name, "variable", name, "requested", string(b.opts.Interp))
				if b.metrics != nil {
					b.metrics.FallbacksUsed.WithLabelValues("interp").Inc()
				}
			}
			if b.opts.Fill != nil {
				for i, e := range regridded.Data.Elements {
					if math.IsNaN(e) {
						regridded.Data.Elements[i] = *b.opts.Fill
					}
				}
			}
			merged := d.Name + "_" + name
			regridded.Attrs["source"] = d.Name
			if err := out.AddVar(merged, regridded); err != nil {
				return nil, err
			}
		}
		if b.metrics != nil {
			b.metrics.RegridDuration.Observe(b.clock.Since(start).Seconds())
		}
	}
	return out, nil
}

// alignTime resamples a variable onto the unified time axis by nearest source
// time step. Variables without a time axis broadcast unchanged.
func alignTime(v *Variable, srcTimes, dstTimes []float64) (*Variable, error) {
	nT := len(dstTimes)
	nLat := v.Data.Shape[len(v.Data.Shape)-2]
	nLon := v.Data.Shape[len(v.Data.Shape)-1]
	out := sparse.ZerosDense(nT, nLat, nLon)
	for t, dt := range dstTimes {
		var src int
		if v.HasTime {
			if len(srcTimes) == 0 {
				return nil, fmt.Errorf("%w: variable has a time axis but dataset has no timestamps", ErrNoTimeBounds)
			}
			src = nearestIndex(srcTimes, dt)
		}
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				if v.HasTime {
					out.Set(v.Data.Get(src, i, j), t, i, j)
				} else {
					out.Set(v.Data.Get(i, j), t, i, j)
				}
			}
		}
	}
	return &Variable{Data: out, HasTime: true, Attrs: copyAttrs(v.Attrs)}, nil
}
