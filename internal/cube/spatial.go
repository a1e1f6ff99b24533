package cube

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// arange returns start, start+step, ... strictly below stop, with a small
// tolerance so accumulated float error does not drop the final edge.
func arange(start, stop, step float64) []float64 {
	var out []float64
	eps := step * 1e-9
	for v := start; v < stop-eps; v += step {
		out = append(out, v)
	}
	return out
}

// binEdges builds bucket edges spanning [min, max] in steps of size. The last
// edge always reaches past max so every coordinate lands in a bucket.
func binEdges(coords []float64, size float64) ([]float64, error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate axis", ErrUnknownDimension)
	}
	min, max := coords[0], coords[0]
	for _, v := range coords[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	edges := arange(min, max+size, size)
	if len(edges) < 2 {
		edges = []float64{min, min + size}
	}
	return edges, nil
}

// binIndex maps a coordinate onto its bucket. Values at or beyond the final
// edge clamp into the last bucket.
func binIndex(v float64, edges []float64) int {
	size := edges[1] - edges[0]
	idx := int((v - edges[0]) / size)
	if idx < 0 {
		idx = 0
	}
	if n := len(edges) - 1; idx >= n {
		idx = n - 1
	}
	return idx
}

// binLabels returns the bucket center coordinates.
func binLabels(edges []float64) []float64 {
	size := edges[1] - edges[0]
	labels := make([]float64, len(edges)-1)
	for i := range labels {
		labels[i] = edges[i] + size/2
	}
	return labels
}

// BucketSpatial coarsens the spatial grid into square buckets of sizeDeg
// coordinate units, reducing each bucket with method. The returned dataset has
// bucket-center lat/lon coordinates and the same time axis as the input. When
// varNames is empty all variables are bucketed.
func BucketSpatial(d *Dataset, sizeDeg float64, method AggMethod, varNames []string) (*Dataset, error) {
	if sizeDeg <= 0 {
		return nil, fmt.Errorf("spatial bucket size must be positive, got %g", sizeDeg)
	}
	latEdges, err := binEdges(d.Lat, sizeDeg)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lonEdges, err := binEdges(d.Lon, sizeDeg)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	latBin := make([]int, len(d.Lat))
	for i, v := range d.Lat {
		latBin[i] = binIndex(v, latEdges)
	}
	lonBin := make([]int, len(d.Lon))
	for j, v := range d.Lon {
		lonBin[j] = binIndex(v, lonEdges)
	}
	nLat := len(latEdges) - 1
	nLon := len(lonEdges) - 1

	out := NewDataset(d.Name)
	out.Lat = binLabels(latEdges)
	out.Lon = binLabels(lonEdges)
	out.Time = d.Time
	out.TimeRaw = d.TimeRaw
	out.TimeDecoded = d.TimeDecoded
	out.Calendar = d.Calendar
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}

	for _, name := range d.selectVars(varNames) {
		v := d.Vars[name]
		nT := 1
		if v.HasTime {
			nT = d.TimeLen()
		}
		var reduced *sparse.DenseArray
		if v.HasTime {
			reduced = sparse.ZerosDense(nT, nLat, nLon)
		} else {
			reduced = sparse.ZerosDense(nLat, nLon)
		}
		// Bucket membership only depends on the coordinates, so gather the
		// source cell lists once and reuse them across time steps.
		cells := make([][][2]int, nLat*nLon)
		for i := range d.Lat {
			for j := range d.Lon {
				b := latBin[i]*nLon + lonBin[j]
				cells[b] = append(cells[b], [2]int{i, j})
			}
		}
		for t := 0; t < nT; t++ {
			for bi := 0; bi < nLat; bi++ {
				for bj := 0; bj < nLon; bj++ {
					members := cells[bi*nLon+bj]
					vals := make([]float64, 0, len(members))
					for _, c := range members {
						if v.HasTime {
							vals = append(vals, v.Data.Get(t, c[0], c[1]))
						} else {
							vals = append(vals, v.Data.Get(c[0], c[1]))
						}
					}
					rv, err := method.Reduce(vals)
					if err != nil {
						return nil, fmt.Errorf("variable %q: %w", name, err)
					}
					if v.HasTime {
						reduced.Set(rv, t, bi, bj)
					} else {
						reduced.Set(rv, bi, bj)
					}
				}
			}
		}
		if err := out.AddVar(name, &Variable{Data: reduced, HasTime: v.HasTime, Attrs: copyAttrs(v.Attrs)}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
