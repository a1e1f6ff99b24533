package cube

import (
	"fmt"
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// Variable is one named data array in a dataset. Data is shaped
// [time][lat][lon] when HasTime is set, [lat][lon] otherwise.
type Variable struct {
	Data    *sparse.DenseArray
	HasTime bool
	Attrs   map[string]string
}

// Dataset is a labeled multi-dimensional array collection on a shared
// latitude/longitude(/time) coordinate grid. Aggregation steps replace the
// coordinate grid wholesale; nothing mutates coordinates in place.
type Dataset struct {
	Name string

	Lat []float64
	Lon []float64

	// Time carries decoded calendar timestamps. When the source calendar
	// could not be decoded, TimeDecoded is false and TimeRaw holds the
	// original numeric values (with units/calendar preserved in Attrs).
	Time        []time.Time
	TimeRaw     []float64
	TimeDecoded bool
	Calendar    string

	Vars  map[string]*Variable
	Attrs map[string]string
}

// NewDataset creates an empty dataset with the given identifier.
func NewDataset(name string) *Dataset {
	return &Dataset{
		Name:  name,
		Vars:  make(map[string]*Variable),
		Attrs: make(map[string]string),
	}
}

// TimeLen returns the length of the time axis, decoded or not.
func (d *Dataset) TimeLen() int {
	if d.TimeDecoded {
		return len(d.Time)
	}
	return len(d.TimeRaw)
}

// VarNames returns the data variable names in sorted order.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// selectVars returns the subset of names that exist in the dataset, or all
// variables when names is empty.
func (d *Dataset) selectVars(names []string) []string {
	if len(names) == 0 {
		return d.VarNames()
	}
	var out []string
	for _, n := range names {
		if _, ok := d.Vars[n]; ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return d.VarNames()
	}
	return out
}

// checkShape verifies that a variable's array matches the coordinate lengths.
func (d *Dataset) checkShape(name string, v *Variable) error {
	want := []int{len(d.Lat), len(d.Lon)}
	if v.HasTime {
		want = append([]int{d.TimeLen()}, want...)
	}
	if len(v.Data.Shape) != len(want) {
		return fmt.Errorf("variable %q: expected %d dimensions, got %d", name, len(want), len(v.Data.Shape))
	}
	for i, n := range want {
		if v.Data.Shape[i] != n {
			return fmt.Errorf("variable %q: dimension %d is %d, want %d", name, i, v.Data.Shape[i], n)
		}
	}
	return nil
}

// AddVar attaches a variable after validating its shape against the grid.
func (d *Dataset) AddVar(name string, v *Variable) error {
	if err := d.checkShape(name, v); err != nil {
		return err
	}
	d.Vars[name] = v
	return nil
}

// SpatialResolution returns the native (lat, lon) cell sizes in coordinate
// units, taken from the first two steps of each axis.
func (d *Dataset) SpatialResolution() (float64, float64, error) {
	if len(d.Lat) < 2 || len(d.Lon) < 2 {
		return 0, 0, fmt.Errorf("%w: need at least two points per spatial axis", ErrUnknownDimension)
	}
	latRes := abs(d.Lat[1] - d.Lat[0])
	lonRes := abs(d.Lon[1] - d.Lon[0])
	return latRes, lonRes, nil
}

// TemporalResolution classifies the native time step.
func (d *Dataset) TemporalResolution() (string, error) {
	if d.TimeLen() == 0 {
		return "", fmt.Errorf("%w: no time dimension", ErrUnknownDimension)
	}
	if d.TimeLen() == 1 {
		return "single-timepoint", nil
	}
	var days int
	if d.TimeDecoded {
		days = int(d.Time[1].Sub(d.Time[0]).Hours() / 24)
	} else {
		// Undecoded values are assumed to be day offsets; the classification
		// is approximate in that case.
		days = int(d.TimeRaw[1] - d.TimeRaw[0])
	}
	switch {
	case days == 1:
		return "daily", nil
	case days >= 28 && days <= 31:
		return "monthly", nil
	case days >= 365 && days <= 366:
		return "yearly", nil
	default:
		return fmt.Sprintf("%d-day", days), nil
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
