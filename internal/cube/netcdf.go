package cube

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

const (
	timeUnitsEpoch = "days since 1900-01-01"
	fillValue      = 9.9692099683868690e36 // NetCDF default float fill
)

var ncEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// nonStandardCalendars are source calendars whose timestamps cannot round-trip
// through time.Time. Datasets on these calendars keep their raw numeric time
// values.
var nonStandardCalendars = map[string]bool{
	"noleap":  true,
	"365_day": true,
	"360_day": true,
}

// SaveDataset writes the dataset to path as a NetCDF-3 file. Coordinates are
// stored as float64, data variables as float32 with the default fill value for
// missing cells.
func SaveDataset(path string, d *Dataset) error {
	dims := []string{"lat", "lon"}
	lengths := []int{len(d.Lat), len(d.Lon)}
	hasTime := d.TimeLen() > 0
	if hasTime {
		dims = append([]string{"time"}, dims...)
		lengths = append([]int{d.TimeLen()}, lengths...)
	}
	h := cdf.NewHeader(dims, lengths)

	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	if hasTime {
		h.AddVariable("time", []string{"time"}, []float64{0})
		h.AddAttribute("time", "units", timeUnitsEpoch)
		cal := d.Calendar
		if cal == "" {
			cal = "standard"
		}
		h.AddAttribute("time", "calendar", cal)
	}

	for _, name := range d.VarNames() {
		v := d.Vars[name]
		vdims := []string{"lat", "lon"}
		if v.HasTime {
			vdims = []string{"time", "lat", "lon"}
		}
		h.AddVariable(name, vdims, []float32{0})
		h.AddAttribute(name, "_FillValue", []float32{float32(fillValue)})
		for k, av := range v.Attrs {
			h.AddAttribute(name, k, av)
		}
	}
	if d.Name != "" {
		h.AddAttribute("", "title", d.Name)
	}
	for k, v := range d.Attrs {
		h.AddAttribute("", k, v)
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("creating netcdf file: %w", err)
	}

	if err := writeFloat64(ff, "lat", d.Lat); err != nil {
		return err
	}
	if err := writeFloat64(ff, "lon", d.Lon); err != nil {
		return err
	}
	if hasTime {
		tv := make([]float64, d.TimeLen())
		if d.TimeDecoded {
			for i, t := range d.Time {
				tv[i] = t.Sub(ncEpoch).Hours() / 24
			}
		} else {
			copy(tv, d.TimeRaw)
		}
		if err := writeFloat64(ff, "time", tv); err != nil {
			return err
		}
	}
	for _, name := range d.VarNames() {
		v := d.Vars[name]
		data := make([]float32, len(v.Data.Elements))
		for i, e := range v.Data.Elements {
			if math.IsNaN(e) {
				data[i] = float32(fillValue)
			} else {
				data[i] = float32(e)
			}
		}
		w := ff.Writer(name, nil, nil)
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing variable %q: %w", name, err)
		}
	}
	return cdf.UpdateNumRecs(f)
}

func writeFloat64(ff *cdf.File, name string, vals []float64) error {
	w := ff.Writer(name, nil, nil)
	if _, err := w.Write(vals); err != nil {
		return fmt.Errorf("writing %q: %w", name, err)
	}
	return nil
}

// OpenDataset reads a NetCDF-3 file written by SaveDataset (or any file with
// resolvable lat/lon coordinate variables). Time values decode against their
// "units" attribute unless the calendar is a non-standard one, in which case
// the raw values are kept.
func OpenDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("opening netcdf file: %w", err)
	}

	names := ff.Header.Variables()
	latName, ok := ResolveAxis(AxisLat, names)
	if !ok {
		return nil, fmt.Errorf("%w: no latitude variable in %s", ErrUnknownDimension, path)
	}
	lonName, ok := ResolveAxis(AxisLon, names)
	if !ok {
		return nil, fmt.Errorf("%w: no longitude variable in %s", ErrUnknownDimension, path)
	}
	timeName, hasTime := ResolveAxis(AxisTime, names)

	d := NewDataset(strings.TrimSuffix(baseName(path), ".nc"))
	if title, ok := stringAttr(ff, "", "title"); ok {
		d.Name = title
	}
	if d.Lat, err = readFloat64(ff, latName); err != nil {
		return nil, err
	}
	if d.Lon, err = readFloat64(ff, lonName); err != nil {
		return nil, err
	}
	if hasTime {
		raw, err := readFloat64(ff, timeName)
		if err != nil {
			return nil, err
		}
		cal, _ := stringAttr(ff, timeName, "calendar")
		units, _ := stringAttr(ff, timeName, "units")
		d.Calendar = cal
		epoch, decodable := parseTimeUnits(units)
		if decodable && !nonStandardCalendars[strings.ToLower(cal)] {
			d.TimeDecoded = true
			d.Time = make([]time.Time, len(raw))
			for i, v := range raw {
				d.Time[i] = epoch.Add(time.Duration(v * 24 * float64(time.Hour)))
			}
		} else {
			d.TimeRaw = raw
		}
	}

	for _, name := range names {
		if name == latName || name == lonName || name == timeName {
			continue
		}
		lengths := ff.Header.Lengths(name)
		if len(lengths) < 2 {
			continue
		}
		raw, err := readFloat32(ff, name)
		if err != nil {
			return nil, err
		}
		arr := sparse.ZerosDense(lengths...)
		for i, v := range raw {
			if v == float32(fillValue) {
				arr.Elements[i] = math.NaN()
			} else {
				arr.Elements[i] = float64(v)
			}
		}
		v := &Variable{Data: arr, HasTime: len(lengths) == 3, Attrs: map[string]string{}}
		for _, attr := range []string{"units", "long_name", "source"} {
			if av, ok := stringAttr(ff, name, attr); ok {
				v.Attrs[attr] = av
			}
		}
		if err := d.AddVar(name, v); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return d, nil
}

func readFloat64(ff *cdf.File, name string) ([]float64, error) {
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading %q: %w", name, err)
	}
	switch vals := buf.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("variable %q: unsupported storage type %T", name, buf)
}

func readFloat32(ff *cdf.File, name string) ([]float32, error) {
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading %q: %w", name, err)
	}
	switch vals := buf.(type) {
	case []float32:
		return vals, nil
	case []float64:
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("variable %q: unsupported storage type %T", name, buf)
}

func stringAttr(ff *cdf.File, varName, attr string) (string, bool) {
	v := ff.Header.GetAttribute(varName, attr)
	if v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// parseTimeUnits understands the "days since YYYY-MM-DD" convention.
func parseTimeUnits(units string) (time.Time, bool) {
	fields := strings.Fields(units)
	if len(fields) < 3 || !strings.EqualFold(fields[0], "days") || !strings.EqualFold(fields[1], "since") {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-1-2", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, fields[2]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
