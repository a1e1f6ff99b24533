package cube

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/sparse"
)

// Frequency is a parsed temporal bucket width: a multiplier and a calendar
// unit. "ME" is one month, "3ME" three months, "7D" seven days, and so on.
type Frequency struct {
	Count int
	Unit  byte // 'D', 'M', 'Q' or 'Y'
}

// Months returns the bucket width in months; zero for day-based units.
func (f Frequency) Months() int {
	switch f.Unit {
	case 'M':
		return f.Count
	case 'Q':
		return f.Count * 3
	case 'Y':
		return f.Count * 12
	}
	return 0
}

func (f Frequency) String() string {
	suffix := string(f.Unit)
	if f.Unit != 'D' {
		suffix += "E"
	}
	if f.Count == 1 {
		return suffix
	}
	return strconv.Itoa(f.Count) + suffix
}

// ParseFrequency accepts pandas-style offset strings. Bare unit letters and
// the period-end spellings are both understood: "M", "ME", "3M", "3ME", "Q",
// "QE", "Y", "YE", "A", "D", "7D".
func ParseFrequency(s string) (Frequency, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Frequency{}, fmt.Errorf("%w: empty string", ErrUnknownFrequency)
	}
	count := 1
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil || n < 1 {
			return Frequency{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, orig)
		}
		count = n
	}
	switch s[i:] {
	case "D":
		return Frequency{Count: count, Unit: 'D'}, nil
	case "M", "ME", "MS":
		return Frequency{Count: count, Unit: 'M'}, nil
	case "Q", "QE", "QS":
		return Frequency{Count: count, Unit: 'Q'}, nil
	case "Y", "YE", "YS", "A":
		return Frequency{Count: count, Unit: 'Y'}, nil
	}
	return Frequency{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, orig)
}

// monthOrdinal is months since year zero, used to block timestamps into
// fixed-width month windows.
func monthOrdinal(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// endOfMonths returns the last day of the month identified by ordinal.
func endOfMonths(ordinal int) time.Time {
	y := ordinal / 12
	m := time.Month(ordinal%12 + 1)
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// BucketTemporal resamples the time axis to the given frequency, reducing each
// window with method. Month-based windows label at the period end; day-based
// windows label at the window start, both matching common resampling
// conventions.
//
// When the dataset's calendar could not be decoded (e.g. noleap sources), the
// function falls back to positional stride slicing, assuming the input is
// monthly: ME groups every value, QE every 3, YE every 12. The returned bool
// reports whether that fallback was taken.
func BucketTemporal(d *Dataset, freq string, method AggMethod, varNames []string) (*Dataset, bool, error) {
	f, err := ParseFrequency(freq)
	if err != nil {
		return nil, false, err
	}
	if d.TimeLen() == 0 {
		return nil, false, fmt.Errorf("%w: dataset has no time axis", ErrUnknownDimension)
	}

	if !d.TimeDecoded {
		out, err := bucketTemporalStride(d, f, method, varNames)
		return out, err == nil, err
	}

	// Assign every timestamp to a window.
	nT := len(d.Time)
	group := make([]int, nT)
	var nGroups int
	var labelsT []time.Time
	if f.Unit == 'D' {
		t0 := d.Time[0]
		seen := map[int]int{}
		for i, t := range d.Time {
			block := int(t.Sub(t0).Hours()/24) / f.Count
			g, ok := seen[block]
			if !ok {
				g = nGroups
				seen[block] = g
				nGroups++
				labelsT = append(labelsT, t0.AddDate(0, 0, block*f.Count))
			}
			group[i] = g
		}
	} else {
		width := f.Months()
		p0 := monthOrdinal(d.Time[0])
		// Anchor blocks so windows align on calendar boundaries: quarters on
		// Jan/Apr/Jul/Oct, years on January.
		switch f.Unit {
		case 'Q':
			p0 -= p0 % 3
		case 'Y':
			p0 -= p0 % 12
		}
		seen := map[int]int{}
		for i, t := range d.Time {
			block := (monthOrdinal(t) - p0) / width
			g, ok := seen[block]
			if !ok {
				g = nGroups
				seen[block] = g
				nGroups++
				labelsT = append(labelsT, endOfMonths(p0+(block+1)*width-1))
			}
			group[i] = g
		}
	}

	out := NewDataset(d.Name)
	out.Lat = append([]float64(nil), d.Lat...)
	out.Lon = append([]float64(nil), d.Lon...)
	out.Time = labelsT
	out.TimeDecoded = true
	out.Calendar = d.Calendar
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}

	if err := reduceAlongTime(d, out, group, nGroups, method, varNames); err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// bucketTemporalStride groups consecutive time steps in fixed-size chunks.
// Only month-based frequencies make sense here; the label is the raw time
// value at the end of each chunk.
func bucketTemporalStride(d *Dataset, f Frequency, method AggMethod, varNames []string) (*Dataset, error) {
	stride := f.Months()
	if stride == 0 {
		return nil, fmt.Errorf("%w: day frequency %q needs a decoded calendar", ErrUnknownFrequency, f)
	}
	nT := len(d.TimeRaw)
	nGroups := (nT + stride - 1) / stride
	group := make([]int, nT)
	labels := make([]float64, nGroups)
	for i := 0; i < nT; i++ {
		group[i] = i / stride
	}
	for g := 0; g < nGroups; g++ {
		end := (g+1)*stride - 1
		if end >= nT {
			end = nT - 1
		}
		labels[g] = d.TimeRaw[end]
	}

	out := NewDataset(d.Name)
	out.Lat = append([]float64(nil), d.Lat...)
	out.Lon = append([]float64(nil), d.Lon...)
	out.TimeRaw = labels
	out.TimeDecoded = false
	out.Calendar = d.Calendar
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}
	if err := reduceAlongTime(d, out, group, nGroups, method, varNames); err != nil {
		return nil, err
	}
	return out, nil
}

// reduceAlongTime collapses each variable's time axis per the group
// assignment. Variables without a time axis pass through unchanged.
func reduceAlongTime(d, out *Dataset, group []int, nGroups int, method AggMethod, varNames []string) error {
	for _, name := range d.selectVars(varNames) {
		v := d.Vars[name]
		if !v.HasTime {
			out.Vars[name] = &Variable{Data: v.Data.Copy(), Attrs: copyAttrs(v.Attrs)}
			continue
		}
		nLat, nLon := len(d.Lat), len(d.Lon)
		reduced := sparse.ZerosDense(nGroups, nLat, nLon)
		members := make([][]int, nGroups)
		for t, g := range group {
			members[g] = append(members[g], t)
		}
		for g := 0; g < nGroups; g++ {
			for i := 0; i < nLat; i++ {
				for j := 0; j < nLon; j++ {
					vals := make([]float64, 0, len(members[g]))
					for _, t := range members[g] {
						vals = append(vals, v.Data.Get(t, i, j))
					}
					rv, err := method.Reduce(vals)
					if err != nil {
						return fmt.Errorf("variable %q: %w", name, err)
					}
					reduced.Set(rv, g, i, j)
				}
			}
		}
		if err := out.AddVar(name, &Variable{Data: reduced, HasTime: true, Attrs: copyAttrs(v.Attrs)}); err != nil {
			return err
		}
	}
	return nil
}
