package cube

import "strings"

// Axis identifies the role a coordinate dimension plays in a dataset.
// Source files name their dimensions inconsistently (lat/latitude/y and so
// on), so role resolution walks a fixed alias order instead of ad hoc string
// matching at each call site.
type Axis int

const (
	AxisLat Axis = iota
	AxisLon
	AxisTime
)

func (a Axis) String() string {
	switch a {
	case AxisLat:
		return "lat"
	case AxisLon:
		return "lon"
	case AxisTime:
		return "time"
	}
	return "unknown"
}

// aliases are tried in order; the first match wins.
var axisAliases = map[Axis][]string{
	AxisLat:  {"lat", "latitude", "y"},
	AxisLon:  {"lon", "longitude", "x"},
	AxisTime: {"time", "date", "t"},
}

// ResolveAxis returns the dimension name out of names that fills the given
// role, or false when no alias matches.
func ResolveAxis(a Axis, names []string) (string, bool) {
	for _, alias := range axisAliases[a] {
		for _, n := range names {
			if strings.EqualFold(n, alias) {
				return n, true
			}
		}
	}
	return "", false
}
