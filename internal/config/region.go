package config

import (
	"fmt"
	"strconv"
	"strings"
)

// BBox is a rectangular study-region extent in a named coordinate reference
// system. North/South are latitudes (or projected y), East/West longitudes
// (or projected x).
type BBox struct {
	Name  string
	North float64
	South float64
	East  float64
	West  float64
	CRS   string
}

// Validate checks the edge ordering invariants.
func (b BBox) Validate() error {
	if b.North <= b.South {
		return fmt.Errorf("bbox %q: north (%v) must be greater than south (%v)", b.Name, b.North, b.South)
	}
	if b.East <= b.West {
		return fmt.Errorf("bbox %q: east (%v) must be greater than west (%v)", b.Name, b.East, b.West)
	}
	return nil
}

// String renders the box as "minx miny maxx maxy", the order the LANDFIRE
// product service expects.
func (b BBox) String() string {
	return fmt.Sprintf("%g %g %g %g", b.West, b.South, b.East, b.North)
}

// OverpassString renders the box as "south,west,north,east", the order the
// Overpass API expects.
func (b BBox) OverpassString() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.South, b.West, b.North, b.East)
}

// ParseBBox parses a "minx miny maxx maxy" string into a BBox.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bounding box must be in format 'minx miny maxx maxy', got %d tokens", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return BBox{}, fmt.Errorf("parse bbox token %q: %w", p, err)
		}
		vals[i] = v
	}
	return BBox{
		West:  vals[0],
		South: vals[1],
		East:  vals[2],
		North: vals[3],
		CRS:   "EPSG:4326",
	}, nil
}

// BlackHills is the study region in WGS84 coordinates.
var BlackHills = BBox{
	Name:  "Black Hills",
	North: 44.652,
	South: 43.480,
	East:  -103.264,
	West:  -104.705,
	CRS:   "EPSG:4326",
}

// BlackHillsMercator is the same region in Web Mercator meters, kept for
// interoperability with projected rasters.
var BlackHillsMercator = BBox{
	Name:  "Black Hills",
	North: 5589386.763400,
	South: 5353897.225000,
	East:  -11499753.118600,
	West:  -11657352.348600,
	CRS:   "EPSG:3857",
}

// LANDFIRE layer codes, 2020 (version 220) product suite.
const (
	LandfireVersion = "220"
	LayerEVT        = "220EVT" // Existing Vegetation Type
	LayerEVC        = "220EVC" // Existing Vegetation Cover
	LayerEVH        = "220EVH" // Existing Vegetation Height
)

// MACA v2 defaults.
var (
	DefaultVariables = []string{"tasmax", "tasmin", "pr"}
	AllVariables     = []string{"tasmax", "tasmin", "pr", "rhsmax", "rhsmin", "huss", "was", "rsds"}
	DefaultModels    = []string{"GFDL-ESM2M"}
	AllModels        = []string{
		"GFDL-ESM2M", "MIROC5", "CCSM4", "CanESM2", "CNRM-CM5", "GFDL-ESM2G",
		"HadGEM2-CC365", "HadGEM2-ES365", "inmcm4", "IPSL-CM5A-LR", "IPSL-CM5A-MR",
		"IPSL-CM5B-LR", "MIROC-ESM", "MIROC-ESM-CHEM", "MRI-CGCM3", "NorESM1-M",
		"bcc-csm1-1", "bcc-csm1-1-m", "BNU-ESM", "CSIRO-Mk3-6-0",
	}
)

// YearRange is the inclusive span of years covered by a climate scenario.
type YearRange struct {
	Start int
	End   int
}

// Scenarios maps MACA scenario names to their year coverage.
var Scenarios = map[string]YearRange{
	"historical": {Start: 1950, End: 2005},
	"rcp45":      {Start: 2006, End: 2099},
	"rcp85":      {Start: 2006, End: 2099},
}

// Season is a three-month climate season.
type Season struct {
	Name   string
	Months []int
}

// Seasons lists the four seasons in export order.
var Seasons = map[string]Season{
	"DJF": {Name: "Winter", Months: []int{12, 1, 2}},
	"MAM": {Name: "Spring", Months: []int{3, 4, 5}},
	"JJA": {Name: "Summer", Months: []int{6, 7, 8}},
	"SON": {Name: "Fall", Months: []int{9, 10, 11}},
}

// SeasonKeys returns season identifiers in a stable order.
func SeasonKeys() []string {
	return []string{"DJF", "MAM", "JJA", "SON"}
}
