// Package osm converts raw Overpass API output into GeoJSON feature
// collections.
package osm

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackhillsgeo/datacube/internal/adapter/overpass"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
)

// Feature is one GeoJSON feature with a flat property map.
type Feature struct {
	Type       string             `json:"type"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	Properties map[string]any     `json:"properties"`
}

// Metadata carries provenance copied from the Overpass response.
type Metadata struct {
	Generator    string `json:"generator"`
	Timestamp    string `json:"timestamp"`
	Copyright    string `json:"copyright"`
	FeatureCount int    `json:"feature_count"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
	Metadata *Metadata  `json:"metadata,omitempty"`
}

// areaTags mark a closed way as an area rather than a ring-shaped path.
var areaTags = map[string]bool{
	"building": true, "landuse": true, "natural": true, "leisure": true,
	"amenity": true, "shop": true, "office": true, "industrial": true,
	"residential": true, "commercial": true, "area": true,
}

// Converter turns raw OSM elements into GeoJSON features. Invalid elements
// are skipped with a warning; conversion of a batch never fails on a single
// bad element.
type Converter struct {
	logger *slog.Logger
}

// NewConverter creates a Converter.
func NewConverter(logger *slog.Logger) *Converter {
	return &Converter{logger: logger}
}

// Convert transforms a full Overpass response into a feature collection.
func (c *Converter) Convert(resp *overpass.Response) (*FeatureCollection, error) {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Features: []*Feature{},
	}
	for _, el := range resp.Elements {
		var (
			f   *Feature
			err error
		)
		switch el.Type {
		case "node":
			f, err = c.convertNode(el)
		case "way":
			f, err = c.convertWay(el)
		case "relation":
			f, err = c.convertRelation(el)
		default:
			c.logger.Warn("unknown element type", "type", el.Type, "id", el.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if f != nil {
			fc.Features = append(fc.Features, f)
		}
	}
	if len(resp.OSM3S) > 0 {
		fc.Metadata = &Metadata{
			Generator:    resp.Generator,
			Timestamp:    resp.OSM3S["timestamp_osm_base"],
			Copyright:    resp.OSM3S["copyright"],
			FeatureCount: len(fc.Features),
		}
	}
	return fc, nil
}

func elementProperties(el overpass.Element) map[string]any {
	props := map[string]any{
		"osm_id":   el.ID,
		"osm_type": el.Type,
	}
	for k, v := range el.Tags {
		props[k] = v
	}
	return props
}

func (c *Converter) convertNode(el overpass.Element) (*Feature, error) {
	g, err := geojson.ToGeoJSON(geom.Point{X: el.Lon, Y: el.Lat})
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", el.ID, err)
	}
	return &Feature{Type: "Feature", Geometry: g, Properties: elementProperties(el)}, nil
}

// convertWay returns a Polygon for closed area-tagged ways, a LineString
// otherwise, or nil when the way carries too little geometry to be usable.
func (c *Converter) convertWay(el overpass.Element) (*Feature, error) {
	if len(el.Geometry) == 0 {
		c.logger.Warn("way has no geometry, skipping", "id", el.ID)
		return nil, nil
	}
	coords := make([]geom.Point, len(el.Geometry))
	for i, p := range el.Geometry {
		coords[i] = geom.Point{X: p.Lon, Y: p.Lat}
	}
	if len(coords) < 2 {
		c.logger.Warn("way has insufficient coordinates, skipping", "id", el.ID)
		return nil, nil
	}

	closed := coords[0] == coords[len(coords)-1]
	isArea := false
	for tag := range el.Tags {
		if areaTags[tag] {
			isArea = true
			break
		}
	}
	// An explicit area tag overrides the key-based guess.
	if v, ok := el.Tags["area"]; ok {
		switch strings.ToLower(v) {
		case "yes", "true", "1":
			isArea = true
		default:
			isArea = false
		}
	}

	var shape geom.Geom
	if closed && isArea {
		shape = geom.Polygon{coords}
	} else {
		shape = geom.LineString(coords)
	}
	g, err := geojson.ToGeoJSON(shape)
	if err != nil {
		return nil, fmt.Errorf("way %d: %w", el.ID, err)
	}
	return &Feature{Type: "Feature", Geometry: g, Properties: elementProperties(el)}, nil
}

// convertRelation approximates a relation by its bounding rectangle; true
// member geometry is not reconstructed. Relations without bounds are skipped.
func (c *Converter) convertRelation(el overpass.Element) (*Feature, error) {
	if el.Bounds == nil {
		c.logger.Warn("relation has no bounds, skipping", "id", el.ID)
		return nil, nil
	}
	b := el.Bounds
	ring := []geom.Point{
		{X: b.MinLon, Y: b.MinLat},
		{X: b.MaxLon, Y: b.MinLat},
		{X: b.MaxLon, Y: b.MaxLat},
		{X: b.MinLon, Y: b.MaxLat},
		{X: b.MinLon, Y: b.MinLat},
	}
	g, err := geojson.ToGeoJSON(geom.Polygon{ring})
	if err != nil {
		return nil, fmt.Errorf("relation %d: %w", el.ID, err)
	}
	return &Feature{Type: "Feature", Geometry: g, Properties: elementProperties(el)}, nil
}

// ConvertFile converts one raw OSM JSON file. An empty outPath derives the
// output next to the input with a .geojson extension. Returns the output path.
func (c *Converter) ConvertFile(inPath, outPath string) (string, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return "", err
	}
	var resp overpass.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parsing %s: %w", inPath, err)
	}
	fc, err := c.Convert(&resp)
	if err != nil {
		return "", fmt.Errorf("converting %s: %w", inPath, err)
	}
	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, filepath.Ext(inPath)) + ".geojson"
	}
	out, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return "", err
	}
	c.logger.Info("converted OSM file",
		"input", inPath, "output", outPath, "features", len(fc.Features))
	return outPath, nil
}

// ConvertDirectory converts every raw OSM JSON file under inDir, mirroring
// the directory layout under outDir (default: inDir/geojson). Collection
// summary files are skipped; a file that fails to convert is recorded with an
// empty output path and does not stop the batch.
func (c *Converter) ConvertDirectory(inDir, outDir string) (map[string]string, error) {
	if outDir == "" {
		outDir = filepath.Join(inDir, "geojson")
	}
	results := make(map[string]string)
	err := filepath.WalkDir(inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if strings.Contains(filepath.Base(path), "collection_summary") {
			return nil
		}
		rel, err := filepath.Rel(inDir, path)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(rel, ".json")+".geojson")
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return err
		}
		if _, err := c.ConvertFile(path, outPath); err != nil {
			c.logger.Error("conversion failed", "input", path, "error", err)
			results[path] = ""
			return nil
		}
		results[path] = outPath
		return nil
	})
	if err != nil {
		return nil, err
	}
	converted := 0
	for _, out := range results {
		if out != "" {
			converted++
		}
	}
	c.logger.Info("directory conversion complete", "converted", converted, "total", len(results))
	return results, nil
}
