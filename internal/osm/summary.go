package osm

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// topTagValues caps how many values are reported per tag in a summary.
const topTagValues = 5

// TagCount is one tag value and how many features carry it.
type TagCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FileSummary describes one converted GeoJSON file.
type FileSummary struct {
	Path          string                `json:"path"`
	SizeBytes     int64                 `json:"size_bytes"`
	FeatureCount  int                   `json:"feature_count"`
	GeometryTypes map[string]int        `json:"geometry_types"`
	TopTags       map[string][]TagCount `json:"top_tags"`
}

// DataSummary aggregates the converted data by category directory.
type DataSummary struct {
	TotalFeatures int                     `json:"total_features"`
	TotalBytes    int64                   `json:"total_bytes"`
	Categories    map[string]*FileSummary `json:"categories"`
}

// SummarizeFile computes summary statistics for one GeoJSON file: feature
// and geometry-type counts plus the most common values of each tag. Tags
// with a single distinct value, and the osm_id/osm_type identity properties,
// are left out.
func SummarizeFile(path string) (*FileSummary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s: not a feature collection", path)
	}

	s := &FileSummary{
		Path:          path,
		SizeBytes:     info.Size(),
		FeatureCount:  len(fc.Features),
		GeometryTypes: make(map[string]int),
		TopTags:       make(map[string][]TagCount),
	}
	tagValues := make(map[string]map[string]int)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		s.GeometryTypes[f.Geometry.Type]++
		for key, value := range f.Properties {
			if key == "osm_id" || key == "osm_type" {
				continue
			}
			if tagValues[key] == nil {
				tagValues[key] = make(map[string]int)
			}
			tagValues[key][fmt.Sprint(value)]++
		}
	}
	for tag, values := range tagValues {
		if len(values) < 2 {
			continue
		}
		s.TopTags[tag] = topCounts(values, topTagValues)
	}
	return s, nil
}

// topCounts returns the n most frequent values, ties broken alphabetically.
func topCounts(values map[string]int, n int) []TagCount {
	counts := make([]TagCount, 0, len(values))
	for v, c := range values {
		counts = append(counts, TagCount{Value: v, Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// SummarizeDirectory summarizes every .geojson file under dir, keyed by the
// parent directory name (the gather category). A file that fails to parse is
// recorded as an error in place of stopping the walk.
func SummarizeDirectory(dir string) (*DataSummary, error) {
	summary := &DataSummary{Categories: make(map[string]*FileSummary)}
	var firstErr error
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".geojson") {
			return nil
		}
		s, err := SummarizeFile(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		summary.Categories[filepath.Base(filepath.Dir(path))] = s
		summary.TotalFeatures += s.FeatureCount
		summary.TotalBytes += s.SizeBytes
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(summary.Categories) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return summary, nil
}
