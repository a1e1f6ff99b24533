package osm

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// miningKeywords flag a feature as mining-related when one appears in its
// name, description, or address properties.
var miningKeywords = []string{
	"mine", "mining", "quarry", "pit", "shaft", "adit", "tunnel",
	"excavation", "extraction", "ore", "coal", "gold", "silver",
	"copper", "iron", "gravel", "sand", "stone", "mineral",
	"tailings", "slag", "spoil", "claim", "prospecting",
}

// miningTagValues are tag values that mark a feature as mining
// infrastructure outright.
var miningTagValues = map[string][]string{
	"man_made":   {"mineshaft", "adit", "mining_site", "quarry"},
	"industrial": {"mine", "quarry", "mining"},
	"landuse":    {"quarry", "mining"},
	"natural":    {"cliff", "scree"},
	"historic":   {"mine", "mining_site", "quarry"},
	"ruins":      {"mine", "mining"},
	"tourism":    {"mine", "mining_site"},
}

// geologyTerms hint at mining potential. They are recorded as evidence but
// never flag a feature on their own.
var geologyTerms = []string{
	"geological", "geology", "mineral", "outcrop", "vein",
	"deposit", "formation", "pegmatite", "quartz",
}

// Confidence levels for a mining classification.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// MiningInfo classifies one feature's relationship to mining activity.
type MiningInfo struct {
	Matched    bool
	Type       string // "landuse:quarry" style; empty for keyword-only matches
	Confidence string
	Evidence   []string
}

// ClassifyMining inspects a feature's properties for mining signals: direct
// infrastructure tags (high confidence), mining keywords in name-like fields
// (medium), keywords in address fields, and geological terms anywhere
// (evidence only).
func ClassifyMining(props map[string]any) MiningInfo {
	info := MiningInfo{Confidence: ConfidenceLow}

	tags := make([]string, 0, len(miningTagValues))
	for tag := range miningTagValues {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		v, ok := props[tag]
		if !ok {
			continue
		}
		value := strings.ToLower(fmt.Sprint(v))
		for _, want := range miningTagValues[tag] {
			if value == want {
				info.Matched = true
				info.Type = tag + ":" + value
				info.Confidence = ConfidenceHigh
				info.Evidence = append(info.Evidence, fmt.Sprintf("direct tag %s=%s", tag, value))
			}
		}
	}

	for _, field := range []string{"name", "description", "alt_name", "official_name"} {
		v, ok := props[field]
		if !ok {
			continue
		}
		text := fmt.Sprint(v)
		if containsMiningKeyword(text) {
			info.Matched = true
			info.Evidence = append(info.Evidence, fmt.Sprintf("keyword in %s: %s", field, text))
			if info.Confidence == ConfidenceLow {
				info.Confidence = ConfidenceMedium
			}
		}
	}

	for _, field := range []string{"addr:street", "addr:city"} {
		v, ok := props[field]
		if !ok {
			continue
		}
		text := fmt.Sprint(v)
		if containsMiningKeyword(text) {
			info.Matched = true
			info.Evidence = append(info.Evidence, fmt.Sprintf("address keyword in %s: %s", field, text))
		}
	}

	fields := make([]string, 0, len(props))
	for field := range props {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		s, ok := props[field].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, term := range geologyTerms {
			if strings.Contains(lower, term) {
				info.Evidence = append(info.Evidence, fmt.Sprintf("geological term in %s: %s", field, s))
				break
			}
		}
	}

	return info
}

func containsMiningKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range miningKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MiningReport aggregates one extraction run over converted GeoJSON data.
type MiningReport struct {
	FilesProcessed int
	Categories     map[string]int // mining type -> count, "general" for keyword-only
	Confidence     map[string]int
	Features       []*Feature // annotated copies of the matched features
}

// MiningExtractor scans converted GeoJSON for mining-related features:
// active mines, historical sites, quarries, and supporting infrastructure.
type MiningExtractor struct {
	logger *slog.Logger
}

// NewMiningExtractor creates a MiningExtractor.
func NewMiningExtractor(logger *slog.Logger) *MiningExtractor {
	return &MiningExtractor{logger: logger}
}

// ExtractFile returns the mining-related features of one GeoJSON file, each
// annotated with its classification and source file. Files that are not
// feature collections yield no features.
func (e *MiningExtractor) ExtractFile(path string) ([]*Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		e.logger.Warn("not a feature collection, skipping", "path", path)
		return nil, nil
	}

	var matched []*Feature
	for _, f := range fc.Features {
		info := ClassifyMining(f.Properties)
		if !info.Matched {
			continue
		}
		props := make(map[string]any, len(f.Properties)+4)
		for k, v := range f.Properties {
			props[k] = v
		}
		props["mining_type"] = info.Type
		props["mining_confidence"] = info.Confidence
		props["mining_evidence"] = strings.Join(info.Evidence, "; ")
		props["source_file"] = filepath.Base(path)
		matched = append(matched, &Feature{
			Type:       "Feature",
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return matched, nil
}

// ExtractDirectory scans every .geojson file under dir. A file that fails to
// parse is logged and skipped rather than failing the run.
func (e *MiningExtractor) ExtractDirectory(dir string) (*MiningReport, error) {
	report := &MiningReport{
		Categories: make(map[string]int),
		Confidence: make(map[string]int),
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".geojson") {
			return nil
		}
		report.FilesProcessed++
		features, err := e.ExtractFile(path)
		if err != nil {
			e.logger.Error("extraction failed", "path", path, "error", err)
			return nil
		}
		for _, f := range features {
			category := "general"
			if t, _ := f.Properties["mining_type"].(string); t != "" {
				category = t
			}
			report.Categories[category]++
			if c, _ := f.Properties["mining_confidence"].(string); c != "" {
				report.Confidence[c]++
			}
		}
		report.Features = append(report.Features, features...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("mining extraction complete",
		"files", report.FilesProcessed, "features", len(report.Features))
	return report, nil
}

// Save writes the extracted features as a GeoJSON feature collection.
func (e *MiningExtractor) Save(path string, report *MiningReport) error {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Features: report.Features,
		Metadata: &Metadata{
			Generator:    "datacube mining extractor",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			FeatureCount: len(report.Features),
		},
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	e.logger.Info("saved mining features", "path", path, "count", len(report.Features))
	return nil
}
