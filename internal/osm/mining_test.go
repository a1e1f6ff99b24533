package osm

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor() *MiningExtractor {
	return NewMiningExtractor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pointFeature(t *testing.T, id int64, props map[string]any) *Feature {
	t.Helper()
	g, err := geojson.ToGeoJSON(geom.Point{X: -103.75, Y: 44.35})
	require.NoError(t, err)
	all := map[string]any{"osm_id": id, "osm_type": "node"}
	for k, v := range props {
		all[k] = v
	}
	return &Feature{Type: "Feature", Geometry: g, Properties: all}
}

func writeCollection(t *testing.T, path string, features ...*Feature) {
	t.Helper()
	fc := &FeatureCollection{Type: "FeatureCollection", Features: features}
	data, err := json.MarshalIndent(fc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestClassifyMining_DirectTag(t *testing.T) {
	info := ClassifyMining(map[string]any{"landuse": "quarry", "name": "Rapid City Aggregate"})

	assert.True(t, info.Matched)
	assert.Equal(t, "landuse:quarry", info.Type)
	assert.Equal(t, ConfidenceHigh, info.Confidence)
	assert.Contains(t, info.Evidence, "direct tag landuse=quarry")
}

func TestClassifyMining_NameKeyword(t *testing.T) {
	info := ClassifyMining(map[string]any{"name": "Homestake Gold Mine", "tourism": "attraction"})

	assert.True(t, info.Matched)
	assert.Empty(t, info.Type)
	assert.Equal(t, ConfidenceMedium, info.Confidence)
	assert.Contains(t, info.Evidence, "keyword in name: Homestake Gold Mine")
}

func TestClassifyMining_AddressKeyword(t *testing.T) {
	info := ClassifyMining(map[string]any{"addr:street": "Miners Avenue"})

	assert.True(t, info.Matched)
	assert.Equal(t, ConfidenceLow, info.Confidence)
	assert.Contains(t, info.Evidence, "address keyword in addr:street: Miners Avenue")
}

func TestClassifyMining_GeologyTermIsEvidenceOnly(t *testing.T) {
	info := ClassifyMining(map[string]any{"note": "pegmatite outcrop nearby"})

	assert.False(t, info.Matched)
	require.Len(t, info.Evidence, 1)
	assert.Contains(t, info.Evidence[0], "geological term in note")
}

func TestClassifyMining_Unrelated(t *testing.T) {
	info := ClassifyMining(map[string]any{"amenity": "school", "name": "West Elementary"})

	assert.False(t, info.Matched)
	assert.Equal(t, ConfidenceLow, info.Confidence)
	assert.Empty(t, info.Evidence)
}

func TestExtractDirectory(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "landuse", "landuse_20240101_120000.geojson"),
		pointFeature(t, 1, map[string]any{"landuse": "quarry", "name": "Open Cut"}),
		pointFeature(t, 2, map[string]any{"landuse": "meadow"}),
	)
	writeCollection(t, filepath.Join(dir, "natural", "natural_20240101_120000.geojson"),
		pointFeature(t, 3, map[string]any{"name": "Spearfish Creek"}),
		pointFeature(t, 4, map[string]any{"name": "Old Tailings Pond"}),
	)

	report, err := newTestExtractor().ExtractDirectory(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, report.FilesProcessed)
	require.Len(t, report.Features, 2)
	assert.Equal(t, map[string]int{"landuse:quarry": 1, "general": 1}, report.Categories)
	assert.Equal(t, map[string]int{ConfidenceHigh: 1, ConfidenceMedium: 1}, report.Confidence)

	quarry := report.Features[0]
	assert.Equal(t, "landuse:quarry", quarry.Properties["mining_type"])
	assert.Equal(t, ConfidenceHigh, quarry.Properties["mining_confidence"])
	assert.Equal(t, "landuse_20240101_120000.geojson", quarry.Properties["source_file"])
	assert.Contains(t, quarry.Properties["mining_evidence"], "direct tag landuse=quarry")
}

func TestExtractFile_SkipsNonCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "Feature"}`), 0o644))

	features, err := newTestExtractor().ExtractFile(path)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestExtractDirectory_BadFileDoesNotStopRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.geojson"), []byte("{"), 0o644))
	writeCollection(t, filepath.Join(dir, "good.geojson"),
		pointFeature(t, 5, map[string]any{"man_made": "mineshaft"}),
	)

	report, err := newTestExtractor().ExtractDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Len(t, report.Features, 1)
}

func TestMiningExtractor_Save(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "landuse.geojson"),
		pointFeature(t, 6, map[string]any{"historic": "mine", "name": "Bullion Shaft"}),
	)
	e := newTestExtractor()
	report, err := e.ExtractDirectory(dir)
	require.NoError(t, err)

	out := filepath.Join(dir, "mining_features.geojson")
	require.NoError(t, e.Save(out, report))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "historic:mine", fc.Features[0].Properties["mining_type"])
	require.NotNil(t, fc.Metadata)
	assert.Equal(t, 1, fc.Metadata.FeatureCount)
}
