package landfire

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipWithTIFF(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte("not a real tiff"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newFetchTestServer(t *testing.T, polls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/submitJob", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "220EVT", r.URL.Query().Get("Layer_List"))
		assert.Equal(t, config.BlackHills.String(), r.URL.Query().Get("Area_of_Interest"))
		w.Write([]byte(`{"jobId": "j123", "jobStatus": "esriJobSubmitted"}`))
	})
	mux.HandleFunc("/jobs/j123", func(w http.ResponseWriter, r *http.Request) {
		*polls++
		w.Write([]byte(`{"jobStatus": "esriJobSucceeded",
			"results": {"Output_File": {"paramUrl": "results/Output_File"}}}`))
	})
	mux.HandleFunc("/jobs/j123/results/Output_File", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": {"url": "` + server.URL + `/download.zip"}}`))
	})
	mux.HandleFunc("/download.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipWithTIFF(t, "US_220EVT.tif"))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newFetchTestClient(serverURL, dataDir string) *Client {
	cfg := &config.Config{LandfireBaseURL: serverURL}
	return NewClient(cfg, dataDir, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestLayerID(t *testing.T) {
	assert.Equal(t, "220EVT", LayerID("EVT"))
	assert.Equal(t, "220EVT", LayerID(config.LayerEVT))
}

func TestClient_Fetch(t *testing.T) {
	polls := 0
	server := newFetchTestServer(t, &polls)
	dir := t.TempDir()

	c := newFetchTestClient(server.URL, dir)
	tif, err := c.Fetch(context.Background(), config.LayerEVT, false)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "extracted", "220EVT", "US_220EVT.tif"), tif)
	assert.FileExists(t, tif)
	assert.FileExists(t, filepath.Join(dir, "landfire_220EVT.zip"))
	assert.Equal(t, 1, polls)
}

func TestClient_FetchReusesExtractedData(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "extracted", "220EVT")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "US_220EVT.tif"), []byte("x"), 0o644))

	// No server: a network call would fail the test.
	c := newFetchTestClient("http://127.0.0.1:0", dir)
	tif, err := c.Fetch(context.Background(), config.LayerEVT, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(existing, "US_220EVT.tif"), tif)
}

func TestClient_FetchForceRedownloads(t *testing.T) {
	polls := 0
	server := newFetchTestServer(t, &polls)
	dir := t.TempDir()
	existing := filepath.Join(dir, "extracted", "220EVT")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "stale.tif"), []byte("old"), 0o644))

	c := newFetchTestClient(server.URL, dir)
	_, err := c.Fetch(context.Background(), config.LayerEVT, true)
	require.NoError(t, err)
	assert.Equal(t, 1, polls, "force must go back to the service")
}

func TestClient_FetchJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submitJob", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobId": "j9", "jobStatus": "esriJobSubmitted"}`))
	})
	mux.HandleFunc("/jobs/j9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobStatus": "esriJobFailed",
			"messages": [{"description": "layer unavailable"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newFetchTestClient(server.URL, t.TempDir())
	_, err := c.Fetch(context.Background(), config.LayerEVT, false)
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "layer unavailable")
}
