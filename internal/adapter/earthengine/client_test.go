package earthengine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPTestClient(serverURL string) *Client {
	cfg := &config.Config{
		EEBaseURL: serverURL,
		EEProject: "test-project",
		EEToken:   "token123",
	}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func testQuery() ImageQuery {
	return ImageQuery{
		Variable:  "tasmax",
		Model:     "GFDL-ESM2M",
		Scenario:  "historical",
		StartDate: "1950-01-01",
		EndDate:   "1952-12-31",
		Months:    []int{12, 1, 2},
		Region:    config.BlackHills,
	}
}

func TestClient_CountImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "test-project")
		assert.Contains(t, r.URL.RawQuery, "filter=")
		w.Write([]byte(`{"images": [{"name": "a"}, {"name": "b"}, {"name": "c"}]}`))
	}))
	defer server.Close()

	c := newHTTPTestClient(server.URL)
	n, err := c.CountImages(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClient_CountImagesEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images": []}`))
	}))
	defer server.Close()

	n, err := newHTTPTestClient(server.URL).CountImages(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_StartExport(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"name": "projects/test-project/operations/op1"}`))
	}))
	defer server.Close()

	c := newHTTPTestClient(server.URL)
	name, err := c.StartExport(context.Background(), ExportRequest{
		Query:       testQuery(),
		Description: "tasmax_GFDL-ESM2M_historical_1950_1952_DJF",
		Folder:      "MACA_Seasonal/historical/GFDL-ESM2M/tasmax",
		FilePrefix:  "tasmax_GFDL-ESM2M_historical_1950_1952_DJF",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/test-project/operations/op1", name)
	assert.Equal(t, "tasmax_GFDL-ESM2M_historical_1950_1952_DJF", got["description"])
	assert.EqualValues(t, ExportMaxPixels, got["maxPixels"])
}

func TestClient_ActiveTaskCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operations": [
			{"name": "op1", "done": false},
			{"name": "op2", "done": true},
			{"name": "op3", "done": false}
		]}`))
	}))
	defer server.Close()

	n, err := newHTTPTestClient(server.URL).ActiveTaskCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid credentials"}`))
	}))
	defer server.Close()

	_, err := newHTTPTestClient(server.URL).ActiveTaskCount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
