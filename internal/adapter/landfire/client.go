// Package landfire downloads vegetation raster layers through the LANDFIRE
// Product Service (LFPS) job API: submit a clip job for the study region,
// poll until it finishes, download and extract the resulting GeoTIFF.
package landfire

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	pollInterval = 15 * time.Second
	pollLimit    = 80 // ~20 minutes

	statusSucceeded = "esriJobSucceeded"
	statusFailed    = "esriJobFailed"
)

// ErrJobFailed reports a remote processing job that ended unsuccessfully.
var ErrJobFailed = errors.New("landfire: processing job failed")

// Client fetches LANDFIRE layers for the study region.
type Client struct {
	baseURL    string
	dataDir    string
	region     config.BBox
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a LANDFIRE client writing downloads under dataDir.
func NewClient(cfg *config.Config, dataDir string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL:    cfg.LandfireBaseURL,
		dataDir:    dataDir,
		region:     config.BlackHills,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		clock:      clockwork.NewRealClock(),
		logger:     logger,
		metrics:    metrics,
	}
}

// LayerID normalizes a layer name to its full versioned identifier, e.g.
// "EVT" becomes "220EVT" for the 2020 Existing Vegetation Type layer.
func LayerID(layer string) string {
	if strings.HasPrefix(layer, config.LandfireVersion) {
		return layer
	}
	return config.LandfireVersion + layer
}

// Fetch downloads the layer and returns the path to the extracted GeoTIFF.
// An already-downloaded layer is reused unless force is set.
func (c *Client) Fetch(ctx context.Context, layer string, force bool) (string, error) {
	id := LayerID(layer)
	zipPath := filepath.Join(c.dataDir, fmt.Sprintf("landfire_%s.zip", id))

	if !force {
		if tif, err := c.findTIFF(id); err == nil {
			c.logger.Info("using existing LANDFIRE data", "layer", id, "path", tif)
			return tif, nil
		}
		if _, err := os.Stat(zipPath); err == nil {
			c.logger.Info("using existing LANDFIRE archive", "layer", id, "path", zipPath)
			return c.extract(zipPath, id)
		}
	}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	jobID, err := c.submitJob(ctx, id)
	if err != nil {
		return "", err
	}
	c.logger.Info("submitted LANDFIRE job", "layer", id, "job_id", jobID)

	downloadURL, err := c.waitForJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if err := c.download(ctx, downloadURL, zipPath); err != nil {
		return "", err
	}
	return c.extract(zipPath, id)
}

func (c *Client) submitJob(ctx context.Context, layerID string) (string, error) {
	params := url.Values{
		"f":                 {"json"},
		"Layer_List":        {layerID},
		"Area_of_Interest":  {c.region.String()},
		"Output_Projection": {"4326"},
	}
	u := fmt.Sprintf("%s/submitJob?%s", c.baseURL, params.Encode())

	var out struct {
		JobID     string `json:"jobId"`
		JobStatus string `json:"jobStatus"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", fmt.Errorf("submitting job: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("landfire: submit returned no job ID (status %q)", out.JobStatus)
	}
	return out.JobID, nil
}

// waitForJob polls until the job succeeds and returns the result URL.
func (c *Client) waitForJob(ctx context.Context, jobID string) (string, error) {
	u := fmt.Sprintf("%s/jobs/%s?f=json", c.baseURL, url.PathEscape(jobID))
	for i := 0; i < pollLimit; i++ {
		var out struct {
			JobStatus string `json:"jobStatus"`
			Results   map[string]struct {
				ParamURL string `json:"paramUrl"`
			} `json:"results"`
			Messages []struct {
				Description string `json:"description"`
			} `json:"messages"`
		}
		if err := c.getJSON(ctx, u, &out); err != nil {
			return "", fmt.Errorf("polling job %s: %w", jobID, err)
		}
		switch out.JobStatus {
		case statusSucceeded:
			r, ok := out.Results["Output_File"]
			if !ok {
				return "", fmt.Errorf("landfire: job %s succeeded without an output file", jobID)
			}
			return c.resultURL(ctx, jobID, r.ParamURL)
		case statusFailed:
			msg := ""
			if len(out.Messages) > 0 {
				msg = out.Messages[len(out.Messages)-1].Description
			}
			return "", fmt.Errorf("%w: %s: %s", ErrJobFailed, jobID, msg)
		}
		c.logger.Info("waiting for LANDFIRE job", "job_id", jobID, "status", out.JobStatus)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.clock.After(pollInterval):
		}
	}
	return "", fmt.Errorf("landfire: job %s did not finish within %s", jobID, pollLimit*pollInterval)
}

func (c *Client) resultURL(ctx context.Context, jobID, paramURL string) (string, error) {
	u := fmt.Sprintf("%s/jobs/%s/%s?f=json", c.baseURL, url.PathEscape(jobID), paramURL)
	var out struct {
		Value struct {
			URL string `json:"url"`
		} `json:"value"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return "", fmt.Errorf("fetching result of job %s: %w", jobID, err)
	}
	if out.Value.URL == "" {
		return "", fmt.Errorf("landfire: job %s result carries no download URL", jobID)
	}
	return out.Value.URL, nil
}

func (c *Client) download(ctx context.Context, downloadURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues("landfire").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("landfire", "error").Inc()
		}
		return fmt.Errorf("downloading %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("landfire", "error").Inc()
		}
		return fmt.Errorf("landfire download error: status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if c.metrics != nil {
		c.metrics.FetchRequests.WithLabelValues("landfire", "success").Inc()
	}
	c.logger.Info("downloaded LANDFIRE archive", "path", dest, "bytes", n)
	return nil
}

// extract unpacks the archive and returns the first contained GeoTIFF.
func (c *Client) extract(zipPath, layerID string) (string, error) {
	outDir := filepath.Join(c.dataDir, "extracted", layerID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		dest := filepath.Join(outDir, name)
		if err := extractFile(f, dest); err != nil {
			return "", err
		}
	}
	tif, err := c.findTIFF(layerID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", zipPath, err)
	}
	c.logger.Info("extracted LANDFIRE data", "layer", layerID, "tiff", tif)
	return tif, nil
}

func (c *Client) findTIFF(layerID string) (string, error) {
	dir := filepath.Join(c.dataDir, "extracted", layerID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tif") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.New("no GeoTIFF found in extracted data")
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues("landfire").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("landfire", "error").Inc()
		}
		return fmt.Errorf("landfire request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("landfire", "error").Inc()
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("landfire API error: status %d: %s", resp.StatusCode, body)
	}
	if c.metrics != nil {
		c.metrics.FetchRequests.WithLabelValues("landfire", "success").Inc()
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
