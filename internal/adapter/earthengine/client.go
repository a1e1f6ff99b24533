// Package earthengine drives MACA v2 seasonal batch exports through an Earth
// Engine style REST API: image counting, export task submission, and active
// task polling.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
)

// Collection is the MACA v2 image collection asset ID.
const Collection = "IDAHO_EPSCOR/MACAv2_METDATA"

// Export geometry and format parameters, fixed for every task.
const (
	ExportScale     = 4000 // meters
	ExportMaxPixels = 1_000_000_000
)

// ImageQuery selects a subset of the collection.
type ImageQuery struct {
	Variable  string
	Model     string
	Scenario  string
	StartDate string // YYYY-MM-DD
	EndDate   string
	Months    []int
	Region    config.BBox
}

// ExportRequest describes one export task.
type ExportRequest struct {
	Query       ImageQuery
	Description string
	Folder      string
	FilePrefix  string
}

// TaskService is the remote surface the batch exporter needs. Implemented by
// Client; faked in tests.
type TaskService interface {
	CountImages(ctx context.Context, q ImageQuery) (int, error)
	StartExport(ctx context.Context, req ExportRequest) (string, error)
	ActiveTaskCount(ctx context.Context) (int, error)
}

// Client talks to the Earth Engine REST API.
type Client struct {
	baseURL    string
	project    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an Earth Engine client from the service configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL:    cfg.EEBaseURL,
		project:    cfg.EEProject,
		token:      cfg.EEToken,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
		metrics:    metrics,
	}
}

func (q ImageQuery) filter() string {
	return fmt.Sprintf("properties.model = %q AND properties.scenario = %q", q.Model, q.Scenario)
}

// CountImages returns the number of collection images matching the query.
func (c *Client) CountImages(ctx context.Context, q ImageQuery) (int, error) {
	params := url.Values{
		"filter":    {q.filter()},
		"startTime": {q.StartDate + "T00:00:00Z"},
		"endTime":   {q.EndDate + "T23:59:59Z"},
		"region":    {q.Region.String()},
		"view":      {"BASIC"},
	}
	u := fmt.Sprintf("%s/projects/%s/assets/%s:listImages?%s",
		c.baseURL, c.project, url.PathEscape(Collection), params.Encode())

	var out struct {
		Images []struct {
			Name string `json:"name"`
		} `json:"images"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return 0, fmt.Errorf("listing images: %w", err)
	}
	return len(out.Images), nil
}

// StartExport submits an export task and returns the remote operation name.
func (c *Client) StartExport(ctx context.Context, req ExportRequest) (string, error) {
	body := map[string]any{
		"expression": map[string]any{
			"collection": Collection,
			"filter":     req.Query.filter(),
			"select":     []string{req.Query.Variable},
			"startTime":  req.Query.StartDate,
			"endTime":    req.Query.EndDate,
			"months":     req.Query.Months,
			"reducer":    "mean",
		},
		"description": req.Description,
		"fileExportOptions": map[string]any{
			"fileFormat": "GEO_TIFF",
			"driveDestination": map[string]any{
				"folder":         req.Folder,
				"filenamePrefix": req.FilePrefix,
			},
			"geoTiffOptions": map[string]any{"cloudOptimized": true},
		},
		"grid": map[string]any{
			"scale":  ExportScale,
			"region": req.Query.Region.String(),
		},
		"maxPixels": ExportMaxPixels,
	}
	u := fmt.Sprintf("%s/projects/%s/image:export", c.baseURL, c.project)

	var out struct {
		Name string `json:"name"`
	}
	if err := c.doJSON(ctx, http.MethodPost, u, body, &out); err != nil {
		return "", fmt.Errorf("starting export %s: %w", req.Description, err)
	}
	return out.Name, nil
}

// ActiveTaskCount returns the number of not-yet-finished export operations.
func (c *Client) ActiveTaskCount(ctx context.Context) (int, error) {
	u := fmt.Sprintf("%s/projects/%s/operations", c.baseURL, c.project)

	var out struct {
		Operations []struct {
			Name string `json:"name"`
			Done bool   `json:"done"`
		} `json:"operations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return 0, fmt.Errorf("listing operations: %w", err)
	}
	active := 0
	for _, op := range out.Operations {
		if !op.Done {
			active++
		}
	}
	return active, nil
}

func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues("earthengine").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("earthengine", "error").Inc()
		}
		return fmt.Errorf("earthengine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("earthengine", "error").Inc()
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("earthengine API error: status %d: %s", resp.StatusCode, msg)
	}
	if c.metrics != nil {
		c.metrics.FetchRequests.WithLabelValues("earthengine", "success").Inc()
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
