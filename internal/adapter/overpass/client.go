package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/cenkalti/backoff/v4"
)

const userAgent = "blackhills-datacube/1.0"

// Element is one raw OSM element from an Overpass response. Geometry is only
// populated for ways queried with "out geom"; relations carry Bounds instead.
type Element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat,omitempty"`
	Lon      float64           `json:"lon,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Geometry []Coordinate      `json:"geometry,omitempty"`
	Bounds   *Bounds           `json:"bounds,omitempty"`
}

// Coordinate is one vertex of a way geometry.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is a relation's bounding rectangle.
type Bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// Response is a decoded Overpass API payload.
type Response struct {
	Version   float64           `json:"version"`
	Generator string            `json:"generator"`
	OSM3S     map[string]string `json:"osm3s,omitempty"`
	Elements  []Element         `json:"elements"`
}

// Client queries an Overpass API endpoint with retry on transient failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an Overpass client from the service configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL: cfg.OverpassURL,
		httpClient: &http.Client{
			Timeout: cfg.OverpassTimeout,
		},
		maxRetries: cfg.OverpassRetries,
		logger:     logger,
		metrics:    metrics,
	}
}

// BuildQuery assembles an Overpass QL query selecting every elementType[tag]
// combination inside the bounding box, with way geometry included.
func BuildQuery(bbox config.BBox, elementTypes []string, tags []string) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:300];\n(\n")
	for _, et := range elementTypes {
		for _, tag := range tags {
			fmt.Fprintf(&b, "%s[%s](%s);\n", et, tag, bbox.OverpassString())
		}
	}
	b.WriteString(");\nout geom;\n")
	return b.String()
}

// Query posts the query and returns the decoded response. Transient failures
// retry with exponential backoff (1s, 2s, 4s, ...) up to the configured retry
// ceiling; after that the last error is returned.
func (c *Client) Query(ctx context.Context, query string) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 10 * time.Minute

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		c.logger.Info("executing overpass query", "attempt", attempt, "max_attempts", c.maxRetries)
		start := time.Now()
		r, err := c.doQuery(ctx, query)
		if c.metrics != nil {
			c.metrics.FetchDuration.WithLabelValues("overpass").Observe(time.Since(start).Seconds())
		}
		if err != nil {
			c.logger.Warn("overpass request failed", "attempt", attempt, "error", err)
			if c.metrics != nil {
				c.metrics.FetchRequests.WithLabelValues("overpass", "error").Inc()
				if attempt < c.maxRetries {
					c.metrics.FetchRetries.WithLabelValues("overpass").Inc()
				}
			}
			return err
		}
		if c.metrics != nil {
			c.metrics.FetchRequests.WithLabelValues("overpass", "success").Inc()
		}
		resp = r
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("overpass query failed after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func (c *Client) doQuery(ctx context.Context, query string) (*Response, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("overpass API error: status %d: %s", resp.StatusCode, body)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
