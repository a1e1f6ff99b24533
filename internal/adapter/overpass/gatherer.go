package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/jonboulle/clockwork"
)

// Category is one named group of OSM tag filters gathered together.
type Category struct {
	Name         string
	ElementTypes []string
	Tags         []string
}

// Categories enumerates the feature groups gathered for the study region, in
// collection order.
func Categories() []Category {
	return []Category{
		{
			Name:         "roads",
			ElementTypes: []string{"way"},
			Tags: []string{
				"highway=motorway", "highway=trunk", "highway=primary",
				"highway=secondary", "highway=tertiary", "highway=residential",
				"highway=service", "highway=track", "highway=path",
				"highway=footway", "highway=cycleway",
			},
		},
		{
			Name:         "buildings",
			ElementTypes: []string{"way"},
			Tags: []string{
				"building", "building=yes", "building=house",
				"building=commercial", "building=industrial", "building=school",
				"building=hospital", "building=church",
			},
		},
		{
			Name:         "landuse",
			ElementTypes: []string{"way"},
			Tags: []string{
				"landuse=forest", "landuse=farmland", "landuse=residential",
				"landuse=commercial", "landuse=industrial",
				"landuse=recreation_ground", "landuse=cemetery",
				"landuse=meadow", "landuse=grass",
			},
		},
		{
			Name:         "natural",
			ElementTypes: []string{"way", "node"},
			Tags: []string{
				"natural=water", "natural=wood", "natural=grassland",
				"natural=scrub", "natural=bare_rock", "natural=peak",
				"natural=valley", "natural=ridge", "waterway=river",
				"waterway=stream", "waterway=creek",
			},
		},
		{
			Name:         "amenities",
			ElementTypes: []string{"way", "node"},
			Tags: []string{
				"amenity=restaurant", "amenity=fuel", "amenity=hospital",
				"amenity=school", "amenity=bank", "amenity=post_office",
				"amenity=parking", "amenity=toilets", "tourism=hotel",
				"tourism=motel", "tourism=campsite", "tourism=picnic_site",
				"tourism=viewpoint", "tourism=information", "shop",
			},
		},
		{
			Name:         "boundaries",
			ElementTypes: []string{"relation"},
			Tags: []string{
				"boundary=administrative", "boundary=national_park",
				"boundary=protected_area", "boundary=city", "boundary=county",
			},
		},
	}
}

// CategoryNames returns the gatherable category names in collection order.
func CategoryNames() []string {
	cats := Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names
}

// Summary records the outcome of a gathering run.
type Summary struct {
	CollectionDate time.Time         `json:"collection_date"`
	BBox           config.BBox       `json:"bbox"`
	Results        map[string]string `json:"results"` // category -> file path, empty on failure
	TotalFiles     int               `json:"total_files"`
}

// Gatherer collects OSM features per category and writes raw responses to
// timestamped JSON files under the output directory.
type Gatherer struct {
	client *Client
	bbox   config.BBox
	outDir string
	pause  time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewGatherer creates a Gatherer writing under outDir.
func NewGatherer(client *Client, cfg *config.Config, outDir string, logger *slog.Logger) *Gatherer {
	return &Gatherer{
		client: client,
		bbox:   config.BlackHills,
		outDir: outDir,
		pause:  cfg.OverpassPause,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
}

// Gather fetches one category and writes its raw response. It returns the
// written file path.
func (g *Gatherer) Gather(ctx context.Context, cat Category) (string, error) {
	g.logger.Info("gathering OSM data", "category", cat.Name, "tags", len(cat.Tags))
	query := BuildQuery(g.bbox, cat.ElementTypes, cat.Tags)
	resp, err := g.client.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("gathering %s: %w", cat.Name, err)
	}
	path, err := g.save(resp, cat.Name)
	if err != nil {
		return "", err
	}
	g.logger.Info("saved OSM elements",
		"category", cat.Name, "elements", len(resp.Elements), "path", path)
	return path, nil
}

// GatherByName fetches the named category.
func (g *Gatherer) GatherByName(ctx context.Context, name string) (string, error) {
	for _, cat := range Categories() {
		if cat.Name == name {
			return g.Gather(ctx, cat)
		}
	}
	return "", fmt.Errorf("unknown category %q", name)
}

// GatherAll fetches every category in order, pausing between requests to
// respect the service's fair-use policy. A failed category is recorded and
// skipped; the run continues. The returned Summary is also written to disk.
func (g *Gatherer) GatherAll(ctx context.Context) (*Summary, error) {
	g.logger.Info("starting OSM data collection",
		"bbox", g.bbox.OverpassString(), "output_dir", g.outDir)

	summary := &Summary{
		CollectionDate: g.clock.Now(),
		BBox:           g.bbox,
		Results:        make(map[string]string),
	}
	cats := Categories()
	for i, cat := range cats {
		path, err := g.Gather(ctx, cat)
		if err != nil {
			g.logger.Error("category gathering failed", "category", cat.Name, "error", err)
			summary.Results[cat.Name] = ""
		} else {
			summary.Results[cat.Name] = path
			summary.TotalFiles++
		}
		if i < len(cats)-1 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-g.clock.After(g.pause):
			}
		}
	}

	stamp := g.clock.Now().Format("20060102_150405")
	sumPath := filepath.Join(g.outDir, fmt.Sprintf("collection_summary_%s.json", stamp))
	if err := writeJSON(sumPath, summary); err != nil {
		return summary, err
	}
	g.logger.Info("collection complete",
		"gathered", summary.TotalFiles, "categories", len(cats), "summary", sumPath)
	return summary, nil
}

func (g *Gatherer) save(resp *Response, category string) (string, error) {
	dir := filepath.Join(g.outDir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	stamp := g.clock.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", category, stamp))
	if err := writeJSON(path, resp); err != nil {
		return "", err
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
