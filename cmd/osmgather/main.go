// Command osmgather collects OpenStreetMap infrastructure data for the Black
// Hills region through the Overpass API and converts the raw responses to
// GeoJSON. With -input it converts existing raw files instead of gathering.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	kafkaadapter "github.com/blackhillsgeo/datacube/internal/adapter/kafka"
	"github.com/blackhillsgeo/datacube/internal/adapter/overpass"
	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/blackhillsgeo/datacube/internal/osm"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		outDir   = flag.String("out", "data/osm", "output directory for raw responses")
		category = flag.String("category", "", "single category to gather (default: all)")
		convert  = flag.Bool("convert", false, "convert gathered responses to GeoJSON")
		input    = flag.String("input", "", "convert this raw JSON file or directory instead of gathering")
		publish  = flag.Bool("publish", false, "publish converted features to the Kafka sink")
		summary  = flag.Bool("summary", false, "print statistics for converted GeoJSON and exit")
		mines    = flag.Bool("mines", false, "extract mining-related features from converted GeoJSON and exit")
		geoDir   = flag.String("geojson-dir", "data/osm/geojson", "converted GeoJSON directory for -summary and -mines")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if *publish && !cfg.KafkaEnabled {
		logger.Error("-publish requires KAFKA_BROKERS")
		return 1
	}

	if *summary {
		return printSummary(logger, *geoDir)
	}
	if *mines {
		return extractMines(logger, *geoDir, *outDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &gatherApp{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		converter: osm.NewConverter(logger),
	}

	if *input != "" {
		return app.convertAndPublish(ctx, *input, *publish)
	}

	client := overpass.NewClient(cfg, logger, metrics)
	gatherer := overpass.NewGatherer(client, cfg, *outDir, logger)

	var gathered []string
	if *category != "" {
		path, err := gatherer.GatherByName(ctx, *category)
		if err != nil {
			logger.Error("gathering failed", "category", *category, "error", err)
			return 1
		}
		gathered = append(gathered, path)
	} else {
		summary, err := gatherer.GatherAll(ctx)
		if err != nil {
			logger.Error("gathering failed", "error", err)
			return 1
		}
		for _, path := range summary.Results {
			if path != "" {
				gathered = append(gathered, path)
			}
		}
		fmt.Printf("gathered %d of %d categories\n", summary.TotalFiles, len(overpass.CategoryNames()))
	}

	if !*convert && !*publish {
		return 0
	}
	for _, path := range gathered {
		if code := app.convertAndPublish(ctx, path, *publish); code != 0 {
			return code
		}
	}
	return 0
}

type gatherApp struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	converter *osm.Converter
}

// convertAndPublish converts a raw response file or directory to GeoJSON and
// optionally pushes the features to the Kafka sink.
func (a *gatherApp) convertAndPublish(ctx context.Context, input string, publish bool) int {
	info, err := os.Stat(input)
	if err != nil {
		a.logger.Error("reading input", "path", input, "error", err)
		return 1
	}

	var outputs []string
	if info.IsDir() {
		results, err := a.converter.ConvertDirectory(input, "")
		if err != nil {
			a.logger.Error("directory conversion failed", "path", input, "error", err)
			return 1
		}
		for _, out := range results {
			if out != "" {
				outputs = append(outputs, out)
			}
		}
	} else {
		out, err := a.converter.ConvertFile(input, "")
		if err != nil {
			a.logger.Error("conversion failed", "path", input, "error", err)
			return 1
		}
		outputs = append(outputs, out)
	}
	fmt.Printf("converted %d file(s)\n", len(outputs))

	if !publish {
		return 0
	}
	writer := kafkaadapter.NewWriter(a.cfg, a.logger, a.metrics)
	defer writer.Close()
	for _, path := range outputs {
		if err := publishFile(ctx, writer, path); err != nil {
			a.logger.Error("publish failed", "path", path, "error", err)
			return 1
		}
	}
	return 0
}

// printSummary reports feature, geometry, and tag statistics per category.
func printSummary(logger *slog.Logger, dir string) int {
	s, err := osm.SummarizeDirectory(dir)
	if err != nil {
		logger.Error("summarizing failed", "dir", dir, "error", err)
		return 1
	}
	fmt.Printf("total features: %d across %d categories (%.2f MB)\n",
		s.TotalFeatures, len(s.Categories), float64(s.TotalBytes)/(1024*1024))

	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := s.Categories[name]
		fmt.Printf("\n%s: %d features, %.2f MB\n", name, c.FeatureCount, float64(c.SizeBytes)/(1024*1024))
		for geomType, n := range c.GeometryTypes {
			fmt.Printf("  %s: %d\n", geomType, n)
		}
		tags := make([]string, 0, len(c.TopTags))
		for tag := range c.TopTags {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Printf("  %s:", tag)
			for _, tc := range c.TopTags[tag] {
				fmt.Printf(" %s(%d)", tc.Value, tc.Count)
			}
			fmt.Println()
		}
	}
	return 0
}

// extractMines scans converted GeoJSON for mining-related features and
// writes them to mining_features.geojson under outDir.
func extractMines(logger *slog.Logger, dir, outDir string) int {
	e := osm.NewMiningExtractor(logger)
	report, err := e.ExtractDirectory(dir)
	if err != nil {
		logger.Error("mining extraction failed", "dir", dir, "error", err)
		return 1
	}
	fmt.Printf("found %d mining-related features in %d files\n",
		len(report.Features), report.FilesProcessed)
	for _, level := range []string{osm.ConfidenceHigh, osm.ConfidenceMedium, osm.ConfidenceLow} {
		if n := report.Confidence[level]; n > 0 {
			fmt.Printf("  %s confidence: %d\n", level, n)
		}
	}
	categories := make([]string, 0, len(report.Categories))
	for cat := range report.Categories {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		fmt.Printf("  %s: %d\n", cat, report.Categories[cat])
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Error("creating output directory", "path", outDir, "error", err)
		return 1
	}
	out := filepath.Join(outDir, "mining_features.geojson")
	if err := e.Save(out, report); err != nil {
		logger.Error("saving mining features", "path", out, "error", err)
		return 1
	}
	fmt.Println("mining features written to", out)
	return 0
}

func publishFile(ctx context.Context, writer *kafkaadapter.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc osm.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	// Converted files keep the "<category>_<timestamp>.geojson" naming.
	category := strings.SplitN(filepath.Base(path), "_", 2)[0]
	return writer.WriteFeatures(ctx, category, &fc)
}
