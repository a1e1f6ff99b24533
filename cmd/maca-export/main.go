// Command maca-export submits seasonal-mean export tasks for MACA v2 climate
// projections over the Black Hills study region. Progress is persisted in the
// output directory, so an interrupted batch resumes where it stopped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blackhillsgeo/datacube/internal/adapter/earthengine"
	httpadapter "github.com/blackhillsgeo/datacube/internal/adapter/http"
	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		variables    = flag.String("variables", strings.Join(config.DefaultVariables, ","), "comma-separated climate variables")
		models       = flag.String("models", strings.Join(config.DefaultModels, ","), "comma-separated climate models")
		scenarios    = flag.String("scenarios", "historical,rcp45,rcp85", "comma-separated scenarios")
		allVariables = flag.Bool("all-variables", false, "export every known variable")
		allModels    = flag.Bool("all-models", false, "export every known model")
		outputDir    = flag.String("output-dir", "data/maca", "directory for the progress file")
		dryRun       = flag.Bool("dry-run", false, "estimate the task count and exit")
		checkStatus  = flag.Bool("check-status", false, "report task status and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	logger := observability.NewLogger(cfg)

	vars := splitList(*variables)
	if *allVariables {
		vars = config.AllVariables
	}
	mods := splitList(*models)
	if *allModels {
		mods = config.AllModels
	}
	scens := splitList(*scenarios)

	if *dryRun {
		n := earthengine.EstimateTasks(vars, mods, scens)
		fmt.Printf("would submit %d export tasks (%d variables x %d models, scenarios: %s)\n",
			n, len(vars), len(mods), strings.Join(scens, ", "))
		return 0
	}

	if cfg.EEProject == "" || cfg.EEToken == "" {
		logger.Error("EE_PROJECT and EE_TOKEN must be set")
		return 1
	}
	metrics := observability.NewMetrics()

	client := earthengine.NewClient(cfg, logger, metrics)
	exporter, err := earthengine.NewExporter(client, *outputDir, logger, metrics)
	if err != nil {
		logger.Error("exporter setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *checkStatus {
		active, completed, err := exporter.Status(ctx)
		if err != nil {
			logger.Error("status check failed", "error", err)
			return 1
		}
		fmt.Printf("active tasks: %d\ncompleted locally: %d\n", active, completed)
		return 0
	}

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, httpadapter.DataDirCheck{Dir: *outputDir}, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	stats, err := exporter.Run(ctx, vars, mods, scens)
	if err != nil {
		logger.Error("batch export failed", "error", err,
			"started", stats.Started, "skipped", stats.Skipped)
		return 1
	}

	fmt.Printf("export complete: %d started, %d already done, %d combinations without data\n",
		stats.Started, stats.Skipped, len(stats.NoData))
	for _, key := range stats.NoData {
		fmt.Println("  no data:", key)
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
