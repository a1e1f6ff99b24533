package earthengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	// TaskLimit is the concurrent export task ceiling. Submission blocks in a
	// poll-and-sleep loop while the remote count is at or above it.
	TaskLimit = 250

	// ProgressFileName holds the completed task keys inside the output
	// directory.
	ProgressFileName = "download_progress.json"

	throttleWait = 60 * time.Second

	// periodYears is the multi-year window each seasonal mean covers.
	periodYears = 3
)

// ErrNoImages reports a variable/model/scenario/period/season combination with
// zero matching source images. Such combinations are skipped, not fatal.
var ErrNoImages = errors.New("earthengine: no images match the export query")

// RunStats summarizes one batch export run.
type RunStats struct {
	Started int
	Skipped int
	NoData  []string
}

// Exporter submits seasonal mean exports for the cross-product of variables,
// models, scenarios, multi-year periods, and seasons. Completed task keys are
// persisted to a progress file so an interrupted run resumes without
// resubmitting.
type Exporter struct {
	svc       TaskService
	outDir    string
	region    config.BBox
	taskLimit int
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	completed map[string]bool
}

// NewExporter creates an Exporter writing progress under outDir. Any existing
// progress file is loaded immediately.
func NewExporter(svc TaskService, outDir string, logger *slog.Logger, metrics *observability.Metrics) (*Exporter, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	e := &Exporter{
		svc:       svc,
		outDir:    outDir,
		region:    config.BlackHills,
		taskLimit: TaskLimit,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
		completed: make(map[string]bool),
	}
	if err := e.loadProgress(); err != nil {
		return nil, err
	}
	return e, nil
}

// TaskKey builds the deterministic identifier for one export combination,
// e.g. "tasmax_GFDL-ESM2M_historical_1950_1952_DJF".
func TaskKey(variable, model, scenario string, year0, year1 int, season string) string {
	return fmt.Sprintf("%s_%s_%s_%d_%d_%s", variable, model, scenario, year0, year1, season)
}

func (e *Exporter) progressPath() string {
	return filepath.Join(e.outDir, ProgressFileName)
}

func (e *Exporter) loadProgress() error {
	data, err := os.ReadFile(e.progressPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading progress file: %w", err)
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parsing progress file: %w", err)
	}
	for _, k := range keys {
		e.completed[k] = true
	}
	e.logger.Info("loaded export progress", "completed", len(keys), "path", e.progressPath())
	return nil
}

func (e *Exporter) saveProgress() error {
	keys := make([]string, 0, len(e.completed))
	for k := range e.completed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(e.progressPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing progress file: %w", err)
	}
	return nil
}

// CompletedCount returns the number of recorded task keys.
func (e *Exporter) CompletedCount() int {
	return len(e.completed)
}

// exportOne submits a single combination unless it is already recorded. It
// returns ErrNoImages when the query matches nothing.
func (e *Exporter) exportOne(ctx context.Context, variable, model, scenario string, year0, year1 int, season string) error {
	key := TaskKey(variable, model, scenario, year0, year1, season)
	if e.completed[key] {
		if e.metrics != nil {
			e.metrics.ExportTasksSkipped.Inc()
		}
		return nil
	}

	q := ImageQuery{
		Variable:  variable,
		Model:     model,
		Scenario:  scenario,
		StartDate: fmt.Sprintf("%d-01-01", year0),
		EndDate:   fmt.Sprintf("%d-12-31", year1),
		Months:    config.Seasons[season].Months,
		Region:    e.region,
	}
	n, err := e.svc.CountImages(ctx, q)
	if err != nil {
		return fmt.Errorf("counting images for %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoImages, key)
	}

	req := ExportRequest{
		Query:       q,
		Description: key,
		Folder:      fmt.Sprintf("MACA_Seasonal/%s/%s/%s", scenario, model, variable),
		FilePrefix:  key,
	}
	name, err := e.svc.StartExport(ctx, req)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", key, err)
	}
	e.completed[key] = true
	if e.metrics != nil {
		e.metrics.ExportTasksSubmitted.Inc()
	}
	e.logger.Info("queued export task", "key", key, "operation", name)
	return nil
}

// throttle blocks while the remote active task count is at or above the
// ceiling, rechecking once a minute.
func (e *Exporter) throttle(ctx context.Context) error {
	for {
		active, err := e.svc.ActiveTaskCount(ctx)
		if err != nil {
			return fmt.Errorf("checking active tasks: %w", err)
		}
		if active < e.taskLimit {
			return nil
		}
		e.logger.Info("active task ceiling reached, waiting",
			"active", active, "limit", e.taskLimit, "wait", throttleWait)
		if e.metrics != nil {
			e.metrics.ExportThrottleWaits.Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(throttleWait):
		}
	}
}

// periods enumerates the multi-year windows covering a scenario's year range.
func periods(r config.YearRange) [][2]int {
	var out [][2]int
	for y0 := r.Start; y0 <= r.End; y0 += periodYears {
		y1 := y0 + periodYears - 1
		if y1 > r.End {
			y1 = r.End
		}
		out = append(out, [2]int{y0, y1})
	}
	return out
}

// processScenario walks every period and season for one variable/model/
// scenario combination.
func (e *Exporter) processScenario(ctx context.Context, stats *RunStats, variable, model, scenario string) error {
	r, ok := config.Scenarios[scenario]
	if !ok {
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	for _, p := range periods(r) {
		for _, season := range config.SeasonKeys() {
			key := TaskKey(variable, model, scenario, p[0], p[1], season)
			if e.completed[key] {
				stats.Skipped++
				if e.metrics != nil {
					e.metrics.ExportTasksSkipped.Inc()
				}
				continue
			}
			if err := e.throttle(ctx); err != nil {
				return err
			}
			err := e.exportOne(ctx, variable, model, scenario, p[0], p[1], season)
			if errors.Is(err, ErrNoImages) {
				e.logger.Warn("no data for combination", "key", key)
				stats.NoData = append(stats.NoData, key)
				continue
			}
			if err != nil {
				return err
			}
			stats.Started++
		}
	}
	return nil
}

// Run submits exports for the whole cross-product. Progress is persisted
// after every scenario so interruption loses at most one scenario's worth of
// bookkeeping.
func (e *Exporter) Run(ctx context.Context, variables, models, scenarios []string) (RunStats, error) {
	var stats RunStats
	if e.metrics != nil {
		e.metrics.ExportRunning.Set(1)
		defer e.metrics.ExportRunning.Set(0)
	}
	e.logger.Info("starting batch export",
		"variables", len(variables), "models", len(models), "scenarios", len(scenarios),
		"estimated_tasks", EstimateTasks(variables, models, scenarios))

	for _, v := range variables {
		for _, m := range models {
			for _, s := range scenarios {
				e.logger.Info("processing combination", "variable", v, "model", m, "scenario", s)
				if err := e.processScenario(ctx, &stats, v, m, s); err != nil {
					// Persist what we have before surfacing the failure.
					if saveErr := e.saveProgress(); saveErr != nil {
						e.logger.Error("saving progress failed", "error", saveErr)
					}
					return stats, err
				}
				if err := e.saveProgress(); err != nil {
					return stats, err
				}
			}
		}
	}
	e.logger.Info("batch export complete",
		"started", stats.Started, "skipped", stats.Skipped, "no_data", len(stats.NoData))
	return stats, e.saveProgress()
}

// EstimateTasks computes the task count a run would submit, ignoring progress
// and data availability. Used by dry-run mode, which never contacts the
// remote service.
func EstimateTasks(variables, models, scenarios []string) int {
	perCombo := 0
	for _, s := range scenarios {
		r, ok := config.Scenarios[s]
		if !ok {
			continue
		}
		years := r.End - r.Start + 1
		windows := (years + periodYears - 1) / periodYears
		perCombo += windows * len(config.SeasonKeys())
	}
	return perCombo * len(variables) * len(models)
}

// Status reports the remote active task count and the locally recorded
// completed count.
func (e *Exporter) Status(ctx context.Context) (active, completed int, err error) {
	active, err = e.svc.ActiveTaskCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return active, len(e.completed), nil
}
